package offsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// WriterOptions configures a PatchWriter.
type WriterOptions struct {
	PatchDir   string
	ExportMode ExportMode
	Encrypt    bool
	Passphrase string
	// VerifyPayloads stores the SHA-256 of each staged payload in the manifest.
	VerifyPayloads bool
	Workers        int
	Retry          RetryPolicy
	Hooks
}

func (o WriterOptions) validate() error {
	if o.PatchDir == "" {
		return errors.New("patch directory is required")
	}
	switch o.ExportMode {
	case ExportCopy, ExportHardLink, ExportPreferHardLink, ExportScript:
	default:
		return fmt.Errorf("unknown export mode: %q", o.ExportMode)
	}
	if o.Encrypt && o.ExportMode != ExportCopy {
		return fmt.Errorf("encryption requires export mode %q, got %q", ExportCopy, o.ExportMode)
	}
	if o.Encrypt && o.Passphrase == "" {
		return ErrPasswordRequired
	}
	return nil
}

// PatchWriter stages the payloads of a manifest into a patch directory and writes the
// manifest next to them.
type PatchWriter struct {
	fs        afero.Fs
	transfer  FileTransfer
	linker    HardLinker
	encryptor Encryptor
	store     PackageStore
	logger    Logger
	opts      WriterOptions
}

// NewPatchWriter creates a PatchWriter. linker and encryptor may be nil when the
// options never need them.
func NewPatchWriter(fsys afero.Fs, transfer FileTransfer, linker HardLinker, encryptor Encryptor, store PackageStore, logger Logger, opts WriterOptions) *PatchWriter {
	if opts.ExportMode == "" {
		opts.ExportMode = ExportCopy
	}
	return &PatchWriter{
		fs:        fsys,
		transfer:  transfer,
		linker:    linker,
		encryptor: encryptor,
		store:     store,
		logger:    logger,
		opts:      opts,
	}
}

// Write stages every checked Add/Modify record of m, reading sources from the mapped
// local roots, and serializes m into the patch directory. Unchecked records are dropped
// from m. Per-record failures are reported on the records; the returned error is
// reserved for conditions that stop the whole run.
func (w *PatchWriter) Write(ctx context.Context, m *Manifest, mappings []RootMapping) (*Report, error) {
	if err := w.opts.validate(); err != nil {
		return nil, err
	}
	if w.opts.Encrypt && w.encryptor == nil {
		return nil, errors.New("encryption requested without an encryptor")
	}
	local := make(map[string]string, len(mappings))
	for _, mp := range mappings {
		abs, err := filepath.Abs(mp.Local)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", mp.Local, err)
		}
		local[mp.Tag] = abs
	}

	if err := w.fs.MkdirAll(w.opts.PatchDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating patch directory: %w", err)
	}
	if err := w.checkExistingPatch(); err != nil {
		return nil, err
	}

	var cipher StreamCipher
	if w.opts.Encrypt {
		var err error
		cipher, err = w.encryptor.Setup(w.opts.PatchDir, w.opts.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("setting up patch key: %w", err)
		}
	}

	var kept, staged []*UpdateRecord
	for _, r := range m.Records {
		if !r.Checked {
			continue
		}
		kept = append(kept, r)
		if r.HasPayload() {
			r.TempName = TempName(r.FileRecord)
			r.Encrypted = w.opts.Encrypt
			r.PayloadHash = ""
			staged = append(staged, r)
		}
	}

	t := newTracker(w.opts.Hooks, "stage", staged)
	if w.opts.ExportMode == ExportScript {
		if err := w.writeScripts(staged, local); err != nil {
			return nil, err
		}
		for _, r := range staged {
			r.Complete()
			t.finish(r)
		}
	} else {
		err := runPool(ctx, w.opts.Workers, staged, func(ctx context.Context, r *UpdateRecord) {
			w.stageRecord(ctx, r, local[r.TopDirectory], cipher, t)
			t.finish(r)
		})
		if err != nil {
			return nil, fmt.Errorf("staging payloads: %w", err)
		}
	}
	for _, r := range kept {
		if !r.HasPayload() {
			t.note(r)
		}
	}

	m.Records = kept
	m.Encrypted = w.opts.Encrypt
	m.ExportMode = w.opts.ExportMode
	if err := w.store.WriteManifest(w.opts.PatchDir, m); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	rep := t.report(kept)
	w.logger.Info("patch written", "dir", w.opts.PatchDir, "records", rep.Total,
		"staged", len(staged), "skipped", rep.Skipped, "errors", rep.Errored)
	return rep, nil
}

func (w *PatchWriter) stageRecord(ctx context.Context, r *UpdateRecord, root string, cipher StreamCipher, t *tracker) {
	if root == "" {
		r.Fail(fmt.Errorf("%w: %s", ErrUnknownRoot, r.TopDirectory))
		return
	}
	src, err := ResolveTarget(root, r.RelativePath)
	if err != nil {
		r.Fail(err)
		return
	}
	dst := filepath.Join(w.opts.PatchDir, r.TempName)

	if w.payloadCurrent(dst, r) {
		t.skipped.Add(1)
		w.logger.Debug("payload already staged", "path", r.Key(), "payload", r.TempName)
	} else {
		if err := w.checkSource(src, r); err != nil {
			r.Fail(err)
			w.logger.Error("cannot stage file", "path", r.Key(), "error", err)
			return
		}
		err := w.opts.Retry.do(ctx, func() error { return w.export(ctx, src, dst, r, cipher, t) })
		if err != nil {
			r.Fail(fmt.Errorf("staging payload: %w", err))
			w.logger.Error("staging failed", "path", r.Key(), "error", err)
			return
		}
	}

	if w.opts.VerifyPayloads {
		hash, err := w.transfer.ComputeHash(ctx, dst)
		if err != nil {
			r.Fail(fmt.Errorf("hashing payload: %w", err))
			return
		}
		r.PayloadHash = hash
	}
	r.Complete()
}

// payloadCurrent reports whether dst already holds this record's payload from an
// earlier run.
func (w *PatchWriter) payloadCurrent(dst string, r *UpdateRecord) bool {
	info, err := w.fs.Stat(dst)
	if err != nil || info.IsDir() {
		return false
	}
	if !info.ModTime().Equal(r.ModTime) {
		return false
	}
	if r.Encrypted {
		return info.Size() > r.Size
	}
	return info.Size() == r.Size
}

// checkExistingPatch refuses to resume into a patch directory whose manifest was
// written with a different encryption setting.
func (w *PatchWriter) checkExistingPatch() error {
	prev, err := w.store.ReadManifest(w.opts.PatchDir)
	if errors.Is(err, ErrManifestNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading existing manifest: %w", err)
	}
	if prev.Encrypted != w.opts.Encrypt {
		return fmt.Errorf("%w: existing patch encrypted=%t", ErrPatchMismatch, prev.Encrypted)
	}
	return nil
}

// checkSource rejects sources that changed after the diff was computed.
func (w *PatchWriter) checkSource(src string, r *UpdateRecord) error {
	info, err := w.fs.Stat(src)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("source is not a regular file: %s", src)
	}
	if info.Size() != r.Size || !info.ModTime().Equal(r.ModTime) {
		return fmt.Errorf("source changed since the diff: %s", src)
	}
	return nil
}

func (w *PatchWriter) export(ctx context.Context, src, dst string, r *UpdateRecord, cipher StreamCipher, t *tracker) error {
	switch w.opts.ExportMode {
	case ExportHardLink:
		return w.link(src, dst)
	case ExportPreferHardLink:
		err := w.link(src, dst)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrCrossDevice) && !errors.Is(err, ErrLinkUnsupported) {
			return err
		}
		w.logger.Debug("hard link unavailable, copying", "path", r.Key(), "reason", err)
	}

	opts := CopyOptions{ModTime: r.ModTime, Progress: t.addBytes}
	if cipher != nil {
		opts.Encrypt = cipher.EncryptStream
	}
	if err := w.transfer.CopyFile(ctx, src, dst, opts); err != nil {
		return err
	}
	if err := w.checkSource(src, r); err != nil {
		w.fs.Remove(dst)
		return fmt.Errorf("file changed during staging: %w", err)
	}
	return nil
}

func (w *PatchWriter) link(src, dst string) error {
	if w.linker == nil {
		return ErrLinkUnsupported
	}
	if err := w.fs.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale payload: %w", err)
	}
	return w.linker.Link(src, dst)
}

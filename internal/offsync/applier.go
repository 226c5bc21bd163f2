package offsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// ApplyOptions configures a PatchApplier.
type ApplyOptions struct {
	PatchDir   string
	Passphrase string
	// Roots overrides the offsite root paths recorded in the manifest, keyed by tag.
	Roots map[string]string
	// VerifyPayloads compares payloads against the hashes stored in the manifest.
	VerifyPayloads bool
	Workers        int
	Retry          RetryPolicy
	Hooks
}

// ApplyPlan is an initialized, pre-flighted patch. Callers may review and uncheck
// records before passing it to Execute.
type ApplyPlan struct {
	Manifest *Manifest
	Roots    map[string]string
	cipher   StreamCipher
}

// Records returns the manifest records in order.
func (p *ApplyPlan) Records() []*UpdateRecord { return p.Manifest.Records }

// PatchApplier applies a patch directory to the offsite roots.
type PatchApplier struct {
	fs        afero.Fs
	transfer  FileTransfer
	deleter   Deleter
	encryptor Encryptor
	store     PackageStore
	logger    Logger
	opts      ApplyOptions
}

// NewPatchApplier creates a PatchApplier.
func NewPatchApplier(fsys afero.Fs, transfer FileTransfer, deleter Deleter, encryptor Encryptor, store PackageStore, logger Logger, opts ApplyOptions) *PatchApplier {
	return &PatchApplier{
		fs:        fsys,
		transfer:  transfer,
		deleter:   deleter,
		encryptor: encryptor,
		store:     store,
		logger:    logger,
		opts:      opts,
	}
}

// Initialize loads the manifest, unlocks the patch key and pre-flights every record.
// It never touches the offsite tree. Records that cannot be applied are unchecked and
// carry a warning.
func (a *PatchApplier) Initialize(ctx context.Context) (*ApplyPlan, error) {
	m, err := a.store.ReadManifest(a.opts.PatchDir)
	if err != nil {
		return nil, err
	}

	plan := &ApplyPlan{Manifest: m, Roots: m.RootPaths()}
	for tag, path := range a.opts.Roots {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", tag, err)
		}
		plan.Roots[tag] = abs
	}

	encrypted := m.Encrypted
	for _, r := range m.Records {
		encrypted = encrypted || r.Encrypted
	}
	if encrypted {
		if a.opts.Passphrase == "" {
			return nil, ErrPasswordRequired
		}
		if a.encryptor == nil {
			return nil, errors.New("patch is encrypted but no encryptor is configured")
		}
		plan.cipher, err = a.encryptor.Unlock(a.opts.PatchDir, a.opts.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("unlocking patch key: %w", err)
		}
	}

	for _, r := range m.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.Status = StatusPending
		r.Message = ""
		if !r.Checked {
			continue
		}
		if err := a.preflight(ctx, plan, r); err != nil {
			r.Checked = false
			r.Warn(err.Error())
			a.logger.Warn("record unchecked", "path", r.Key(), "type", string(r.UpdateType), "reason", err)
		}
	}
	return plan, nil
}

func (a *PatchApplier) preflight(ctx context.Context, plan *ApplyPlan, r *UpdateRecord) error {
	root, ok := plan.Roots[r.TopDirectory]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoot, r.TopDirectory)
	}
	if info, err := a.fs.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}
	target, err := ResolveTarget(root, r.RelativePath)
	if err != nil {
		return err
	}

	switch r.UpdateType {
	case UpdateAdd, UpdateModify:
		payload, err := a.payloadPath(r)
		if err != nil {
			return err
		}
		if !fileExists(a.fs, payload) {
			return fmt.Errorf("%w: %s", ErrPayloadMissing, r.TempName)
		}
		if a.opts.VerifyPayloads && r.PayloadHash != "" {
			hash, err := a.transfer.ComputeHash(ctx, payload)
			if err != nil {
				return fmt.Errorf("hashing payload: %w", err)
			}
			if hash != r.PayloadHash {
				return fmt.Errorf("%w: %s", ErrPayloadCorrupt, r.TempName)
			}
		}
		if info, err := a.fs.Stat(target); err == nil && info.IsDir() {
			return fmt.Errorf("target is a directory: %s", target)
		}
	case UpdateDelete:
		if !fileExists(a.fs, target) {
			return fmt.Errorf("%w: %s", ErrTargetMissing, target)
		}
	case UpdateMove:
		old, err := ResolveTarget(root, r.OldRelativePath)
		if err != nil {
			return err
		}
		if !fileExists(a.fs, old) {
			return fmt.Errorf("%w: %s", ErrSourceMissing, old)
		}
		if pathExists(a.fs, target) {
			return fmt.Errorf("%w: %s", ErrTargetExists, target)
		}
	default:
		return fmt.Errorf("unknown update type: %q", r.UpdateType)
	}
	return nil
}

func (a *PatchApplier) payloadPath(r *UpdateRecord) (string, error) {
	if r.TempName == "" || filepath.Base(r.TempName) != r.TempName {
		return "", fmt.Errorf("%w: invalid payload name %q", ErrPayloadMissing, r.TempName)
	}
	return filepath.Join(a.opts.PatchDir, r.TempName), nil
}

// Execute applies the checked records of plan in three phases: deletions, then moves,
// then additions and modifications. Each phase finishes before the next starts. A
// failing record is marked Errored and the run continues; only cancellation stops it.
func (a *PatchApplier) Execute(ctx context.Context, plan *ApplyPlan) (*Report, error) {
	var deletes, moves, copies, checked []*UpdateRecord
	for _, r := range plan.Manifest.Records {
		if !r.Checked {
			continue
		}
		checked = append(checked, r)
		switch r.UpdateType {
		case UpdateDelete:
			deletes = append(deletes, r)
		case UpdateMove:
			moves = append(moves, r)
		case UpdateAdd, UpdateModify:
			copies = append(copies, r)
		}
	}

	t := newTracker(a.opts.Hooks, "", checked)
	for _, r := range plan.Manifest.Records {
		if !r.Checked {
			t.note(r)
		}
	}

	phases := []struct {
		name    string
		records []*UpdateRecord
	}{
		{"delete", deletes},
		{"move", moves},
		{"copy", copies},
	}
	for _, phase := range phases {
		t.stage = phase.name
		err := runPool(ctx, a.opts.Workers, phase.records, func(ctx context.Context, r *UpdateRecord) {
			if err := a.applyRecord(ctx, plan, r, t); err != nil {
				r.Fail(err)
				a.logger.Error("apply failed", "path", r.Key(), "type", string(r.UpdateType), "error", err)
			} else {
				r.Complete()
				a.logger.Debug("applied", "path", r.Key(), "type", string(r.UpdateType))
			}
			t.finish(r)
		})
		if err != nil {
			return t.report(plan.Manifest.Records), fmt.Errorf("applying %s phase: %w", phase.name, err)
		}
	}

	rep := t.report(plan.Manifest.Records)
	a.logger.Info("patch applied", "dir", a.opts.PatchDir, "completed", rep.Completed,
		"warnings", rep.Warned, "errors", rep.Errored)
	return rep, nil
}

func (a *PatchApplier) applyRecord(ctx context.Context, plan *ApplyPlan, r *UpdateRecord, t *tracker) error {
	rootPath := plan.Roots[r.TopDirectory]
	root := Root{Tag: r.TopDirectory, Path: rootPath}
	target, err := ResolveTarget(rootPath, r.RelativePath)
	if err != nil {
		return err
	}

	switch r.UpdateType {
	case UpdateDelete:
		if !fileExists(a.fs, target) {
			return fmt.Errorf("%w: %s", ErrTargetMissing, target)
		}
		if err := a.deleter.Delete(root, target); err != nil {
			return fmt.Errorf("deleting: %w", err)
		}
		return nil

	case UpdateMove:
		old, err := ResolveTarget(rootPath, r.OldRelativePath)
		if err != nil {
			return err
		}
		if !fileExists(a.fs, old) {
			return fmt.Errorf("%w: %s", ErrSourceMissing, old)
		}
		if pathExists(a.fs, target) {
			return fmt.Errorf("%w: %s", ErrTargetExists, target)
		}
		if err := a.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating parent directory: %w", err)
		}
		if err := a.fs.Rename(old, target); err != nil {
			return fmt.Errorf("moving: %w", err)
		}
		return nil

	case UpdateAdd, UpdateModify:
		payload, err := a.payloadPath(r)
		if err != nil {
			return err
		}
		if fileExists(a.fs, target) {
			if err := a.deleter.Delete(root, target); err != nil {
				return fmt.Errorf("replacing existing file: %w", err)
			}
		}
		if err := a.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating parent directory: %w", err)
		}
		opts := CopyOptions{ModTime: r.ModTime, Progress: t.addBytes}
		if r.Encrypted {
			if plan.cipher == nil {
				return ErrPasswordRequired
			}
			opts.Decrypt = plan.cipher.DecryptStream
		}
		err = a.opts.Retry.do(ctx, func() error {
			return a.transfer.CopyFile(ctx, payload, target, opts)
		})
		if err != nil {
			return fmt.Errorf("copying payload: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown update type: %q", r.UpdateType)
}

package offsync_test

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"offsync-go/internal/archive"
	"offsync-go/internal/encryption"
	syncfs "offsync-go/internal/fs"
	"offsync-go/internal/offsync"
	"offsync-go/internal/testutil"
)

const (
	offsiteRoot = "/offsite/A"
	localRoot   = "/local/A"
	patchDir    = "/media/usb/patch"
)

// harness wires the engine to in-memory collaborators.
type harness struct {
	t         *testing.T
	fs        afero.Fs
	clock     *testutil.StubClock
	store     *archive.Store
	transfer  offsync.FileTransfer
	deleter   offsync.Deleter
	encryptor offsync.Encryptor
	logger    offsync.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fsys := testutil.NewMemFS()
	testutil.Mkdir(t, fsys, offsiteRoot)
	testutil.Mkdir(t, fsys, localRoot)
	return &harness{
		t:         t,
		fs:        fsys,
		clock:     testutil.FixedClock(),
		store:     archive.NewStore(fsys),
		transfer:  syncfs.NewTransfer(fsys),
		deleter:   syncfs.NewDirectDeleter(fsys),
		encryptor: encryption.NewTestEncryptor(fsys),
		logger:    offsync.NewNopLogger(),
	}
}

// offsite and local write a file below the respective root.
func (h *harness) offsite(rel, content string, modTime time.Time) {
	h.t.Helper()
	testutil.WriteFile(h.t, h.fs, filepath.Join(offsiteRoot, filepath.FromSlash(rel)), content, modTime)
}

func (h *harness) local(rel, content string, modTime time.Time) {
	h.t.Helper()
	testutil.WriteFile(h.t, h.fs, filepath.Join(localRoot, filepath.FromSlash(rel)), content, modTime)
}

func (h *harness) snapshot(roots ...string) *offsync.Snapshot {
	h.t.Helper()
	if len(roots) == 0 {
		roots = []string{offsiteRoot}
	}
	snap, err := offsync.NewSnapshotBuilder(h.fs, nil, h.logger, h.clock).Build(context.Background(), roots)
	require.NoError(h.t, err)
	return snap
}

func mappings() []offsync.RootMapping {
	return []offsync.RootMapping{{Tag: "A", Local: localRoot}}
}

func (h *harness) diff(snap *offsync.Snapshot, opts offsync.DiffOptions) *offsync.Manifest {
	h.t.Helper()
	m, err := offsync.NewDiffEngine(h.fs, opts, h.logger, h.clock).Diff(context.Background(), snap, mappings())
	require.NoError(h.t, err)
	return m
}

func (h *harness) writer(opts offsync.WriterOptions) *offsync.PatchWriter {
	if opts.PatchDir == "" {
		opts.PatchDir = patchDir
	}
	return offsync.NewPatchWriter(h.fs, h.transfer, syncfs.NewHardLinker(h.fs), h.encryptor, h.store, h.logger, opts)
}

func (h *harness) write(m *offsync.Manifest, opts offsync.WriterOptions) *offsync.Report {
	h.t.Helper()
	rep, err := h.writer(opts).Write(context.Background(), m, mappings())
	require.NoError(h.t, err)
	return rep
}

func (h *harness) applier(opts offsync.ApplyOptions) *offsync.PatchApplier {
	if opts.PatchDir == "" {
		opts.PatchDir = patchDir
	}
	return offsync.NewPatchApplier(h.fs, h.transfer, h.deleter, h.encryptor, h.store, h.logger, opts)
}

func (h *harness) apply(opts offsync.ApplyOptions) *offsync.Report {
	h.t.Helper()
	a := h.applier(opts)
	plan, err := a.Initialize(context.Background())
	require.NoError(h.t, err)
	rep, err := a.Execute(context.Background(), plan)
	require.NoError(h.t, err)
	return rep
}

// sync runs the full pipeline with default options and returns the apply report.
func (h *harness) sync(diffOpts offsync.DiffOptions) *offsync.Report {
	h.t.Helper()
	m := h.diff(h.snapshot(), diffOpts)
	h.write(m, offsync.WriterOptions{})
	return h.apply(offsync.ApplyOptions{})
}

type fileState struct {
	Content string
	ModTime time.Time
}

// tree returns every file below root keyed by slash-separated relative path.
func (h *harness) tree(root string) map[string]fileState {
	h.t.Helper()
	out := make(map[string]fileState)
	for _, rel := range testutil.ListFiles(h.t, h.fs, root) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		out[rel] = fileState{
			Content: testutil.ReadFile(h.t, h.fs, p),
			ModTime: testutil.ModTime(h.t, h.fs, p).UTC(),
		}
	}
	return out
}

// byPath indexes manifest records by relative path.
func byPath(records []*offsync.UpdateRecord) map[string]*offsync.UpdateRecord {
	out := make(map[string]*offsync.UpdateRecord, len(records))
	for _, r := range records {
		out[r.RelativePath] = r
	}
	return out
}

func payloadPath(r *offsync.UpdateRecord) string {
	return path.Join(patchDir, r.TempName)
}

var errFlakyCopy = errors.New("i/o timeout")

// flakyTransfer fails every copy that reads from or writes to path until failures
// copies have failed. A negative failures never recovers.
type flakyTransfer struct {
	offsync.FileTransfer
	path     string
	failures int

	mu    sync.Mutex
	calls int
}

func (f *flakyTransfer) CopyFile(ctx context.Context, src, dst string, opts offsync.CopyOptions) error {
	if src != f.path && dst != f.path {
		return f.FileTransfer.CopyFile(ctx, src, dst, opts)
	}
	f.mu.Lock()
	f.calls++
	fail := f.failures < 0 || f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errFlakyCopy
	}
	return f.FileTransfer.CopyFile(ctx, src, dst, opts)
}

func (f *flakyTransfer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

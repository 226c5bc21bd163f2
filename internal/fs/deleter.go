package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"offsync-go/internal/offsync"
)

// Delete policies.
const (
	PolicyDirect     = "direct"
	PolicyQuarantine = "quarantine"
	PolicyRecycleBin = "recycle_bin"
)

// DirectDeleter removes entries permanently.
type DirectDeleter struct {
	fs afero.Fs
}

var _ offsync.Deleter = (*DirectDeleter)(nil)

func NewDirectDeleter(fsys afero.Fs) *DirectDeleter {
	return &DirectDeleter{fs: fsys}
}

func (d *DirectDeleter) Delete(root offsync.Root, path string) error {
	if _, err := relativeToRoot(root, path); err != nil {
		return err
	}
	if err := d.fs.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// QuarantineDeleter moves entries into a per-run folder instead of deleting them.
// An entry lands at <dir>/<yyyyMMdd-HHmmss>/<tag#relative#path>.
type QuarantineDeleter struct {
	fs    afero.Fs
	dir   string
	stamp string
	mu    sync.Mutex
}

var _ offsync.Deleter = (*QuarantineDeleter)(nil)

// NewQuarantineDeleter creates a QuarantineDeleter. runTime names the run folder.
func NewQuarantineDeleter(fsys afero.Fs, dir string, runTime time.Time) *QuarantineDeleter {
	return &QuarantineDeleter{fs: fsys, dir: dir, stamp: runTime.Format("20060102-150405")}
}

func (q *QuarantineDeleter) Delete(root offsync.Root, path string) error {
	rel, err := relativeToRoot(root, path)
	if err != nil {
		return err
	}
	flat := root.Tag + "#" + strings.ReplaceAll(rel, "/", "#")
	runDir := filepath.Join(q.dir, q.stamp)

	// Name selection and the move must not interleave between workers.
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.fs.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("creating quarantine directory: %w", err)
	}
	name := uniqueName(flat, func(n string) bool { return occupied(q.fs, filepath.Join(runDir, n)) })
	target := filepath.Join(runDir, name)
	if err := moveEntry(q.fs, path, target); err != nil {
		return fmt.Errorf("quarantining %s: %w", path, err)
	}
	return nil
}

// relativeToRoot returns path relative to root with forward slashes and refuses the
// root itself and anything outside of it.
func relativeToRoot(root offsync.Root, path string) (string, error) {
	rel, err := filepath.Rel(root.Path, path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", offsync.ErrOutsideRoot, path)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", offsync.ErrOutsideRoot, path)
	}
	return filepath.ToSlash(rel), nil
}

// uniqueName returns name, or "stem (n)ext" for the lowest n that is not taken.
func uniqueName(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if !taken(candidate) {
			return candidate
		}
	}
}

// occupied reports whether anything is at path. Stat failures other than absence count
// as occupied so a name is never reused blindly.
func occupied(fsys afero.Fs, path string) bool {
	_, err := fsys.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

// moveEntry renames src to dst, copying and removing when the rename crosses devices.
func moveEntry(fsys afero.Fs, src, dst string) error {
	err := fsys.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(classifyLinkError(err), offsync.ErrCrossDevice) {
		return err
	}
	if err := copyTree(fsys, src, dst); err != nil {
		fsys.RemoveAll(dst)
		return fmt.Errorf("copying across devices: %w", err)
	}
	return fsys.RemoveAll(src)
}

func copyTree(fsys afero.Fs, src, dst string) error {
	return afero.Walk(fsys, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return fsys.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		in, err := fsys.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := fsys.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		return fsys.Chtimes(target, info.ModTime(), info.ModTime())
	})
}

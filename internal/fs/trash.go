package fs

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"offsync-go/internal/offsync"
)

// DefaultTrashDir returns the freedesktop.org home trash: $XDG_DATA_HOME/Trash, or
// ~/.local/share/Trash.
func DefaultTrashDir() (string, error) {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "Trash"), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "Trash"), nil
}

// RecycleBinDeleter moves entries into a freedesktop.org trash directory so the desktop
// can restore them. If trashing fails the entry is deleted directly.
type RecycleBinDeleter struct {
	fs       afero.Fs
	trashDir string
	fallback offsync.Deleter
	clock    offsync.Clock
	logger   offsync.Logger
	mu       sync.Mutex
}

var _ offsync.Deleter = (*RecycleBinDeleter)(nil)

func NewRecycleBinDeleter(fsys afero.Fs, trashDir string, clock offsync.Clock, logger offsync.Logger) *RecycleBinDeleter {
	return &RecycleBinDeleter{
		fs:       fsys,
		trashDir: trashDir,
		fallback: NewDirectDeleter(fsys),
		clock:    clock,
		logger:   logger,
	}
}

func (d *RecycleBinDeleter) Delete(root offsync.Root, path string) error {
	if _, err := relativeToRoot(root, path); err != nil {
		return err
	}
	if err := d.trash(path); err != nil {
		d.logger.Warn("recycle bin unavailable, deleting directly", "path", path, "error", err)
		return d.fallback.Delete(root, path)
	}
	return nil
}

func (d *RecycleBinDeleter) trash(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	filesDir := filepath.Join(d.trashDir, "files")
	infoDir := filepath.Join(d.trashDir, "info")

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, dir := range []string{filesDir, infoDir} {
		if err := d.fs.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	name := uniqueName(filepath.Base(abs), func(n string) bool {
		return occupied(d.fs, filepath.Join(filesDir, n)) || occupied(d.fs, filepath.Join(infoDir, n+".trashinfo"))
	})
	target := filepath.Join(filesDir, name)
	infoPath := filepath.Join(infoDir, name+".trashinfo")

	info := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		escapeTrashPath(abs), d.clock.Now().Format("2006-01-02T15:04:05"))
	f, err := d.fs.OpenFile(infoPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating trash info: %w", err)
	}
	if _, err := f.WriteString(info); err != nil {
		f.Close()
		d.fs.Remove(infoPath)
		return fmt.Errorf("writing trash info: %w", err)
	}
	if err := f.Close(); err != nil {
		d.fs.Remove(infoPath)
		return fmt.Errorf("writing trash info: %w", err)
	}

	if err := moveEntry(d.fs, abs, target); err != nil {
		d.fs.Remove(infoPath)
		return fmt.Errorf("moving to trash: %w", err)
	}
	return nil
}

// escapeTrashPath percent-encodes each path segment for the Path= line of a .trashinfo file.
func escapeTrashPath(p string) string {
	segments := strings.Split(filepath.ToSlash(p), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

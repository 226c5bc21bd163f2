package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// BaseTime is a fixed modification time used by tree builders.
var BaseTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// NewMemFS returns an empty in-memory filesystem.
func NewMemFS() afero.Fs {
	return afero.NewMemMapFs()
}

// WriteFile creates path with content and sets its modification time, creating parent
// directories as needed.
func WriteFile(t testing.TB, fsys afero.Fs, path, content string, modTime time.Time) {
	t.Helper()
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating parent of %s: %v", path, err)
	}
	if err := afero.WriteFile(fsys, path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	if err := fsys.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("setting times on %s: %v", path, err)
	}
}

// Touch sets the modification time of an existing path.
func Touch(t testing.TB, fsys afero.Fs, path string, modTime time.Time) {
	t.Helper()
	if err := fsys.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("setting times on %s: %v", path, err)
	}
}

// Mkdir creates a directory and its parents.
func Mkdir(t testing.TB, fsys afero.Fs, path string) {
	t.Helper()
	if err := fsys.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
}

// ReadFile returns the content of path.
func ReadFile(t testing.TB, fsys afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

// ModTime returns the modification time of path.
func ModTime(t testing.TB, fsys afero.Fs, path string) time.Time {
	t.Helper()
	info, err := fsys.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.ModTime()
}

// Exists reports whether anything is at path.
func Exists(fsys afero.Fs, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil
}

// ListFiles returns the slash-separated paths of all regular files below root, sorted.
func ListFiles(t testing.TB, fsys afero.Fs, root string) []string {
	t.Helper()
	var out []string
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", root, err)
	}
	return out
}

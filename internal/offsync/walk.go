package offsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// treeEntry is an entry found below a root.
type treeEntry struct {
	relativePath string // slash-separated
	info         os.FileInfo
}

// walkHandlers receives the entries of a walk. Nil handlers are skipped.
type walkHandlers struct {
	file  func(treeEntry)
	dir   func(treeEntry)
	other func(treeEntry) // symlinks, devices, sockets and pipes
}

// walkTree enumerates a root in lexical order, single-threaded. ctx is checked per
// entry.
func walkTree(ctx context.Context, fsys afero.Fs, root string, h walkHandlers) error {
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entry := treeEntry{relativePath: filepath.ToSlash(rel), info: info}
		var handle func(treeEntry)
		switch {
		case info.IsDir():
			handle = h.dir
		case info.Mode().IsRegular():
			handle = h.file
		default:
			handle = h.other
		}
		if handle != nil {
			handle(entry)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}
	return nil
}

func fileExists(fsys afero.Fs, path string) bool {
	info, err := fsys.Stat(path)
	return err == nil && !info.IsDir()
}

func pathExists(fsys afero.Fs, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil
}

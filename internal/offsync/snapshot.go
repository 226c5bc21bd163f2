package offsync

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
)

// SnapshotBuilder captures the metadata of the offsite roots.
type SnapshotBuilder struct {
	fs     afero.Fs
	filter Filter
	logger Logger
	clock  Clock
}

// NewSnapshotBuilder creates a SnapshotBuilder. A nil filter includes every file.
func NewSnapshotBuilder(fsys afero.Fs, filter Filter, logger Logger, clock Clock) *SnapshotBuilder {
	return &SnapshotBuilder{fs: fsys, filter: filter, logger: logger, clock: clock}
}

// Build walks every root and returns the flat list of file records. Any invalid root
// aborts the snapshot before a single file is read.
func (b *SnapshotBuilder) Build(ctx context.Context, rootPaths []string) (*Snapshot, error) {
	roots, err := ValidateRoots(b.fs, rootPaths)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{CreatedAt: b.clock.Now().UTC(), Roots: roots}
	for _, root := range roots {
		count := 0
		err := walkTree(ctx, b.fs, root.Path, walkHandlers{file: func(e treeEntry) {
			if !included(b.filter, e.relativePath) {
				return
			}
			snap.Files = append(snap.Files, newFileRecord(root.Tag, e))
			count++
		}})
		if err != nil {
			return nil, fmt.Errorf("snapshotting %s: %w", root.Tag, err)
		}
		b.logger.Info("root scanned", "root", root.Tag, "path", root.Path, "files", count)
	}
	return snap, nil
}

func newFileRecord(tag string, e treeEntry) FileRecord {
	return FileRecord{
		TopDirectory: tag,
		RelativePath: e.relativePath,
		Name:         e.info.Name(),
		Size:         e.info.Size(),
		ModTime:      e.info.ModTime().UTC(),
	}
}

func included(f Filter, relativePath string) bool {
	return f == nil || f.Include(relativePath)
}

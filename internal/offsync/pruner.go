package offsync

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// DefaultIgnorableFiles are thumbnail caches that do not keep a directory alive.
var DefaultIgnorableFiles = []string{"thumbs.db", ".ds_store"}

// PruneCandidate is an offsite directory proposed for deletion.
type PruneCandidate struct {
	Root         Root
	RelativePath string // slash-separated
	Path         string
}

// EmptyDirPruner finds offsite directories that no longer exist locally and hold no
// files.
type EmptyDirPruner struct {
	fs        afero.Fs
	deleter   Deleter
	logger    Logger
	ignorable map[string]bool
}

// NewEmptyDirPruner creates a pruner. ignorable lists file names, matched
// case-insensitively, that may remain in a directory without keeping it; nil uses
// DefaultIgnorableFiles.
func NewEmptyDirPruner(fsys afero.Fs, deleter Deleter, logger Logger, ignorable []string) *EmptyDirPruner {
	if ignorable == nil {
		ignorable = DefaultIgnorableFiles
	}
	set := make(map[string]bool, len(ignorable))
	for _, name := range ignorable {
		set[strings.ToLower(name)] = true
	}
	return &EmptyDirPruner{fs: fsys, deleter: deleter, logger: logger, ignorable: set}
}

// Analyze compares the offsite roots with the directories recorded in the manifest at
// diff time. roots maps tags to offsite paths and is typically ApplyPlan.Roots. The
// result is sorted, holds only outermost directories and deletes nothing.
func (p *EmptyDirPruner) Analyze(ctx context.Context, m *Manifest, roots map[string]string) ([]PruneCandidate, error) {
	tags := make([]string, 0, len(m.LocalDirectories))
	for tag := range m.LocalDirectories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var out []PruneCandidate
	for _, tag := range tags {
		rootPath, ok := roots[tag]
		if !ok {
			continue
		}
		if info, err := p.fs.Stat(rootPath); err != nil || !info.IsDir() {
			p.logger.Warn("offsite root missing, not pruning", "root", tag, "path", rootPath)
			continue
		}
		found, err := p.analyzeRoot(ctx, Root{Tag: tag, Path: rootPath}, m.LocalDirectories[tag])
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func (p *EmptyDirPruner) analyzeRoot(ctx context.Context, root Root, authoritative []string) ([]PruneCandidate, error) {
	keep := make(map[string]bool, len(authoritative))
	for _, d := range authoritative {
		keep[d] = true
	}

	var dirs []string
	files := make(map[string]int)    // directory -> number of files
	blocked := make(map[string]bool) // directory holds an entry that is not ignorable
	err := walkTree(ctx, p.fs, root.Path, walkHandlers{
		file: func(e treeEntry) {
			dir := parentDir(e.relativePath)
			files[dir]++
			if !p.ignorable[strings.ToLower(path.Base(e.relativePath))] {
				blocked[dir] = true
			}
		},
		dir:   func(e treeEntry) { dirs = append(dirs, e.relativePath) },
		other: func(e treeEntry) { blocked[parentDir(e.relativePath)] = true },
	})
	if err != nil {
		return nil, fmt.Errorf("scanning offsite root %s: %w", root.Tag, err)
	}

	children := make(map[string][]string)
	for _, d := range dirs {
		parent := parentDir(d)
		children[parent] = append(children[parent], d)
	}

	// Children sort after their parents, so reverse order settles every subtree first.
	sort.Strings(dirs)
	candidate := make(map[string]bool, len(dirs))
	for i := len(dirs) - 1; i >= 0; i-- {
		d := dirs[i]
		if keep[d] || blocked[d] || files[d] > 1 {
			continue
		}
		ok := true
		for _, c := range children[d] {
			if !candidate[c] {
				ok = false
				break
			}
		}
		candidate[d] = ok
	}

	var out []PruneCandidate
	for _, d := range dirs {
		if !candidate[d] || hasCandidateAncestor(d, candidate) {
			continue
		}
		out = append(out, PruneCandidate{
			Root:         root,
			RelativePath: d,
			Path:         filepath.Join(root.Path, filepath.FromSlash(d)),
		})
	}
	return out, nil
}

// DeleteDirectories removes the confirmed candidates through the delete policy. It
// keeps going after a failure and returns the number removed with all errors joined.
func (p *EmptyDirPruner) DeleteDirectories(ctx context.Context, candidates []PruneCandidate) (int, error) {
	var errs []error
	deleted := 0
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := p.deleter.Delete(c.Root, c.Path); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", c.Path, err))
			p.logger.Error("prune failed", "path", c.Path, "error", err)
			continue
		}
		deleted++
		p.logger.Info("directory pruned", "root", c.Root.Tag, "path", c.RelativePath)
	}
	return deleted, errors.Join(errs...)
}

func parentDir(rel string) string {
	d := path.Dir(rel)
	if d == "." {
		return ""
	}
	return d
}

func hasCandidateAncestor(d string, candidate map[string]bool) bool {
	for parent := parentDir(d); parent != ""; parent = parentDir(parent) {
		if candidate[parent] {
			return true
		}
	}
	return false
}

package offsync

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// RootMapping pairs an offsite root tag with the local directory holding the same tree.
type RootMapping struct {
	Tag   string
	Local string
}

// ValidateRoots resolves the given directories and checks that each exists, that their
// leaf names are unique and that none contains another.
func ValidateRoots(fsys afero.Fs, paths []string) ([]Root, error) {
	roots := make([]Root, 0, len(paths))
	seen := make(map[string]string)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		if err := requireDir(fsys, abs); err != nil {
			return nil, err
		}
		tag := filepath.Base(abs)
		if other, ok := seen[tag]; ok {
			return nil, fmt.Errorf("%w: %s and %s", ErrDuplicateRoot, other, abs)
		}
		seen[tag] = abs
		roots = append(roots, Root{Tag: tag, Path: abs})
	}

	for i := range roots {
		for j := range roots {
			if i != j && isWithin(roots[i].Path, roots[j].Path) {
				return nil, fmt.Errorf("%w: %s contains %s", ErrNestedRoots, roots[i].Path, roots[j].Path)
			}
		}
	}
	return roots, nil
}

// ValidateMapping checks that every snapshot tag has exactly one mapping and that every
// mapping points at an existing local directory. It returns the local path per tag.
func ValidateMapping(fsys afero.Fs, snapshot *Snapshot, mappings []RootMapping) (map[string]string, error) {
	tags := make(map[string]bool)
	for _, t := range snapshot.Tags() {
		tags[t] = true
	}

	local := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if !tags[m.Tag] {
			return nil, fmt.Errorf("%w: %s is not a snapshot root", ErrIncompleteMapping, m.Tag)
		}
		if _, dup := local[m.Tag]; dup {
			return nil, fmt.Errorf("%w: %s is mapped more than once", ErrIncompleteMapping, m.Tag)
		}
		if m.Local == "" {
			return nil, fmt.Errorf("%w: %s has no local directory", ErrIncompleteMapping, m.Tag)
		}
		abs, err := filepath.Abs(m.Local)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", m.Local, err)
		}
		if err := requireDir(fsys, abs); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIncompleteMapping, err)
		}
		local[m.Tag] = abs
	}
	for t := range tags {
		if _, ok := local[t]; !ok {
			return nil, fmt.Errorf("%w: %s has no local directory", ErrIncompleteMapping, t)
		}
	}
	return local, nil
}

// MatchRoots proposes a local directory for every snapshot root by looking for a
// directory with the same leaf name inside each search directory. Tags without a match
// get an empty Local; the first search directory that matches wins.
func MatchRoots(fsys afero.Fs, snapshot *Snapshot, searchDirs []string) []RootMapping {
	var out []RootMapping
	for _, tag := range snapshot.Tags() {
		m := RootMapping{Tag: tag}
		for _, dir := range searchDirs {
			candidate := filepath.Join(dir, tag)
			if info, err := fsys.Stat(candidate); err == nil && info.IsDir() {
				if abs, err := filepath.Abs(candidate); err == nil {
					m.Local = abs
					break
				}
			}
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// ResolveTarget joins a slash-separated relative path to root and rejects results that
// leave the root.
func ResolveTarget(root, relativePath string) (string, error) {
	if relativePath == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}
	joined := filepath.Join(root, filepath.FromSlash(relativePath))
	if !isWithin(root, joined) || joined == filepath.Clean(root) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, relativePath)
	}
	return joined, nil
}

func requireDir(fsys afero.Fs, path string) error {
	info, err := fsys.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRootNotFound, path)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, path)
	}
	return nil
}

// isWithin reports whether child equals parent or lies below it, comparing whole path
// components.
func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(child))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

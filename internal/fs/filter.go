package fs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"

	"offsync-go/internal/offsync"
)

// pattern is a compiled filter pattern with its matching strategy.
type pattern struct {
	raw       string
	g         glob.Glob
	matchPath bool // true = match against relative path; false = match against names only
}

// Filter selects files by glob patterns.
// Patterns without '/' match the file name or the name of any parent directory.
// Patterns with '/' match the relative path from the root or any of its parent paths.
// '*' stops at '/', '**' does not.
type Filter struct {
	include []pattern
	exclude []pattern
}

var _ offsync.Filter = (*Filter)(nil)

// NewFilter compiles include and exclude patterns. Blank lines and lines starting with
// '#' are skipped. An empty include list includes everything.
func NewFilter(include, exclude []string) (*Filter, error) {
	inc, err := compilePatterns(include)
	if err != nil {
		return nil, fmt.Errorf("compiling include patterns: %w", err)
	}
	exc, err := compilePatterns(exclude)
	if err != nil {
		return nil, fmt.Errorf("compiling exclude patterns: %w", err)
	}
	return &Filter{include: inc, exclude: exc}, nil
}

func compilePatterns(raw []string) ([]pattern, error) {
	var out []pattern
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "#") {
			continue
		}
		r = strings.TrimPrefix(r, "/")
		g, err := glob.Compile(r, '/')
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", r, err)
		}
		out = append(out, pattern{raw: r, g: g, matchPath: strings.Contains(r, "/")})
	}
	return out, nil
}

// Include reports whether the file at relativePath takes part in the sync.
// relativePath uses forward slashes.
func (f *Filter) Include(relativePath string) bool {
	if relativePath == "" {
		return false
	}
	if len(f.include) > 0 && !matchAny(f.include, relativePath) {
		return false
	}
	return !matchAny(f.exclude, relativePath)
}

func matchAny(patterns []pattern, relativePath string) bool {
	for _, p := range patterns {
		for current := relativePath; current != "." && current != "/" && current != ""; current = path.Dir(current) {
			subject := current
			if !p.matchPath {
				subject = path.Base(current)
			}
			if p.g.Match(subject) {
				return true
			}
		}
	}
	return false
}

// ParseIgnoreFile reads a pattern file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(fsys afero.Fs, path string) ([]string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}

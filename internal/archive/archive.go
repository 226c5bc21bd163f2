// Package archive reads and writes snapshot and manifest package files.
//
// A package is a single header line "<kind> <version>\n" followed by a gzip-compressed
// JSON document. Readers accept any version with the same major number.
package archive

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"offsync-go/internal/offsync"
)

// FormatVersion is the package format written by this build.
const FormatVersion = "1.0.0"

const (
	// SnapshotExt is the conventional extension of snapshot packages.
	SnapshotExt = ".oss"
	// ManifestName is the manifest file inside a patch directory.
	ManifestName = "manifest.osp"

	kindSnapshot = "offsync-snapshot"
	kindManifest = "offsync-manifest"
)

// ErrUnsupportedVersion is returned for packages written by an incompatible format.
var ErrUnsupportedVersion = errors.New("unsupported package version")

var currentVersion = goversion.Must(goversion.NewVersion(FormatVersion))

// Store implements offsync.PackageStore on an afero filesystem.
type Store struct {
	fs afero.Fs
}

var _ offsync.PackageStore = (*Store)(nil)

func NewStore(fsys afero.Fs) *Store {
	return &Store{fs: fsys}
}

// WriteSnapshot writes s to path atomically.
func (s *Store) WriteSnapshot(path string, snap *offsync.Snapshot) error {
	if err := s.write(path, kindSnapshot, snap); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot reads the snapshot package at path.
func (s *Store) ReadSnapshot(path string) (*offsync.Snapshot, error) {
	var snap offsync.Snapshot
	if err := s.read(path, kindSnapshot, &snap); err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return &snap, nil
}

// WriteManifest writes m to <patchDir>/manifest.osp atomically.
func (s *Store) WriteManifest(patchDir string, m *offsync.Manifest) error {
	if err := s.write(filepath.Join(patchDir, ManifestName), kindManifest, m); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// ReadManifest reads the manifest of patchDir. A missing file yields
// offsync.ErrManifestNotFound.
func (s *Store) ReadManifest(patchDir string) (*offsync.Manifest, error) {
	path := filepath.Join(patchDir, ManifestName)
	if _, err := s.fs.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", offsync.ErrManifestNotFound, path)
	}
	var m offsync.Manifest
	if err := s.read(path, kindManifest, &m); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if m.LocalDirectories == nil {
		m.LocalDirectories = make(map[string][]string)
	}
	return &m, nil
}

// write encodes v into a temp file next to path and renames it into place.
func (s *Store) write(path, kind string, v any) (err error) {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			s.fs.Remove(tmpName)
		}
	}()

	if err = encode(tmp, kind, v); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}
	if err = s.fs.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}
	return nil
}

func (s *Store) read(path, kind string, v any) error {
	f, err := s.fs.Open(path)
	if err != nil {
		return fmt.Errorf("opening: %w", err)
	}
	defer f.Close()
	return decode(f, kind, v)
}

func encode(w io.Writer, kind string, v any) error {
	if _, err := fmt.Fprintf(w, "%s %s\n", kind, FormatVersion); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(v); err != nil {
		gz.Close()
		return fmt.Errorf("encoding: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compressing: %w", err)
	}
	return nil
}

func decode(r io.Reader, kind string, v any) error {
	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	fields := strings.Fields(header)
	if len(fields) != 2 || fields[0] != kind {
		return fmt.Errorf("not a %s package", kind)
	}
	if err := checkVersion(fields[1]); err != nil {
		return err
	}

	gz, err := gzip.NewReader(br)
	if err != nil {
		return fmt.Errorf("opening compressed body: %w", err)
	}
	defer gz.Close()
	if err := json.NewDecoder(gz).Decode(v); err != nil {
		return fmt.Errorf("decoding: %w", err)
	}
	return nil
}

func checkVersion(raw string) error {
	v, err := goversion.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, raw)
	}
	if v.Segments()[0] != currentVersion.Segments()[0] {
		return fmt.Errorf("%w: %s (this build reads %d.x)", ErrUnsupportedVersion, v, currentVersion.Segments()[0])
	}
	return nil
}

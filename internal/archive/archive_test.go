package archive

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offsync-go/internal/offsync"
)

var created = time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)

func TestStore_SnapshotRoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := NewStore(fsys)

	snap := &offsync.Snapshot{
		CreatedAt: created,
		Roots:     []offsync.Root{{Tag: "A", Path: "/offsite/A"}},
		Files: []offsync.FileRecord{
			{TopDirectory: "A", RelativePath: "sub/x.txt", Name: "x.txt", Size: 42, ModTime: created},
			{TopDirectory: "A", RelativePath: "y.txt", Name: "y.txt", Size: 0, ModTime: created.Add(-time.Hour)},
		},
	}
	path := "/media/usb/offsite" + SnapshotExt
	require.NoError(t, store.WriteSnapshot(path, snap))

	got, err := store.ReadSnapshot(path)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(snap.CreatedAt))
	assert.Equal(t, snap.Roots, got.Roots)
	require.Len(t, got.Files, 2)
	assert.Equal(t, "sub/x.txt", got.Files[0].RelativePath)
	assert.True(t, got.Files[0].ModTime.Equal(created), "nanoseconds must survive")

	entries, err := afero.ReadDir(fsys, "/media/usb")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStore_ManifestRoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := NewStore(fsys)

	m := &offsync.Manifest{
		CreatedAt:  created,
		Roots:      []offsync.Root{{Tag: "A", Path: "/offsite/A"}},
		Encrypted:  true,
		ExportMode: offsync.ExportCopy,
		Records: []*offsync.UpdateRecord{
			{
				FileRecord: offsync.FileRecord{TopDirectory: "A", RelativePath: "n.txt", Name: "n.txt", Size: 3, ModTime: created},
				UpdateType: offsync.UpdateAdd,
				TempName:   "abc",
				Encrypted:  true,
				Checked:    true,
				Status:     offsync.StatusCompleted,
			},
			{
				FileRecord:      offsync.FileRecord{TopDirectory: "A", RelativePath: "new/place.txt", Name: "place.txt", Size: 9, ModTime: created},
				UpdateType:      offsync.UpdateMove,
				OldRelativePath: "old/place.txt",
				Checked:         true,
				Status:          offsync.StatusPending,
			},
		},
		LocalDirectories: map[string][]string{"A": {"new"}},
	}
	require.NoError(t, store.WriteManifest("/patch", m))

	got, err := store.ReadManifest("/patch")
	require.NoError(t, err)
	assert.True(t, got.Encrypted)
	assert.Equal(t, offsync.ExportCopy, got.ExportMode)
	require.Len(t, got.Records, 2)
	assert.Equal(t, offsync.UpdateAdd, got.Records[0].UpdateType)
	assert.True(t, got.Records[0].Encrypted)
	assert.Equal(t, "old/place.txt", got.Records[1].OldRelativePath)
	assert.Equal(t, []string{"new"}, got.LocalDirectories["A"])
}

func TestStore_ReadManifest_Missing(t *testing.T) {
	store := NewStore(afero.NewMemMapFs())
	_, err := store.ReadManifest("/nowhere")
	assert.ErrorIs(t, err, offsync.ErrManifestNotFound)
}

func TestStore_ReadManifest_NilDirectories(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := NewStore(fsys)
	require.NoError(t, store.WriteManifest("/patch", &offsync.Manifest{}))

	got, err := store.ReadManifest("/patch")
	require.NoError(t, err)
	assert.NotNil(t, got.LocalDirectories)
}

func TestDecode_Rejects(t *testing.T) {
	body := func(header string) []byte {
		var buf bytes.Buffer
		buf.WriteString(header)
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte(`{"files":[]}`))
		gz.Close()
		return buf.Bytes()
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"future major version", body("offsync-snapshot 2.0.0\n"), ErrUnsupportedVersion},
		{"garbage version", body("offsync-snapshot banana\n"), ErrUnsupportedVersion},
		{"wrong kind", body("offsync-manifest 1.0.0\n"), nil},
		{"no header", []byte("just text"), nil},
		{"corrupt body", []byte("offsync-snapshot 1.0.0\nnot gzip"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var snap offsync.Snapshot
			err := decode(bytes.NewReader(tt.data), kindSnapshot, &snap)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "error = %v", err)
			}
		})
	}
}

func TestDecode_AcceptsNewerMinor(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("offsync-snapshot 1.4.2\n")
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte(`{"roots":[{"tag":"A","path":"/a"}]}`))
	gz.Close()

	var snap offsync.Snapshot
	require.NoError(t, decode(&buf, kindSnapshot, &snap))
	assert.Equal(t, "A", snap.Roots[0].Tag)
}

func TestStore_WriteFailureLeavesNoFile(t *testing.T) {
	base := afero.NewMemMapFs()
	fsys := afero.NewReadOnlyFs(base)
	store := NewStore(fsys)
	err := store.WriteSnapshot(filepath.Join("/ro", "s.oss"), &offsync.Snapshot{})
	assert.Error(t, err)
	exists, _ := afero.Exists(base, "/ro/s.oss")
	assert.False(t, exists)
}

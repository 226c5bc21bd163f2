package offsync_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offsync-go/internal/offsync"
	"offsync-go/internal/testutil"
)

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		rel     string
		want    string
		wantErr bool
	}{
		{"a.txt", "/offsite/A/a.txt", false},
		{"dir/sub/b.txt", "/offsite/A/dir/sub/b.txt", false},
		{"dir/../c.txt", "/offsite/A/c.txt", false},
		{"../B/escape.txt", "", true},
		{"dir/../../escape.txt", "", true},
		{".", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			got, err := offsync.ResolveTarget("/offsite/A", tt.rel)
			if tt.wantErr {
				assert.True(t, errors.Is(err, offsync.ErrOutsideRoot), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchRoots(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.Mkdir(t, fsys, "/home/user/Photos")
	testutil.Mkdir(t, fsys, "/backup/Photos")
	testutil.Mkdir(t, fsys, "/backup/Docs")
	testutil.WriteFile(t, fsys, "/home/user/Music", "not a directory", testutil.BaseTime)

	snap := &offsync.Snapshot{Roots: []offsync.Root{
		{Tag: "Photos", Path: "/offsite/Photos"},
		{Tag: "Music", Path: "/offsite/Music"},
		{Tag: "Docs", Path: "/offsite/Docs"},
	}}

	got := offsync.MatchRoots(fsys, snap, []string{"/home/user", "/backup"})
	assert.Equal(t, []offsync.RootMapping{
		{Tag: "Docs", Local: "/backup/Docs"},
		{Tag: "Music", Local: ""},
		{Tag: "Photos", Local: "/home/user/Photos"},
	}, got)
}

func TestValidateMapping(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.Mkdir(t, fsys, "/local/A")
	snap := &offsync.Snapshot{
		Roots: []offsync.Root{{Tag: "A", Path: "/offsite/A"}},
		Files: []offsync.FileRecord{{TopDirectory: "A", RelativePath: "x"}},
	}

	got, err := offsync.ValidateMapping(fsys, snap, []offsync.RootMapping{{Tag: "A", Local: "/local/./A"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "/local/A"}, got)

	_, err = offsync.ValidateMapping(fsys, snap, nil)
	assert.ErrorIs(t, err, offsync.ErrIncompleteMapping)

	testutil.WriteFile(t, fsys, "/local/file", "", testutil.BaseTime)
	_, err = offsync.ValidateMapping(fsys, snap, []offsync.RootMapping{{Tag: "A", Local: "/local/file"}})
	assert.ErrorIs(t, err, offsync.ErrIncompleteMapping)
	assert.ErrorIs(t, err, offsync.ErrRootNotFound)
}

func TestValidateRoots(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.Mkdir(t, fsys, "/data/Photos")
	testutil.Mkdir(t, fsys, "/data/Photos2")

	roots, err := offsync.ValidateRoots(fsys, []string{"/data/Photos", "/data/Photos2/"})
	require.NoError(t, err)
	assert.Equal(t, []offsync.Root{
		{Tag: "Photos", Path: "/data/Photos"},
		{Tag: "Photos2", Path: "/data/Photos2"},
	}, roots, "a shared name prefix is not nesting")
}

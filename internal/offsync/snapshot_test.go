package offsync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncfs "offsync-go/internal/fs"
	"offsync-go/internal/offsync"
	"offsync-go/internal/testutil"
)

func TestSnapshotBuilder_Build(t *testing.T) {
	h := newHarness(t)
	h.offsite("a.txt", "aaa", testutil.BaseTime)
	h.offsite("sub/deeper/b.txt", "bbbbb", testutil.BaseTime.Add(time.Second))
	testutil.Mkdir(t, h.fs, "/offsite/A/empty")
	testutil.WriteFile(t, h.fs, "/offsite/B/c.txt", "c", testutil.BaseTime)

	snap := h.snapshot("/offsite/A", "/offsite/B")

	assert.Equal(t, testutil.BaseTime, snap.CreatedAt)
	assert.Equal(t, []offsync.Root{
		{Tag: "A", Path: "/offsite/A"},
		{Tag: "B", Path: "/offsite/B"},
	}, snap.Roots)
	assert.Equal(t, []offsync.FileRecord{
		{TopDirectory: "A", RelativePath: "a.txt", Name: "a.txt", Size: 3, ModTime: testutil.BaseTime},
		{TopDirectory: "A", RelativePath: "sub/deeper/b.txt", Name: "b.txt", Size: 5, ModTime: testutil.BaseTime.Add(time.Second)},
		{TopDirectory: "B", RelativePath: "c.txt", Name: "c.txt", Size: 1, ModTime: testutil.BaseTime},
	}, snap.Files)
	assert.Equal(t, []string{"A", "B"}, snap.Tags())
}

func TestSnapshotBuilder_EmptyRootKeepsTag(t *testing.T) {
	h := newHarness(t)
	snap := h.snapshot()
	assert.Empty(t, snap.Files)
	assert.Equal(t, []string{"A"}, snap.Tags())
}

func TestSnapshotBuilder_InvalidRoots(t *testing.T) {
	tests := []struct {
		name  string
		roots []string
		want  error
	}{
		{"missing root", []string{"/offsite/A", "/offsite/missing"}, offsync.ErrRootNotFound},
		{"root is a file", []string{"/offsite/A/file.txt"}, offsync.ErrRootNotFound},
		{"duplicate leaf name", []string{"/offsite/A", "/elsewhere/A"}, offsync.ErrDuplicateRoot},
		{"sibling roots", []string{"/offsite/A", "/local/A/../B"}, nil},
		{"root inside another", []string{"/offsite/A", "/offsite/A/sub"}, offsync.ErrNestedRoots},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.offsite("file.txt", "x", testutil.BaseTime)
			testutil.Mkdir(t, h.fs, "/elsewhere/A")
			testutil.Mkdir(t, h.fs, "/local/B")
			testutil.Mkdir(t, h.fs, "/offsite/A/sub")

			_, err := offsync.NewSnapshotBuilder(h.fs, nil, h.logger, h.clock).
				Build(context.Background(), tt.roots)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "err = %v, want %v", err, tt.want)
		})
	}
}

func TestSnapshotBuilder_Filter(t *testing.T) {
	h := newHarness(t)
	h.offsite("keep.jpg", "j", testutil.BaseTime)
	h.offsite("skip.tmp", "t", testutil.BaseTime)
	h.offsite("cache/x.jpg", "x", testutil.BaseTime)

	filter, err := syncfs.NewFilter(nil, []string{"*.tmp", "cache"})
	require.NoError(t, err)

	snap, err := offsync.NewSnapshotBuilder(h.fs, filter, h.logger, h.clock).
		Build(context.Background(), []string{offsiteRoot})
	require.NoError(t, err)

	var paths []string
	for _, f := range snap.Files {
		paths = append(paths, f.RelativePath)
	}
	assert.Equal(t, []string{"keep.jpg"}, paths)
}

func TestSnapshotBuilder_Cancelled(t *testing.T) {
	h := newHarness(t)
	h.offsite("a.txt", "a", testutil.BaseTime)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := offsync.NewSnapshotBuilder(h.fs, nil, h.logger, h.clock).Build(ctx, []string{offsiteRoot})
	assert.ErrorIs(t, err, context.Canceled)
}

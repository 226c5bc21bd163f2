package offsync_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncfs "offsync-go/internal/fs"
	"offsync-go/internal/offsync"
	"offsync-go/internal/testutil"
)

// prunableTree builds an offsite root with a mix of removable and protected directories.
func prunableTree(h *harness) *offsync.Manifest {
	for _, d := range []string{"keep/sub", "old/nested/deeper", "mixed/empty-child", "parent/child", "full", "two", "thumbs"} {
		testutil.Mkdir(h.t, h.fs, "/offsite/A/"+d)
	}
	h.offsite("full/photo.jpg", "x", testutil.BaseTime)
	h.offsite("mixed/file.txt", "x", testutil.BaseTime)
	h.offsite("parent/child/file.txt", "x", testutil.BaseTime)
	h.offsite("thumbs/Thumbs.db", "cache", testutil.BaseTime)
	h.offsite("two/thumbs.db", "cache", testutil.BaseTime)
	h.offsite("two/.DS_Store", "cache", testutil.BaseTime)

	return &offsync.Manifest{
		Roots:            []offsync.Root{{Tag: "A", Path: offsiteRoot}},
		LocalDirectories: map[string][]string{"A": {"keep", "keep/sub"}},
	}
}

func candidatePaths(candidates []offsync.PruneCandidate) []string {
	var out []string
	for _, c := range candidates {
		out = append(out, c.RelativePath)
	}
	return out
}

func TestEmptyDirPruner_Analyze(t *testing.T) {
	h := newHarness(t)
	m := prunableTree(h)
	p := offsync.NewEmptyDirPruner(h.fs, h.deleter, h.logger, nil)

	candidates, err := p.Analyze(context.Background(), m, m.RootPaths())
	require.NoError(t, err)

	assert.Equal(t, []string{"mixed/empty-child", "old", "thumbs"}, candidatePaths(candidates))
	assert.Equal(t, offsync.PruneCandidate{
		Root:         offsync.Root{Tag: "A", Path: offsiteRoot},
		RelativePath: "old",
		Path:         "/offsite/A/old",
	}, candidates[1])
	assert.True(t, testutil.Exists(h.fs, "/offsite/A/old/nested/deeper"), "analysis deletes nothing")
}

func TestEmptyDirPruner_IgnorableFiles(t *testing.T) {
	h := newHarness(t)
	m := prunableTree(h)
	p := offsync.NewEmptyDirPruner(h.fs, h.deleter, h.logger, []string{"desktop.ini"})

	candidates, err := p.Analyze(context.Background(), m, m.RootPaths())
	require.NoError(t, err)
	assert.Equal(t, []string{"mixed/empty-child", "old"}, candidatePaths(candidates))
}

func TestEmptyDirPruner_SkipsUnknownAndMissingRoots(t *testing.T) {
	h := newHarness(t)
	m := prunableTree(h)
	m.LocalDirectories["B"] = nil

	candidates, err := newPruner(h).Analyze(context.Background(), m, map[string]string{"A": "/offsite/moved", "B": "/offsite/B"})
	require.NoError(t, err)
	assert.Empty(t, candidates)

	candidates, err = newPruner(h).Analyze(context.Background(), m, map[string]string{})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func newPruner(h *harness) *offsync.EmptyDirPruner {
	return offsync.NewEmptyDirPruner(h.fs, h.deleter, h.logger, nil)
}

func TestEmptyDirPruner_DeleteDirectories(t *testing.T) {
	h := newHarness(t)
	m := prunableTree(h)
	pruner := newPruner(h)

	candidates, err := pruner.Analyze(context.Background(), m, m.RootPaths())
	require.NoError(t, err)

	n, err := pruner.DeleteDirectories(context.Background(), candidates)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, gone := range []string{"/offsite/A/old", "/offsite/A/thumbs", "/offsite/A/mixed/empty-child"} {
		assert.False(t, testutil.Exists(h.fs, gone), gone)
	}
	for _, kept := range []string{"/offsite/A/keep/sub", "/offsite/A/two", "/offsite/A/mixed/file.txt", "/offsite/A/parent/child"} {
		assert.True(t, testutil.Exists(h.fs, kept), kept)
	}

	again, err := pruner.Analyze(context.Background(), m, m.RootPaths())
	require.NoError(t, err)
	assert.Empty(t, again)
}

type failingDeleter struct {
	offsync.Deleter
	fail string
}

func (d failingDeleter) Delete(root offsync.Root, path string) error {
	if path == d.fail {
		return errors.New("device busy")
	}
	return d.Deleter.Delete(root, path)
}

func TestEmptyDirPruner_DeleteContinuesAfterFailure(t *testing.T) {
	h := newHarness(t)
	m := prunableTree(h)
	deleter := failingDeleter{Deleter: syncfs.NewDirectDeleter(h.fs), fail: "/offsite/A/old"}
	pruner := offsync.NewEmptyDirPruner(h.fs, deleter, h.logger, nil)

	candidates, err := pruner.Analyze(context.Background(), m, m.RootPaths())
	require.NoError(t, err)

	n, err := pruner.DeleteDirectories(context.Background(), candidates)
	assert.Equal(t, 2, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/offsite/A/old")
	assert.Contains(t, err.Error(), "device busy")
	assert.False(t, testutil.Exists(h.fs, "/offsite/A/thumbs"))
}

func TestEmptyDirPruner_AfterApply(t *testing.T) {
	h := newHarness(t)
	divergedTrees(h)
	h.sync(offsync.DiffOptions{})

	m, err := h.store.ReadManifest(patchDir)
	require.NoError(t, err)
	candidates, err := newPruner(h).Analyze(context.Background(), m, m.RootPaths())
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, candidatePaths(candidates))
}

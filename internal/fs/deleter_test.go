package fs

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offsync-go/internal/offsync"
	"offsync-go/internal/testutil"
)

var testRoot = offsync.Root{Tag: "A", Path: "/offsite/A"}

func TestDirectDeleter(t *testing.T) {
	t.Run("removes file", func(t *testing.T) {
		fsys := testutil.NewMemFS()
		testutil.WriteFile(t, fsys, "/offsite/A/old.txt", "x", testutil.BaseTime)

		require.NoError(t, NewDirectDeleter(fsys).Delete(testRoot, "/offsite/A/old.txt"))
		assert.False(t, testutil.Exists(fsys, "/offsite/A/old.txt"))
	})

	t.Run("removes directory tree", func(t *testing.T) {
		fsys := testutil.NewMemFS()
		testutil.WriteFile(t, fsys, "/offsite/A/d/e/Thumbs.db", "x", testutil.BaseTime)

		require.NoError(t, NewDirectDeleter(fsys).Delete(testRoot, "/offsite/A/d"))
		assert.False(t, testutil.Exists(fsys, "/offsite/A/d"))
		assert.True(t, testutil.Exists(fsys, "/offsite/A"))
	})

	t.Run("refuses paths outside the root", func(t *testing.T) {
		fsys := testutil.NewMemFS()
		testutil.WriteFile(t, fsys, "/offsite/B/x", "x", testutil.BaseTime)

		d := NewDirectDeleter(fsys)
		assert.ErrorIs(t, d.Delete(testRoot, "/offsite/B/x"), offsync.ErrOutsideRoot)
		assert.ErrorIs(t, d.Delete(testRoot, "/offsite/A"), offsync.ErrOutsideRoot)
		assert.True(t, testutil.Exists(fsys, "/offsite/B/x"))
	})
}

func TestQuarantineDeleter(t *testing.T) {
	runTime := time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC)

	t.Run("flattens relative path under run folder", func(t *testing.T) {
		fsys := testutil.NewMemFS()
		testutil.WriteFile(t, fsys, "/offsite/A/old.txt", "bye", testutil.BaseTime)
		testutil.WriteFile(t, fsys, "/offsite/A/sub/dir/f.txt", "deep", testutil.BaseTime)

		q := NewQuarantineDeleter(fsys, "/D", runTime)
		require.NoError(t, q.Delete(testRoot, "/offsite/A/old.txt"))
		require.NoError(t, q.Delete(testRoot, "/offsite/A/sub/dir/f.txt"))

		assert.False(t, testutil.Exists(fsys, "/offsite/A/old.txt"))
		assert.Equal(t, "bye", testutil.ReadFile(t, fsys, "/D/20240305-070809/A#old.txt"))
		assert.Equal(t, "deep", testutil.ReadFile(t, fsys, "/D/20240305-070809/A#sub#dir#f.txt"))
		assert.True(t, testutil.ModTime(t, fsys, "/D/20240305-070809/A#old.txt").Equal(testutil.BaseTime))
	})

	t.Run("adds counter on collision", func(t *testing.T) {
		fsys := testutil.NewMemFS()
		q := NewQuarantineDeleter(fsys, "/D", runTime)
		for i := 0; i < 3; i++ {
			testutil.WriteFile(t, fsys, "/offsite/A/a.txt", strings.Repeat("v", i+1), testutil.BaseTime)
			require.NoError(t, q.Delete(testRoot, "/offsite/A/a.txt"))
		}
		got := testutil.ListFiles(t, fsys, "/D/20240305-070809")
		assert.ElementsMatch(t, []string{"A#a.txt", "A#a (1).txt", "A#a (2).txt"}, got)
		assert.Equal(t, "vvv", testutil.ReadFile(t, fsys, "/D/20240305-070809/A#a (2).txt"))
	})

	t.Run("refuses paths outside the root", func(t *testing.T) {
		fsys := testutil.NewMemFS()
		testutil.WriteFile(t, fsys, "/elsewhere/x", "x", testutil.BaseTime)
		q := NewQuarantineDeleter(fsys, "/D", runTime)
		assert.ErrorIs(t, q.Delete(testRoot, "/elsewhere/x"), offsync.ErrOutsideRoot)
	})
}

func TestUniqueName(t *testing.T) {
	taken := map[string]bool{"a.txt": true, "a (1).txt": true, "dir": true}
	isTaken := func(n string) bool { return taken[n] }

	assert.Equal(t, "b.txt", uniqueName("b.txt", isTaken))
	assert.Equal(t, "a (2).txt", uniqueName("a.txt", isTaken))
	assert.Equal(t, "dir (1)", uniqueName("dir", isTaken))
}

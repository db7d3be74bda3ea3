package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepoint/pulsewatch/pkg/models"
)

var (
	dirStat  = models.Stat{Kind: models.KindDirectory}
	fileStat = models.Stat{Kind: models.KindFile, Size: 3}
)

func seed(t *testing.T) *PathIndex {
	t.Helper()
	idx := New()
	idx.Upsert("/root", dirStat)
	idx.Upsert("/root/a.txt", fileStat)
	idx.Upsert("/root/sub", dirStat)
	idx.Upsert("/root/sub/b.txt", fileStat)
	idx.Upsert("/root/sub/deep", dirStat)
	idx.Upsert("/root/sub/deep/c.txt", fileStat)
	idx.Upsert("/rootless.txt", fileStat)
	return idx
}

func TestPathIndex_LookupAndChildren(t *testing.T) {
	idx := seed(t)

	stat, ok := idx.Lookup("/root/a.txt")
	require.True(t, ok)
	assert.Equal(t, int64(3), stat.Size)

	_, ok = idx.Lookup("/root/missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"/root/a.txt", "/root/sub"}, idx.Children("/root"))
	assert.Empty(t, idx.Children("/root/a.txt"))
	assert.Equal(t, []string{"/root", "/root/sub", "/root/sub/deep"}, idx.Directories())
	assert.Equal(t, 7, idx.Len())
}

func TestPathIndex_UpsertRefreshes(t *testing.T) {
	idx := seed(t)

	idx.Upsert("/root/a.txt", models.Stat{Kind: models.KindFile, Size: 10})
	stat, _ := idx.Lookup("/root/a.txt")
	assert.Equal(t, int64(10), stat.Size)
	assert.Equal(t, 7, idx.Len())
}

func TestPathIndex_Remove(t *testing.T) {
	idx := seed(t)

	kind, ok := idx.Remove("/root/a.txt")
	require.True(t, ok)
	assert.Equal(t, models.KindFile, kind)
	assert.Equal(t, []string{"/root/sub"}, idx.Children("/root"))

	_, ok = idx.Remove("/root/a.txt")
	assert.False(t, ok)
}

func TestPathIndex_RemoveTreeDeepestFirst(t *testing.T) {
	idx := seed(t)

	removed := idx.RemoveTree("/root/sub")

	paths := make([]string, 0, len(removed))
	for _, target := range removed {
		paths = append(paths, target.Path)
	}
	assert.Equal(t, []string{
		"/root/sub/deep/c.txt",
		"/root/sub/b.txt",
		"/root/sub/deep",
		"/root/sub",
	}, paths)
	assert.Equal(t, models.KindDirectory, removed[len(removed)-1].Stat.Kind)
	assert.Equal(t, []string{"/root", "/root/a.txt", "/rootless.txt"}, idx.Paths())
	assert.Equal(t, []string{"/root/a.txt"}, idx.Children("/root"))
}

func TestPathIndex_RemoveTreeSiblingPrefix(t *testing.T) {
	idx := New()
	idx.Upsert("/data", dirStat)
	idx.Upsert("/data2", dirStat)
	idx.Upsert("/data2/x", fileStat)

	removed := idx.RemoveTree("/data")
	require.Len(t, removed, 1)
	assert.Equal(t, []string{"/data2", "/data2/x"}, idx.Paths())
}

func TestPathIndex_Clear(t *testing.T) {
	idx := seed(t)
	idx.Clear()

	assert.Zero(t, idx.Len())
	assert.Empty(t, idx.Children("/root"))
}

func TestPathIndex_RelativePathPanics(t *testing.T) {
	idx := New()
	assert.Panics(t, func() { idx.Upsert("relative/path", fileStat) })
	assert.Panics(t, func() { idx.Lookup("relative") })
}

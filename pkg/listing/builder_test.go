package listing

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/lakeview/pkg/inventory"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func names(l *Listing) []string {
	out := make([]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		out = append(out, string(e.Kind)+":"+e.Name)
	}
	return out
}

func TestBuild_Scenario(t *testing.T) {
	rows := []inventory.Row{
		{Key: "a/b.txt", Size: 10, LastModified: t0, StorageClass: "STANDARD"},
		{Key: "a/c/", Size: 0, LastModified: t0},
		{Key: "a/c/d.txt", Size: 5, LastModified: t0},
	}

	l, err := Build(MustResolve("a"), inventory.NewSliceIterator(rows))
	require.NoError(t, err)

	require.Len(t, l.Entries, 2)
	assert.Equal(t, Folder("c", "a/c/"), l.Entries[0])
	assert.Equal(t, File("b.txt", "a/b.txt", 10, t0, "STANDARD"), l.Entries[1])

	assert.Equal(t, Stats{RowsScanned: 3, Folders: 1, Files: 1, BytesDirect: 10}, l.Stats)
	assert.Equal(t, MustResolve("a"), l.Scope)
}

func TestBuild_Empty(t *testing.T) {
	for _, path := range []string{"", "a", "does/not/exist"} {
		l, err := Build(MustResolve(path), inventory.NewSliceIterator(nil))
		require.NoError(t, err)
		assert.True(t, l.IsEmpty())
		assert.NotNil(t, l.Entries)
		assert.Zero(t, l.Stats.RowsScanned)
	}
}

func TestBuild_Root(t *testing.T) {
	rows := []inventory.Row{
		{Key: "readme.md", Size: 1},
		{Key: "data/x", Size: 2},
		{Key: "logs/2024/y", Size: 3},
	}

	l := BuildSlice(Root(), rows)
	assert.Equal(t, []string{"folder:data", "folder:logs", "file:readme.md"}, names(l))
	assert.Equal(t, "data/", l.Entries[0].Prefix)
}

func TestBuild_Discards(t *testing.T) {
	rows := []inventory.Row{
		{Key: "a/", Size: 0},            // placeholder equal to prefix
		{Key: "b/x.txt", Size: 1},       // outside prefix
		{Key: "", Size: 1},              // invalid key
		{Key: "a/neg.txt", Size: -1},    // undecodable size
		{Key: "a//double.txt", Size: 1}, // empty first segment
		{Key: "a/ok.txt", Size: 7},
	}

	l := BuildSlice(MustResolve("a"), rows)
	assert.Equal(t, []string{"file:ok.txt"}, names(l))
	assert.Equal(t, int64(6), l.Stats.RowsScanned)
	assert.Equal(t, int64(5), l.Stats.RowsDiscarded)
}

func TestBuild_UnnavigableFolders(t *testing.T) {
	rows := []inventory.Row{
		{Key: `a\b/x`, Size: 1},
		{Key: "./y", Size: 1},
		{Key: "../z", Size: 1},
		{Key: "tab\tname/q", Size: 1},
		{Key: "ok/k", Size: 1},
		{Key: `back\slash.txt`, Size: 4},
	}

	l := BuildSlice(Root(), rows)
	assert.Equal(t, []string{"folder:ok", `file:back\slash.txt`}, names(l))
	assert.Equal(t, int64(4), l.Stats.RowsDiscarded)

	for _, e := range l.Entries {
		if e.Kind != KindFolder {
			continue
		}
		scope, err := Resolve(e.Prefix)
		require.NoError(t, err)
		assert.Equal(t, e.Prefix, scope.Prefix)
	}
}

func TestBuild_PlaceholderNeverFile(t *testing.T) {
	for _, path := range []string{"a", "a/b", "x/y/z"} {
		scope := MustResolve(path)
		l := BuildSlice(scope, []inventory.Row{{Key: scope.Prefix, Size: 0}})
		assert.True(t, l.IsEmpty(), "placeholder for %q produced %v", path, names(l))
	}
}

func TestBuild_FolderCollapsing(t *testing.T) {
	rows := []inventory.Row{
		{Key: "p/f/1", Size: 1},
		{Key: "p/f/2", Size: 1},
		{Key: "p/f/deep/3", Size: 1},
		{Key: "p/g/", Size: 0},
	}

	l := BuildSlice(MustResolve("p"), rows)
	assert.Equal(t, []string{"folder:f", "folder:g"}, names(l))
	assert.Equal(t, 2, l.Stats.Folders)
	assert.Zero(t, l.Stats.BytesDirect)
}

func TestBuild_FolderWinsOverFile(t *testing.T) {
	rows := []inventory.Row{
		{Key: "p/dup", Size: 4},
		{Key: "p/dup/child", Size: 1},
		{Key: "p/other", Size: 2},
	}

	l := BuildSlice(MustResolve("p"), rows)
	assert.Equal(t, []string{"folder:dup", "file:other"}, names(l))
	assert.Equal(t, int64(2), l.Stats.BytesDirect)
}

func TestBuild_Ordering(t *testing.T) {
	rows := []inventory.Row{
		{Key: "b.txt", Size: 1},
		{Key: "A.txt", Size: 1},
		{Key: "a.txt", Size: 1},
		{Key: "Zeta/x", Size: 1},
		{Key: "alpha/x", Size: 1},
		{Key: "Beta/x", Size: 1},
	}

	l := BuildSlice(Root(), rows)
	assert.Equal(t, []string{
		"folder:alpha", "folder:Beta", "folder:Zeta",
		"file:A.txt", "file:a.txt", "file:b.txt",
	}, names(l))
}

func TestBuild_DuplicateKeysDeterministic(t *testing.T) {
	older := inventory.Row{Key: "k/file", Size: 1, LastModified: t0}
	newer := inventory.Row{Key: "k/file", Size: 2, LastModified: t0.Add(time.Hour)}

	l1 := BuildSlice(MustResolve("k"), []inventory.Row{older, newer})
	l2 := BuildSlice(MustResolve("k"), []inventory.Row{newer, older})

	require.Len(t, l1.Entries, 1)
	assert.Equal(t, int64(2), l1.Entries[0].Size)
	assert.Equal(t, l1.Entries, l2.Entries)
}

func TestBuild_PermutationInvariant(t *testing.T) {
	rows := []inventory.Row{
		{Key: "r/a.txt", Size: 1, LastModified: t0},
		{Key: "r/B.txt", Size: 2, LastModified: t0},
		{Key: "r/b.txt", Size: 3, LastModified: t0},
		{Key: "r/sub/1", Size: 4},
		{Key: "r/sub/2", Size: 5},
		{Key: "r/Sub/3", Size: 6},
		{Key: "r/sub", Size: 7},
		{Key: "r/", Size: 0},
		{Key: "r/z/", Size: 0},
		{Key: "elsewhere", Size: 1},
		{Key: "r/dup.txt", Size: 1, LastModified: t0},
		{Key: "r/dup.txt", Size: 9, LastModified: t0},
	}

	want := BuildSlice(MustResolve("r"), rows)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := append([]inventory.Row(nil), rows...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := BuildSlice(MustResolve("r"), shuffled)
		require.Equal(t, want.Entries, got.Entries)
		require.Equal(t, want.Stats, got.Stats)
	}

	seen := map[string]bool{}
	for _, e := range want.Entries {
		assert.False(t, seen[e.Name], "duplicate name %q", e.Name)
		seen[e.Name] = true
		assert.NotContains(t, e.Name, Delimiter)
	}
}

type failingIterator struct {
	rows []inventory.Row
	pos  int
}

func (it *failingIterator) Next() bool {
	if it.pos >= len(it.rows) {
		return false
	}
	it.pos++
	return true
}

func (it *failingIterator) Row() inventory.Row { return it.rows[it.pos-1] }
func (it *failingIterator) Err() error {
	return &inventory.QueryError{Op: "GetQueryResults", Backend: inventory.BackendAthena, Err: inventory.ErrQueryFailed}
}
func (it *failingIterator) Close() error { return nil }

func TestBuild_IteratorError(t *testing.T) {
	it := &failingIterator{rows: []inventory.Row{{Key: "a/x", Size: 1}}}

	l, err := Build(MustResolve("a"), it)
	require.Error(t, err)
	assert.Nil(t, l)
	assert.True(t, errors.Is(err, inventory.ErrQueryFailed))
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/lakeview/pkg/inventory"
	"github.com/3leaps/lakeview/pkg/listing"
)

var lastMod = time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db))
	return db
}

func seed(t *testing.T, db *sql.DB, records ...Record) {
	t.Helper()
	require.NoError(t, BatchInsertRows(context.Background(), db, records))
}

func keys(t *testing.T, it inventory.RowIterator) []string {
	t.Helper()
	rows, err := inventory.Collect(it)
	require.NoError(t, err)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Key)
	}
	return out
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(context.Background(), db))

	var version int
	require.NoError(t, db.QueryRow(`SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&version))
	assert.Equal(t, SchemaVersion, version)

	assert.Error(t, Migrate(context.Background(), nil))
}

func TestBatchInsertRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, BatchInsertRows(ctx, db, nil))

	seed(t, db,
		CurrentRecord("b", inventory.Row{Key: "a/1", Size: 1, LastModified: lastMod, StorageClass: "STANDARD"}),
		CurrentRecord("b", inventory.Row{Key: "a/2", Size: 2}),
	)

	n, err := CountRows(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFetchRows_Prefix(t *testing.T) {
	db := openTestDB(t)
	seed(t, db,
		CurrentRecord("", inventory.Row{Key: "a/b.txt", Size: 10, LastModified: lastMod, StorageClass: "STANDARD"}),
		CurrentRecord("", inventory.Row{Key: "a/c/", Size: 0}),
		CurrentRecord("", inventory.Row{Key: "a/c/d.txt", Size: 5}),
		CurrentRecord("", inventory.Row{Key: "A/upper.txt", Size: 1}),
		CurrentRecord("", inventory.Row{Key: "a0", Size: 1}),
		CurrentRecord("", inventory.Row{Key: "ab/x", Size: 1}),
		CurrentRecord("", inventory.Row{Key: "a_b/x", Size: 1}),
		CurrentRecord("", inventory.Row{Key: "top.txt", Size: 1}),
	)

	svc := NewService(db, Options{})
	ctx := context.Background()

	it, err := svc.FetchRows(ctx, inventory.Query{Prefix: "a/"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a/b.txt", "a/c/", "a/c/d.txt"}, keys(t, it))

	it, err = svc.FetchRows(ctx, inventory.Query{Prefix: "a_b/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a_b/x"}, keys(t, it))

	it, err = svc.FetchRows(ctx, inventory.Query{})
	require.NoError(t, err)
	assert.Len(t, keys(t, it), 8)

	it, err = svc.FetchRows(ctx, inventory.Query{Prefix: "missing/"})
	require.NoError(t, err)
	assert.Empty(t, keys(t, it))
}

func TestFetchRows_Decoding(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, CurrentRecord("", inventory.Row{Key: "d/file", Size: 42, LastModified: lastMod, StorageClass: "GLACIER"}))
	_, err := db.Exec(`INSERT INTO inventory (key, size) VALUES ('d/nosize', NULL)`)
	require.NoError(t, err)

	svc := NewService(db, Options{})
	it, err := svc.FetchRows(context.Background(), inventory.Query{Prefix: "d/"})
	require.NoError(t, err)

	rows, err := inventory.Collect(it)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byKey := map[string]inventory.Row{}
	for _, r := range rows {
		byKey[r.Key] = r
	}
	assert.Equal(t, int64(42), byKey["d/file"].Size)
	assert.True(t, lastMod.Equal(byKey["d/file"].LastModified))
	assert.Equal(t, "GLACIER", byKey["d/file"].StorageClass)

	assert.Equal(t, int64(-1), byKey["d/nosize"].Size)
	assert.False(t, byKey["d/nosize"].Valid())
}

func TestFetchRows_Filters(t *testing.T) {
	db := openTestDB(t)
	seed(t, db,
		Record{Bucket: "one", Row: inventory.Row{Key: "k/current", Size: 1}, IsLatest: true, Snapshot: "2024-01-01"},
		Record{Bucket: "one", Row: inventory.Row{Key: "k/old", Size: 1}, IsLatest: false, Snapshot: "2024-01-01"},
		Record{Bucket: "one", Row: inventory.Row{Key: "k/deleted", Size: 0}, IsLatest: true, IsDeleteMarker: true, Snapshot: "2024-01-01"},
		Record{Bucket: "one", Row: inventory.Row{Key: "k/yesterday", Size: 1}, IsLatest: true, Snapshot: "2023-12-31"},
		Record{Bucket: "two", Row: inventory.Row{Key: "k/other", Size: 1}, IsLatest: true, Snapshot: "2024-01-01"},
	)

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "no filters",
			opts: Options{},
			want: []string{"k/current", "k/old", "k/deleted", "k/yesterday", "k/other"},
		},
		{
			name: "bucket",
			opts: Options{Bucket: "two"},
			want: []string{"k/other"},
		},
		{
			name: "bucket and snapshot",
			opts: Options{Bucket: "one", Snapshot: "2024-01-01"},
			want: []string{"k/current", "k/old", "k/deleted"},
		},
		{
			name: "versioned",
			opts: Options{Bucket: "one", Snapshot: "2024-01-01", Versioned: true},
			want: []string{"k/current"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(db, tt.opts)
			it, err := svc.FetchRows(context.Background(), inventory.Query{Prefix: "k/"})
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, keys(t, it))
		})
	}
}

func TestFetchRows_BuildsListing(t *testing.T) {
	db := openTestDB(t)
	seed(t, db,
		CurrentRecord("", inventory.Row{Key: "a/b.txt", Size: 10}),
		CurrentRecord("", inventory.Row{Key: "a/c/", Size: 0}),
		CurrentRecord("", inventory.Row{Key: "a/c/d.txt", Size: 5}),
	)

	svc := NewService(db, Options{})
	scope := listing.MustResolve("a")
	it, err := svc.FetchRows(context.Background(), inventory.Query{Prefix: scope.Prefix})
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	l, err := listing.Build(scope, it)
	require.NoError(t, err)
	require.Len(t, l.Entries, 2)
	assert.Equal(t, listing.Folder("c", "a/c/"), l.Entries[0])
	assert.Equal(t, "b.txt", l.Entries[1].Name)
}

func TestFetchRows_MissingTable(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	svc := NewService(db, Options{})
	_, err = svc.FetchRows(ctx, inventory.Query{Prefix: "a/"})
	require.Error(t, err)
	assert.True(t, inventory.IsQueryFailed(err))

	var qErr *inventory.QueryError
	require.True(t, errors.As(err, &qErr))
	assert.Equal(t, inventory.BackendSQLite, qErr.Backend)
	assert.Contains(t, qErr.Reason, "inventory")
}

func TestFetchRows_ExpiredContext(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, Options{})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := svc.FetchRows(ctx, inventory.Query{Prefix: "a/"})
	require.Error(t, err)
	assert.True(t, inventory.IsQueryTimeout(err))
}

func TestWrapError(t *testing.T) {
	ctx := context.Background()

	err := wrapError(ctx, "FetchRows", "a/", errors.New("database is locked (5) (SQLITE_BUSY)"))
	assert.True(t, inventory.IsQueryThrottled(err))

	err = wrapError(ctx, "FetchRows", "a/", errors.New("no such column: bogus"))
	assert.True(t, inventory.IsQueryFailed(err))

	err = wrapError(ctx, "FetchRows", "a/", context.DeadlineExceeded)
	assert.True(t, inventory.IsQueryTimeout(err))
}

func TestPrefixUpperBound(t *testing.T) {
	tests := []struct {
		prefix string
		upper  string
		ok     bool
	}{
		{"a/", "a0", true},
		{"data/2024/", "data/20240", true},
		{"a\xff", "b", true},
		{"\xff\xff", "", false},
	}

	for _, tt := range tests {
		upper, ok := prefixUpperBound(tt.prefix)
		assert.Equal(t, tt.ok, ok, tt.prefix)
		assert.Equal(t, tt.upper, upper, tt.prefix)
	}
}

func TestOpenService_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "inventory.db")

	svc, err := OpenService(ctx, Config{Path: path}, Options{})
	require.NoError(t, err)

	seed(t, svc.DB(), CurrentRecord("", inventory.Row{Key: "x/y", Size: 1}))
	it, err := svc.FetchRows(ctx, inventory.Query{Prefix: "x/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x/y"}, keys(t, it))

	require.NoError(t, svc.Ping(ctx))
	require.NoError(t, svc.Close())
	assert.FileExists(t, path)
	assert.Error(t, svc.Ping(ctx))
}

func TestPing_PoolBusy(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, Options{})
	ctx := context.Background()

	seed(t, db, CurrentRecord("", inventory.Row{Key: "a/1", Size: 1}))

	it, err := svc.FetchRows(ctx, inventory.Query{Prefix: "a/"})
	require.NoError(t, err)
	require.True(t, it.Next())

	pingCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, svc.Ping(pingCtx))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, it.Close())
	require.NoError(t, svc.Ping(ctx))
}

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "empty", cfg: Config{}, wantErr: true},
		{name: "memory", cfg: Config{Path: ":memory:"}, want: ":memory:"},
		{name: "plain path", cfg: Config{Path: filepath.Join(dir, "inv.db")}, want: "file:" + filepath.Join(dir, "inv.db")},
		{name: "url", cfg: Config{URL: "libsql://db.example.io"}, want: "libsql://db.example.io"},
		{name: "url with token", cfg: Config{URL: "libsql://db.example.io", AuthToken: "tok"}, want: "libsql://db.example.io?authToken=tok"},
		{name: "url keeps existing token", cfg: Config{URL: "libsql://db.example.io?authToken=a", AuthToken: "b"}, want: "libsql://db.example.io?authToken=a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

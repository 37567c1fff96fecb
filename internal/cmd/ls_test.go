package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/lakeview/pkg/browse"
	"github.com/3leaps/lakeview/pkg/inventory"
	"github.com/3leaps/lakeview/pkg/inventory/sqlite"
	"github.com/3leaps/lakeview/pkg/listing"
	"github.com/3leaps/lakeview/pkg/match"
	"github.com/3leaps/lakeview/pkg/output"
)

var lsRows = []inventory.Row{
	{Key: "logs/2024/app.log", Size: 2048, LastModified: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), StorageClass: "STANDARD"},
	{Key: "logs/2024/db.log", Size: 10},
	{Key: "logs/2024/archive/old.log", Size: 1},
	{Key: "logs/README.md", Size: 5},
}

func lsResult(t *testing.T, path string) *browse.Result {
	t.Helper()
	return &browse.Result{Listing: listing.BuildSlice(listing.MustResolve(path), lsRows)}
}

func decodeRecords(t *testing.T, b []byte) []output.Record {
	t.Helper()
	var recs []output.Record
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var r output.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		recs = append(recs, r)
	}
	require.NoError(t, sc.Err())
	return recs
}

func TestLsFilter(t *testing.T) {
	entries := lsResult(t, "logs/2024").Entries

	tests := []struct {
		name    string
		pattern []string
		minSize string
		want    []string
	}{
		{name: "no flags", want: []string{"archive", "app.log", "db.log"}},
		{name: "glob", pattern: []string{"*.log"}, want: []string{"app.log", "db.log"}},
		{name: "two globs", pattern: []string{"a*", "zz"}, want: []string{"archive", "app.log"}},
		{name: "min size", minSize: "1KiB", want: []string{"app.log"}},
		{name: "no match", pattern: []string{"*.csv"}, want: []string{}},
	}

	origPattern, origMin := lsPattern, lsMinSize
	defer func() { lsPattern, lsMinSize = origPattern, origMin }()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lsPattern, lsMinSize = tt.pattern, tt.minSize
			f, err := lsFilter()
			require.NoError(t, err)
			got := f.Apply(entries)
			names := make([]string, 0, len(got))
			for _, e := range got {
				names = append(names, e.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestLsFilter_Invalid(t *testing.T) {
	origPattern := lsPattern
	defer func() { lsPattern = origPattern }()

	lsPattern = []string{"[a-"}
	_, err := lsFilter()
	assert.ErrorIs(t, err, match.ErrInvalidPattern)
}

func TestWriteLsJSONL(t *testing.T) {
	res := lsResult(t, "logs/2024")
	f, err := match.New(match.Config{Includes: []string{"*.log"}})
	require.NoError(t, err)
	entries := f.Apply(res.Entries)

	var buf bytes.Buffer
	w := output.NewJSONLWriter(&buf, "job-1", "sqlite")
	require.NoError(t, writeLsJSONL(context.Background(), w, res, entries, 3*time.Millisecond))

	recs := decodeRecords(t, buf.Bytes())
	require.Len(t, recs, 3)
	assert.Equal(t, output.TypeFile, recs[0].Type)
	assert.Equal(t, output.TypeFile, recs[1].Type)
	assert.Equal(t, output.TypeSummary, recs[2].Type)

	var sum output.SummaryRecord
	require.NoError(t, json.Unmarshal(recs[2].Data, &sum))
	assert.Equal(t, "logs/2024", sum.Path)
	assert.Equal(t, "logs/2024/", sum.Prefix)
	assert.Equal(t, 1, sum.Folders)
	assert.Equal(t, 2, sum.Files)
	assert.Equal(t, 2, sum.Matched)
	assert.Equal(t, int64(2058), sum.BytesDirect)
	assert.Equal(t, "3ms", sum.DurationHuman)
}

func TestWriteLsTable(t *testing.T) {
	res := lsResult(t, "logs/2024")

	var buf bytes.Buffer
	require.NoError(t, writeLsTable(&buf, res, res.Entries, nil))

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "archive/")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "2024-03-01 10:00:00")
	assert.Contains(t, out, "/logs/2024: 1 folder(s), 2 file(s)")
	assert.NotContains(t, out, "entries match")
}

func TestWriteLsTable_Filtered(t *testing.T) {
	res := lsResult(t, "logs/2024")
	f, err := match.New(match.Config{Includes: []string{"db.*"}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeLsTable(&buf, res, f.Apply(res.Entries), f))

	out := buf.String()
	assert.Contains(t, out, "db.log")
	assert.NotContains(t, out, "app.log")
	assert.Contains(t, out, "1 of 3 entries match (name: db.*)")
}

func TestLsFailure(t *testing.T) {
	origOutput := lsOutput
	lsOutput = "jsonl"
	defer func() { lsOutput = origOutput }()

	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{
			name:     "invalid path",
			err:      &listing.PathError{Path: "a/../b", Reason: "parent segments are not allowed"},
			wantCode: output.ErrCodeInvalidPath,
			wantExit: foundry.ExitInvalidArgument,
		},
		{
			name:     "throttled",
			err:      &inventory.QueryError{Op: "FetchRows", Err: inventory.ErrQueryThrottled},
			wantCode: output.ErrCodeQueryThrottled,
			wantExit: foundry.ExitExternalServiceUnavailable,
		},
		{
			name:     "timeout",
			err:      &inventory.QueryError{Op: "FetchRows", Err: inventory.ErrQueryTimeout},
			wantCode: output.ErrCodeQueryTimeout,
			wantExit: foundry.ExitExternalServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := lsFailure(context.Background(), &buf, "sqlite", "a", tt.err)
			assert.Equal(t, tt.wantExit, ExitCode(err))

			recs := decodeRecords(t, buf.Bytes())
			require.Len(t, recs, 1)
			assert.Equal(t, output.TypeError, recs[0].Type)

			var rec output.ErrorRecord
			require.NoError(t, json.Unmarshal(recs[0].Data, &rec))
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestLsCommand_SQLite(t *testing.T) {
	isolateConfig(t)
	origOutput, origPattern := lsOutput, lsPattern
	defer func() { lsOutput, lsPattern = origOutput, origPattern }()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "inventory.db")
	svc, err := sqlite.OpenService(ctx, sqlite.Config{Path: dbPath}, sqlite.Options{})
	require.NoError(t, err)
	records := make([]sqlite.Record, 0, len(lsRows))
	for _, r := range lsRows {
		records = append(records, sqlite.CurrentRecord("", r))
	}
	require.NoError(t, sqlite.BatchInsertRows(ctx, svc.DB(), records))
	require.NoError(t, svc.Close())

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	defer rootCmd.SetOut(nil)
	rootCmd.SetArgs([]string{"ls", "logs/", "--backend", "sqlite", "--sqlite-path", dbPath, "--output", "jsonl"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.ExecuteContext(ctx))

	recs := decodeRecords(t, stdout.Bytes())
	require.Len(t, recs, 3)
	assert.Equal(t, output.TypeFolder, recs[0].Type)
	assert.Equal(t, output.TypeFile, recs[1].Type)
	assert.Equal(t, output.TypeSummary, recs[2].Type)
	for _, r := range recs {
		assert.Equal(t, "sqlite", r.Backend)
		assert.NotEmpty(t, r.JobID)
	}

	var folder output.FolderRecord
	require.NoError(t, json.Unmarshal(recs[0].Data, &folder))
	assert.Equal(t, "2024", folder.Name)
	assert.Equal(t, "logs/2024/", folder.Prefix)
}

package inventory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *QueryError
		expected string
	}{
		{
			name: "with query id and prefix",
			err: &QueryError{
				Op:      "GetQueryExecution",
				Backend: BackendAthena,
				QueryID: "q-123",
				Prefix:  "data/",
				Err:     ErrQueryFailed,
			},
			expected: `athena GetQueryExecution [q-123] prefix="data/": query failed`,
		},
		{
			name: "with reason",
			err: &QueryError{
				Op:      "FetchRows",
				Backend: BackendSQLite,
				Reason:  "no such table: inventory",
				Err:     ErrQueryFailed,
			},
			expected: "sqlite FetchRows: query failed: no such table: inventory",
		},
		{
			name: "minimal",
			err: &QueryError{
				Op:      "StartQueryExecution",
				Backend: BackendAthena,
				Err:     ErrQueryThrottled,
			},
			expected: "athena StartQueryExecution: query throttled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestQueryError_Unwrap(t *testing.T) {
	err := &QueryError{Op: "FetchRows", Backend: BackendAthena, Err: ErrQueryTimeout}

	assert.True(t, errors.Is(err, ErrQueryTimeout))
	assert.False(t, errors.Is(err, ErrQueryFailed))
	assert.Equal(t, ErrQueryTimeout, err.Unwrap())
}

func TestPredicates(t *testing.T) {
	wrapped := func(sentinel error) error {
		return &QueryError{Op: "x", Backend: BackendAthena, Err: sentinel}
	}

	assert.True(t, IsQueryFailed(wrapped(ErrQueryFailed)))
	assert.False(t, IsQueryFailed(wrapped(ErrQueryTimeout)))
	assert.True(t, IsQueryTimeout(wrapped(ErrQueryTimeout)))
	assert.True(t, IsQueryThrottled(wrapped(ErrQueryThrottled)))
	assert.False(t, IsQueryThrottled(errors.New("other")))

	assert.True(t, IsRetryable(wrapped(ErrQueryFailed)))
	assert.True(t, IsRetryable(wrapped(ErrQueryTimeout)))
	assert.True(t, IsRetryable(wrapped(ErrQueryThrottled)))
	assert.False(t, IsRetryable(errors.New("invalid path")))
}

func TestRow_Valid(t *testing.T) {
	assert.True(t, Row{Key: "a.txt", Size: 0}.Valid())
	assert.False(t, Row{Key: "", Size: 10}.Valid())
	assert.False(t, Row{Key: "a.txt", Size: -1}.Valid())
}

func TestSliceIterator(t *testing.T) {
	now := time.Now()
	rows := []Row{
		{Key: "a", Size: 1, LastModified: now},
		{Key: "b", Size: 2, LastModified: now},
	}

	it := NewSliceIterator(rows)
	assert.Equal(t, Row{}, it.Row(), "Row before Next is zero")

	require.True(t, it.Next())
	assert.Equal(t, "a", it.Row().Key)
	require.True(t, it.Next())
	assert.Equal(t, "b", it.Row().Key)
	assert.False(t, it.Next())
	assert.False(t, it.Next(), "iteration is not restartable")
	assert.NoError(t, it.Err())
	assert.NoError(t, it.Close())
}

func TestCollect(t *testing.T) {
	rows, err := Collect(NewSliceIterator([]Row{{Key: "x", Size: 3}}))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "x", rows[0].Key)

	rows, err = Collect(NewSliceIterator(nil))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"data/2024/", "data/2024/"},
		{"a_b/", `a\_b/`},
		{"100%/", `100\%/`},
		{`back\slash/`, `back\\slash/`},
		{"日本/", "日本/"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, EscapeLike(tt.input))
		})
	}
}

func TestBackend_String(t *testing.T) {
	assert.Equal(t, "athena", BackendAthena.String())
	assert.Equal(t, "sqlite", BackendSQLite.String())
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2024-03-01 12:30:45.000", want},
		{"2024-03-01 12:30:45.000 UTC", want},
		{"2024-03-01 12:30:45", want},
		{"2024-03-01T12:30:45Z", want},
		{"2024-03-01T14:30:45+02:00", want},
		{"  2024-03-01 12:30:45  ", want},
		{"", time.Time{}},
		{"yesterday", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.True(t, tt.expected.Equal(ParseTimestamp(tt.input)), "got %v", ParseTimestamp(tt.input))
		})
	}
}

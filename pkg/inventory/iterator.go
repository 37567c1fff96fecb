package inventory

import (
	"strings"
	"time"
)

// SliceIterator iterates over an in-memory set of rows.
type SliceIterator struct {
	rows []Row
	pos  int
}

// NewSliceIterator returns a RowIterator over rows.
func NewSliceIterator(rows []Row) *SliceIterator {
	return &SliceIterator{rows: rows, pos: -1}
}

// Next advances to the next row.
func (it *SliceIterator) Next() bool {
	if it.pos+1 >= len(it.rows) {
		it.pos = len(it.rows)
		return false
	}
	it.pos++
	return true
}

// Row returns the current row.
func (it *SliceIterator) Row() Row {
	if it.pos < 0 || it.pos >= len(it.rows) {
		return Row{}
	}
	return it.rows[it.pos]
}

// Err always returns nil.
func (it *SliceIterator) Err() error { return nil }

// Close is a no-op.
func (it *SliceIterator) Close() error { return nil }

// Collect drains it into a slice and closes it.
func Collect(it RowIterator) ([]Row, error) {
	defer func() { _ = it.Close() }()

	var rows []Row
	for it.Next() {
		rows = append(rows, it.Row())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// LikeEscape is the escape character used by EscapeLike.
const LikeEscape = `\`

// EscapeLike escapes LIKE wildcards in a literal prefix so it can be used as
// `key LIKE <escaped>% ESCAPE '\'`.
func EscapeLike(prefix string) string {
	var b strings.Builder
	b.Grow(len(prefix) + 4)
	for _, r := range prefix {
		switch r {
		case '\\', '%', '_':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ RowIterator = (*SliceIterator)(nil)

var timestampLayouts = []string{
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000 MST",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// ParseTimestamp decodes an inventory last-modified value. Query engines
// render timestamps differently, so several layouts are tried; a value that
// matches none yields the zero time.
func ParseTimestamp(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

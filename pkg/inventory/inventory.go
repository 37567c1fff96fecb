// Package inventory defines the query surface over a bucket inventory table.
//
// An inventory table holds one row per object in a bucket, loaded from a
// periodic inventory report. Backends (Athena, a local SQLite table) issue
// prefix-scoped queries against it and stream the matching rows back; they
// never try to interpret key hierarchy themselves.
package inventory

import (
	"context"
	"time"
)

// QueryService issues prefix-scoped queries against an inventory table.
//
// Implementations should:
//   - Constrain results to keys starting with Query.Prefix (no depth filtering)
//   - Perform no retries; retry policy belongs to the caller
//   - Honor the context deadline and report it as ErrQueryTimeout
//   - Be safe for concurrent use
type QueryService interface {
	// FetchRows starts a query and returns a lazy iterator over its rows.
	// The iterator must be closed by the caller.
	FetchRows(ctx context.Context, q Query) (RowIterator, error)

	// Close releases any resources held by the service.
	Close() error
}

// Query scopes an inventory query.
type Query struct {
	// Prefix filters rows to keys starting with this value.
	// Empty string matches every row.
	Prefix string
}

// Row is one object record from the inventory table.
type Row struct {
	// Key is the full object key.
	Key string

	// Size is the object size in bytes. Backends set -1 when the stored
	// value cannot be decoded.
	Size int64

	// LastModified is when the object was last modified.
	LastModified time.Time

	// StorageClass is the storage class reported by the inventory
	// (e.g., STANDARD, GLACIER).
	StorageClass string
}

// Valid reports whether the row carries a usable key and size.
func (r Row) Valid() bool {
	return r.Key != "" && r.Size >= 0
}

// RowIterator walks the rows of a single query execution.
//
// Iteration is finite and cannot be restarted: once Next returns false the
// underlying result has been consumed.
type RowIterator interface {
	// Next advances to the next row. It returns false when the rows are
	// exhausted or an error occurred; check Err to tell the two apart.
	Next() bool

	// Row returns the current row. Only valid after Next returned true.
	Row() Row

	// Err returns the first error encountered during iteration.
	Err() error

	// Close releases the underlying result. Safe to call more than once.
	Close() error
}

// Backend identifies a query backend.
type Backend string

const (
	// BackendAthena is Amazon Athena over an S3 inventory table.
	BackendAthena Backend = "athena"

	// BackendSQLite is a local SQLite/libsql inventory table.
	BackendSQLite Backend = "sqlite"
)

// String returns the string representation of the backend.
func (b Backend) String() string {
	return string(b)
}

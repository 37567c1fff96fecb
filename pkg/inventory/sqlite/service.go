package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/3leaps/lakeview/pkg/inventory"
)

// Options filters the rows a Service returns.
type Options struct {
	// Bucket restricts rows to one source bucket. Optional.
	Bucket string

	// Snapshot selects a dt partition. Optional.
	Snapshot string

	// Versioned returns only current, non-delete-marker versions.
	Versioned bool
}

// Service implements inventory.QueryService over an inventory table.
type Service struct {
	db    *sql.DB
	opts  Options
	owned bool
}

var _ inventory.QueryService = (*Service)(nil)

// NewService wraps an open database. Close does not close db.
func NewService(db *sql.DB, opts Options) *Service {
	return &Service{db: db, opts: opts}
}

// OpenService opens the database, ensures the schema exists, and returns a
// service that owns the connection.
func OpenService(ctx context.Context, cfg Config, opts Options) (*Service, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Service{db: db, opts: opts, owned: true}, nil
}

// DB returns the underlying database handle.
func (s *Service) DB() *sql.DB {
	return s.db
}

// Ping checks that the database is reachable. When every pooled connection
// is checked out, the pool is in use and Ping returns nil rather than
// waiting behind a running query.
func (s *Service) Ping(ctx context.Context) error {
	if st := s.db.Stats(); st.MaxOpenConnections > 0 && st.InUse >= st.MaxOpenConnections {
		return nil
	}
	return s.db.PingContext(ctx)
}

// FetchRows streams the rows whose key starts with q.Prefix.
//
// SQLite's LIKE is case-insensitive for ASCII, so the prefix is matched as a
// byte range on key instead, which also uses the key index.
func (s *Service) FetchRows(ctx context.Context, q inventory.Query) (inventory.RowIterator, error) {
	query, args := s.buildQuery(q.Prefix)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(ctx, "FetchRows", q.Prefix, err)
	}
	return &rowIterator{ctx: ctx, rows: rows, prefix: q.Prefix}, nil
}

// Close closes the database if the service opened it.
func (s *Service) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func (s *Service) buildQuery(prefix string) (string, []any) {
	var (
		preds []string
		args  []any
	)

	if prefix != "" {
		preds = append(preds, "key >= ?")
		args = append(args, prefix)
		if upper, ok := prefixUpperBound(prefix); ok {
			preds = append(preds, "key < ?")
			args = append(args, upper)
		}
	}
	if s.opts.Bucket != "" {
		preds = append(preds, "bucket = ?")
		args = append(args, s.opts.Bucket)
	}
	if s.opts.Snapshot != "" {
		preds = append(preds, "dt = ?")
		args = append(args, s.opts.Snapshot)
	}
	if s.opts.Versioned {
		preds = append(preds, "is_latest = 1", "is_delete_marker = 0")
	}

	query := `SELECT key, size, last_modified_date, storage_class FROM ` + TableName
	if len(preds) > 0 {
		query += ` WHERE ` + strings.Join(preds, " AND ")
	}
	return query, args
}

// prefixUpperBound returns the smallest string greater than every string
// with the given prefix. ok is false when no such bound exists.
func prefixUpperBound(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}

type rowIterator struct {
	ctx    context.Context
	rows   *sql.Rows
	prefix string
	row    inventory.Row
	err    error
	closed bool
}

func (it *rowIterator) Next() bool {
	if it.err != nil || it.closed {
		return false
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			it.err = wrapError(it.ctx, "FetchRows", it.prefix, err)
		}
		it.row = inventory.Row{}
		return false
	}

	var (
		key          sql.NullString
		size         sql.NullInt64
		lastModified sql.NullString
		storageClass sql.NullString
	)
	if err := it.rows.Scan(&key, &size, &lastModified, &storageClass); err != nil {
		it.err = wrapError(it.ctx, "FetchRows", it.prefix, err)
		return false
	}

	it.row = inventory.Row{
		Key:          key.String,
		Size:         -1,
		LastModified: inventory.ParseTimestamp(lastModified.String),
		StorageClass: storageClass.String,
	}
	if size.Valid {
		it.row.Size = size.Int64
	}
	return true
}

func (it *rowIterator) Row() inventory.Row {
	return it.row
}

func (it *rowIterator) Err() error {
	return it.err
}

func (it *rowIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.rows.Close()
}

// wrapError converts driver errors to query errors with the appropriate sentinel.
func wrapError(ctx context.Context, op, prefix string, err error) error {
	wrapped := &inventory.QueryError{
		Op:      op,
		Backend: inventory.BackendSQLite,
		Prefix:  prefix,
		Reason:  err.Error(),
		Err:     inventory.ErrQueryFailed,
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		wrapped.Err = inventory.ErrQueryTimeout
		wrapped.Reason = ""
		return wrapped
	case errors.Is(err, context.Canceled):
		wrapped.Reason = "canceled"
		return wrapped
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "database is locked"),
		strings.Contains(errMsg, "sqlite_busy"),
		strings.Contains(errMsg, "database table is locked"):
		wrapped.Err = inventory.ErrQueryThrottled
	}
	return wrapped
}

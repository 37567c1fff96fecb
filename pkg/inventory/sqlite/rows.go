package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/3leaps/lakeview/pkg/inventory"
)

// Record is one inventory table row.
type Record struct {
	Bucket string
	inventory.Row

	// IsLatest is false for noncurrent versions.
	IsLatest bool

	// IsDeleteMarker marks delete-marker versions.
	IsDeleteMarker bool

	// Snapshot is the dt partition value.
	Snapshot string
}

// CurrentRecord returns a record for the current version of an object.
func CurrentRecord(bucket string, row inventory.Row) Record {
	return Record{Bucket: bucket, Row: row, IsLatest: true}
}

// BatchInsertRows inserts records in a single transaction.
func BatchInsertRows(ctx context.Context, db *sql.DB, records []Record) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO inventory
		 (bucket, key, size, last_modified_date, storage_class,
		  is_latest, is_delete_marker, dt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		var lastModified any
		if !rec.LastModified.IsZero() {
			lastModified = rec.LastModified.UTC().Format(time.RFC3339Nano)
		}
		_, err := stmt.ExecContext(ctx,
			rec.Bucket, rec.Key, rec.Size, lastModified, rec.StorageClass,
			boolInt(rec.IsLatest), boolInt(rec.IsDeleteMarker), rec.Snapshot)
		if err != nil {
			return fmt.Errorf("exec insert for %s: %w", rec.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// CountRows returns the number of rows in the inventory table.
func CountRows(ctx context.Context, db *sql.DB) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventory`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

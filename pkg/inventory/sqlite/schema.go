package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the version recorded by Migrate.
const SchemaVersion = 1

// TableName is the inventory table queried by Service.
const TableName = "inventory"

// Migrate creates the inventory schema in-place.
//
// Columns mirror an S3 Inventory report table: bucket, key, size,
// last_modified_date, storage_class, plus is_latest/is_delete_marker for
// versioned inventories and dt for the snapshot partition.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS inventory (
			bucket TEXT NOT NULL DEFAULT '',
			key TEXT NOT NULL,
			size INTEGER,
			last_modified_date TEXT,
			storage_class TEXT,
			is_latest INTEGER NOT NULL DEFAULT 1,
			is_delete_marker INTEGER NOT NULL DEFAULT 0,
			dt TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_key ON inventory(key);`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_bucket_dt_key ON inventory(bucket, dt, key);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

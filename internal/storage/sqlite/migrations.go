// Package sqlite - versioned database migrations
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// migration is one forward-only schema step. Version numbers are contiguous
// integers starting at 2; version 1 is the base schema.
type migration struct {
	Version int
	Name    string
	Func    func(*sql.Tx) error
}

var migrationsList = []migration{
	{2, "cell_dependencies_metadata", migrateCellDependenciesMetadata},
	{3, "cursors_table", migrateCursorsTable},
	{4, "export_hashes_table", migrateExportHashesTable},
}

const latestSchemaVersion = 4

// runMigrations brings the schema from the stored version up to the latest.
// The whole run happens inside one exclusive transaction so parallel
// processes opening the same database cannot interleave check-then-modify
// steps; the new version is recorded atomically with the changes.
func runMigrations(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply base schema: %w", err)
	}

	version, err := schemaVersionTx(ctx, tx)
	if err != nil {
		return err
	}
	if version == 0 {
		// Fresh database: the base schema above is version 1.
		version = 1
	}
	if version > latestSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, latestSchemaVersion)
	}

	for _, m := range migrationsList {
		if m.Version <= version {
			continue
		}
		if err := m.Func(tx); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		version = m.Version
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, fmt.Sprintf("%d", version)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	committed = true
	return nil
}

func schemaVersionTx(ctx context.Context, tx *sql.Tx) (int, error) {
	var version int
	err := tx.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM metadata WHERE key = 'schema_version'`,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// migrateCellDependenciesMetadata adds the dependencies and metadata JSON
// columns to cells. Both are additive; existing rows get empty values.
func migrateCellDependenciesMetadata(tx *sql.Tx) error {
	for _, stmt := range []string{
		`ALTER TABLE cells ADD COLUMN dependencies TEXT NOT NULL DEFAULT '[]'`,
		`ALTER TABLE cells ADD COLUMN metadata TEXT NOT NULL DEFAULT '{}'`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			if isDuplicateColumnError(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// migrateCursorsTable adds the durable per-consumer cursor table.
func migrateCursorsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS cursors (
			consumer_id TEXT NOT NULL,
			project_key TEXT NOT NULL,
			last_sequence INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (consumer_id, project_key)
		)
	`)
	return err
}

// migrateExportHashesTable adds content-hash tracking so flush can skip
// cells whose exported form is unchanged.
func migrateExportHashesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS export_hashes (
			cell_id TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			exported_at INTEGER NOT NULL,
			FOREIGN KEY (cell_id) REFERENCES cells(id) ON DELETE CASCADE
		)
	`)
	return err
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

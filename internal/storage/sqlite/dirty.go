package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DirtyCells returns the IDs of cells modified since the last JSONL flush,
// oldest mark first.
func (s *Store) DirtyCells(ctx context.Context, projectKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cell_id FROM dirty_cells WHERE project_key = ? ORDER BY marked_at ASC, cell_id ASC
	`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read dirty cells: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dirty cell: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearDirtyCells removes the given IDs from the dirty set after a
// successful flush. Cells re-marked while the flush ran keep their newer
// mark only if it landed after this call reads them, so callers pass the
// exact IDs they flushed.
func (s *Store) ClearDirtyCells(ctx context.Context, projectKey string, cellIDs []string) error {
	if len(cellIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cellIDs)), ",")
	args := make([]interface{}, 0, len(cellIDs)+1)
	args = append(args, projectKey)
	for _, id := range cellIDs {
		args = append(args, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// #nosec G201 - placeholders only, values bound as args
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM dirty_cells WHERE project_key = ? AND cell_id IN (%s)`, placeholders),
			args...)
		if err != nil {
			return fmt.Errorf("failed to clear dirty cells: %w", err)
		}
		return nil
	})
}

// GetExportHash returns the content hash recorded at the cell's last export,
// or "" if it has never been exported.
func (s *Store) GetExportHash(ctx context.Context, cellID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM export_hashes WHERE cell_id = ?`, cellID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read export hash: %w", err)
	}
	return hash, nil
}

// SetExportHash records the content hash of a cell's exported form.
func (s *Store) SetExportHash(ctx context.Context, cellID, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO export_hashes (cell_id, content_hash, exported_at)
		VALUES (?, ?, ?)
		ON CONFLICT (cell_id) DO UPDATE SET content_hash = excluded.content_hash, exported_at = excluded.exported_at
	`, cellID, hash, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record export hash: %w", err)
	}
	return nil
}

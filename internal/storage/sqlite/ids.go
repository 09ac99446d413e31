package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// generateCellID derives a short content-addressed ID for a top-level cell.
// The hash covers the creation-time identity (project, title, type, creation
// instant) so concurrent creators land on different IDs; on the rare
// collision the nonce is bumped and the hash recomputed.
func (s *Store) generateCellID(ctx context.Context, cell *types.Cell) (string, error) {
	for nonce := 0; nonce < 16; nonce++ {
		id := hashCellID(cell.ProjectKey, cell.Title, cell.CellType, cell.CreatedAt, nonce)
		var existing string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM cells WHERE id = ?`, id).Scan(&existing)
		if err == sql.ErrNoRows {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check cell ID: %w", err)
		}
	}
	return "", fmt.Errorf("failed to generate unique cell ID for %q", cell.Title)
}

func hashCellID(projectKey, title, cellType string, createdAt time.Time, nonce int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%d",
		projectKey, title, cellType, createdAt.UnixNano(), nonce)))
	return fmt.Sprintf("bh-%x", sum[:3])
}

// NextChildID allocates the next sequential child ID under an epic,
// e.g. bh-a1b2c3.1, bh-a1b2c3.2. Counters persist in child_counters so
// numbering survives restarts and deleted children are never reused.
func (s *Store) NextChildID(ctx context.Context, parentID string) (string, error) {
	var next int64
	s.mu.Lock()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var innerErr error
		next, innerErr = nextChildNumberTx(ctx, tx, parentID)
		return innerErr
	})
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%d", parentID, next), nil
}

func nextChildNumberTx(ctx context.Context, tx *sql.Tx, parentID string) (int64, error) {
	var next int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO child_counters (parent_id, last_child)
		VALUES (?, 1)
		ON CONFLICT(parent_id) DO UPDATE SET last_child = last_child + 1
		RETURNING last_child
	`, parentID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to advance child counter: %w", err)
	}
	return next, nil
}

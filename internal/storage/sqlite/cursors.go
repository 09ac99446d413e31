package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// AckCursor advances a consumer's durable position. The cursor only moves
// forward: acknowledging a sequence at or below the stored one is a no-op,
// so redelivered batches cannot rewind a consumer.
func (s *Store) AckCursor(ctx context.Context, consumerID, projectKey string, sequence int64) error {
	if consumerID == "" {
		return types.NewValidation("consumer_id", "must not be empty")
	}
	if sequence < 0 {
		return types.NewValidation("sequence", "must not be negative")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (consumer_id, project_key, last_sequence)
		VALUES (?, ?, ?)
		ON CONFLICT (consumer_id, project_key) DO UPDATE
		SET last_sequence = MAX(last_sequence, excluded.last_sequence)
	`, consumerID, projectKey, sequence)
	if err != nil {
		return fmt.Errorf("failed to ack cursor: %w", err)
	}
	return nil
}

// GetCursor returns the consumer's position, sequence 0 if never acked.
func (s *Store) GetCursor(ctx context.Context, consumerID, projectKey string) (*types.Cursor, error) {
	cursor := &types.Cursor{ConsumerID: consumerID, ProjectKey: projectKey}
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM cursors WHERE consumer_id = ? AND project_key = ?
	`, consumerID, projectKey).Scan(&cursor.LastSequence)
	if err == sql.ErrNoRows {
		return cursor, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	}
	return cursor, nil
}

// ResetCursor deletes a consumer's position so the next read starts from the
// beginning of the log.
func (s *Store) ResetCursor(ctx context.Context, consumerID, projectKey string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cursors WHERE consumer_id = ? AND project_key = ?
	`, consumerID, projectKey)
	if err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	return nil
}

package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// Stats assembles an aggregate snapshot of one project. The counts come from
// independent queries; the snapshot is advisory, not transactional.
func (s *Store) Stats(ctx context.Context, projectKey string) (*types.Stats, error) {
	stats := &types.Stats{ProjectKey: projectKey}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM cells WHERE project_key = ? GROUP BY status
	`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to count cells: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan cell count: %w", err)
		}
		stats.TotalCells += count
		switch status {
		case types.StatusOpen:
			stats.OpenCells = count
		case types.StatusInProgress:
			stats.InProgressCells = count
		case types.StatusBlocked:
			stats.BlockedCells = count
		case types.StatusClosed:
			stats.ClosedCells = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agents WHERE project_key = ?`, projectKey).Scan(&stats.Agents); err != nil {
		return nil, fmt.Errorf("failed to count agents: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE project_key = ? AND released_at IS NULL AND expires_at > ?
	`, projectKey, time.Now().UnixMilli()).Scan(&stats.ActiveReservations); err != nil {
		return nil, fmt.Errorf("failed to count reservations: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE project_key = ?`, projectKey).Scan(&stats.Events); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	latest, err := s.LatestSequence(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	stats.LatestSequence = latest
	return stats, nil
}

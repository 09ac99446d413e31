package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// GetSwarmContext returns the latest checkpoint for a worker bead, or
// NotFound if it never checkpointed.
func (s *Store) GetSwarmContext(ctx context.Context, projectKey, beadID string) (*types.SwarmContext, error) {
	var (
		sc             types.SwarmContext
		files, deps    string
		directives     string
		recovery       string
		checkpointedAt int64
		recoveredAt    sql.NullInt64
		recovered      int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT project_key, bead_id, epic_id, strategy, files, dependencies,
		       directives, recovery, checkpointed_at, recovered_at, recovered_from_checkpoint
		FROM swarm_contexts WHERE project_key = ? AND bead_id = ?
	`, projectKey, beadID).Scan(&sc.ProjectKey, &sc.BeadID, &sc.EpicID, &sc.Strategy,
		&files, &deps, &directives, &recovery, &checkpointedAt, &recoveredAt, &recovered)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("swarm context", beadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get swarm context: %w", err)
	}

	if err := json.Unmarshal([]byte(files), &sc.Files); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint files: %w", err)
	}
	if err := json.Unmarshal([]byte(deps), &sc.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint dependencies: %w", err)
	}
	if err := json.Unmarshal([]byte(directives), &sc.Directives); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint directives: %w", err)
	}
	if err := json.Unmarshal([]byte(recovery), &sc.Recovery); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint recovery data: %w", err)
	}
	sc.CheckpointedAt = time.UnixMilli(checkpointedAt).UTC()
	if recoveredAt.Valid {
		t := time.UnixMilli(recoveredAt.Int64).UTC()
		sc.RecoveredAt = &t
	}
	sc.RecoveredFromCheckpoint = recovered != 0
	return &sc, nil
}

// GetEvalRecord returns the accumulated decomposition record for an epic, or
// NotFound if none exists.
func (s *Store) GetEvalRecord(ctx context.Context, projectKey, epicID string) (*types.EvalRecord, error) {
	var (
		rec                types.EvalRecord
		subtasks, outcomes string
		accepted, modified sql.NullInt64
		updatedAt          int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT project_key, epic_id, subtasks, outcomes, success_count, failure_count,
		       total_ms, accepted, modified, notes, updated_at
		FROM eval_records WHERE project_key = ? AND epic_id = ?
	`, projectKey, epicID).Scan(&rec.ProjectKey, &rec.EpicID, &subtasks, &outcomes,
		&rec.SuccessCount, &rec.FailureCount, &rec.TotalMS, &accepted, &modified,
		&rec.Notes, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("eval record", epicID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get eval record: %w", err)
	}

	if err := json.Unmarshal([]byte(subtasks), &rec.Subtasks); err != nil {
		return nil, fmt.Errorf("failed to parse eval subtasks: %w", err)
	}
	if err := json.Unmarshal([]byte(outcomes), &rec.Outcomes); err != nil {
		return nil, fmt.Errorf("failed to parse eval outcomes: %w", err)
	}
	if accepted.Valid {
		v := accepted.Int64 != 0
		rec.Accepted = &v
	}
	if modified.Valid {
		v := modified.Int64 != 0
		rec.Modified = &v
	}
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &rec, nil
}

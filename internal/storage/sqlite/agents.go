package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// GetAgent returns one registered agent, or NotFound.
func (s *Store) GetAgent(ctx context.Context, projectKey, name string) (*types.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_key, name, program, model, task_description, registered_at, last_active_at
		FROM agents WHERE project_key = ? AND name = ?
	`, projectKey, name)

	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("agent", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all agents for a project ordered by most recent
// activity.
func (s *Store) ListAgents(ctx context.Context, projectKey string) ([]*types.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_key, name, program, model, task_description, registered_at, last_active_at
		FROM agents WHERE project_key = ?
		ORDER BY last_active_at DESC
	`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*types.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*types.Agent, error) {
	var (
		agent                    types.Agent
		registeredAt, lastActive int64
	)
	err := row.Scan(&agent.ProjectKey, &agent.Name, &agent.Program, &agent.Model,
		&agent.TaskDescription, &registeredAt, &lastActive)
	if err != nil {
		return nil, err
	}
	agent.RegisteredAt = time.UnixMilli(registeredAt).UTC()
	agent.LastActiveAt = time.UnixMilli(lastActive).UTC()
	return &agent, nil
}

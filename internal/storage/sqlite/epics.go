package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// CreateEpic creates an epic and its subtasks in one transaction: one
// cell_created event per cell, all projected atomically. A failure on any
// subtask rolls back the whole batch, so partially-created epics cannot
// exist. Subtask IDs are <epicID>.1, <epicID>.2 and so on, and each subtask
// depends on the prior one unless it already carries explicit dependencies.
func (s *Store) CreateEpic(ctx context.Context, epic *types.Cell, subtasks []*types.Cell) error {
	now := time.Now().UTC().Truncate(time.Millisecond)

	epic.CellType = types.TypeEpic
	if epic.Status == "" {
		epic.Status = types.StatusOpen
	}
	if epic.CreatedAt.IsZero() {
		epic.CreatedAt = now
	}
	if epic.UpdatedAt.IsZero() {
		epic.UpdatedAt = now
	}
	if err := validateCell(epic); err != nil {
		return err
	}
	if epic.ID == "" {
		id, err := s.generateCellID(ctx, epic)
		if err != nil {
			return err
		}
		epic.ID = id
	}

	for i, sub := range subtasks {
		if sub.CellType == "" {
			sub.CellType = types.TypeTask
		}
		if sub.Status == "" {
			sub.Status = types.StatusOpen
		}
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = now
		}
		if sub.UpdatedAt.IsZero() {
			sub.UpdatedAt = now
		}
		sub.ProjectKey = epic.ProjectKey
		sub.ParentID = &epic.ID
		if err := validateCell(sub); err != nil {
			return fmt.Errorf("subtask %d: %w", i+1, err)
		}
	}

	var events []*types.Event

	s.mu.Lock()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		events = events[:0]

		appendCell := func(cell *types.Cell) error {
			payload, err := json.Marshal(&types.CellCreatedData{Cell: *cell})
			if err != nil {
				return fmt.Errorf("failed to marshal cell payload: %w", err)
			}
			event := &types.Event{
				Type:       types.EventCellCreated,
				ProjectKey: cell.ProjectKey,
				Timestamp:  now.UnixMilli(),
				Data:       payload,
			}
			if err := s.appendEventTx(ctx, tx, event); err != nil {
				return err
			}
			events = append(events, event)
			return nil
		}

		if err := appendCell(epic); err != nil {
			return err
		}

		prev := ""
		for i, sub := range subtasks {
			if sub.ID == "" {
				n, err := nextChildNumberTx(ctx, tx, epic.ID)
				if err != nil {
					return err
				}
				sub.ID = fmt.Sprintf("%s.%d", epic.ID, n)
			}
			if len(sub.Dependencies) == 0 && prev != "" {
				sub.Dependencies = []string{prev}
			}
			if err := appendCell(sub); err != nil {
				return fmt.Errorf("subtask %d: %w", i+1, err)
			}
			prev = sub.ID
		}
		return nil
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}

	for _, event := range events {
		s.notify(event)
	}
	return nil
}

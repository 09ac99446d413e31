package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// AppendEvent assigns the next per-project sequence, inserts the event row,
// and applies its projection, all in one transaction. A projection failure
// aborts the append; the event is never visible to readers. The registered
// event sink fires only after commit.
func (s *Store) AppendEvent(ctx context.Context, event *types.Event) error {
	if !types.KnownEventType(event.Type) {
		return types.NewValidation("type", "unknown event type %q", event.Type)
	}
	if event.ProjectKey == "" {
		return types.NewValidation("project_key", "must not be empty")
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if len(event.Data) == 0 {
		event.Data = []byte("{}")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.appendEventTx(ctx, tx, event)
	})
	if err != nil {
		return err
	}

	s.notify(event)
	return nil
}

// appendEventTx appends one event inside an existing transaction. The
// projection runs first because some handlers (message_sent) patch the
// payload with projection-assigned IDs; within the transaction the order is
// unobservable.
func (s *Store) appendEventTx(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	seq, err := nextSequenceTx(ctx, tx, event.ProjectKey)
	if err != nil {
		return err
	}
	event.Sequence = seq

	if err := s.project(ctx, tx, event); err != nil {
		return fmt.Errorf("projection for %s failed: %w", event.Type, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (project_key, type, timestamp, sequence, data)
		VALUES (?, ?, ?, ?, ?)
	`, event.ProjectKey, string(event.Type), event.Timestamp, event.Sequence, string(event.Data))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event id: %w", err)
	}
	event.ID = id
	return nil
}

func nextSequenceTx(ctx context.Context, tx *sql.Tx, projectKey string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE project_key = ?
	`, projectKey).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next sequence: %w", err)
	}
	return seq, nil
}

// ReadEvents returns events matching filter ordered by sequence ascending.
// Filters compose with AND; AfterSequence is the resumability mechanism.
func (s *Store) ReadEvents(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.ProjectKey != "" {
		conds = append(conds, "project_key = ?")
		args = append(args, filter.ProjectKey)
	}
	if len(filter.Types) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Types))
		conds = append(conds, fmt.Sprintf("type IN (%s)", placeholders[:len(placeholders)-1]))
		for _, t := range filter.Types {
			args = append(args, string(t))
		}
	}
	if filter.Since > 0 {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if filter.Until > 0 {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.Until)
	}
	if filter.AfterSequence > 0 {
		conds = append(conds, "sequence > ?")
		args = append(args, filter.AfterSequence)
	}

	query := "SELECT id, project_key, type, timestamp, sequence, data FROM events"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sequence ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		var (
			event types.Event
			typ   string
			data  string
		)
		if err := rows.Scan(&event.ID, &event.ProjectKey, &typ, &event.Timestamp, &event.Sequence, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Type = types.EventType(typ)
		event.Data = []byte(data)
		events = append(events, &event)
	}
	return events, rows.Err()
}

// LatestSequence returns the max sequence for the project, 0 if none. An
// empty projectKey returns the max across all projects.
func (s *Store) LatestSequence(ctx context.Context, projectKey string) (int64, error) {
	var (
		seq int64
		err error
	)
	if projectKey == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM events`).Scan(&seq)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE project_key = ?`, projectKey).Scan(&seq)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get latest sequence: %w", err)
	}
	return seq, nil
}

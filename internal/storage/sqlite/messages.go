package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/storage"
	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// GetInbox returns the agent's newest messages joined with recipient state.
// The limit is hard-capped at storage.MaxInboxLimit no matter what the
// caller asked for; bodies are elided unless opts.IncludeBodies.
func (s *Store) GetInbox(ctx context.Context, projectKey, agent string, opts storage.InboxOptions) ([]*types.InboxMessage, error) {
	limit := opts.Limit
	if limit <= 0 || limit > storage.MaxInboxLimit {
		limit = storage.MaxInboxLimit
	}

	bodyCol := "''"
	if opts.IncludeBodies {
		bodyCol = "m.body"
	}
	conds := []string{"m.project_key = ?", "r.agent_name = ?"}
	args := []interface{}{projectKey, agent}
	if opts.UrgentOnly {
		conds = append(conds, "m.importance = ?")
		args = append(args, types.ImportanceUrgent)
	}
	if opts.UnreadOnly {
		conds = append(conds, "r.read_at IS NULL")
	}
	args = append(args, limit)

	// bodyCol is one of two literals above, never caller input.
	// #nosec G201
	query := fmt.Sprintf(`
		SELECT m.id, m.project_key, m.from_agent, m.subject, %s, m.thread_id,
		       m.importance, m.ack_required, m.created_at, r.read_at, r.acked_at
		FROM messages m
		JOIN message_recipients r ON r.message_id = m.id
		WHERE %s
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?
	`, bodyCol, strings.Join(conds, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var inbox []*types.InboxMessage
	for rows.Next() {
		var (
			msg              types.InboxMessage
			ack              int
			created          int64
			readAt, ackedAt  sql.NullInt64
		)
		if err := rows.Scan(&msg.ID, &msg.ProjectKey, &msg.FromAgent, &msg.Subject,
			&msg.Body, &msg.ThreadID, &msg.Importance, &ack, &created, &readAt, &ackedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inbox row: %w", err)
		}
		msg.AckRequired = ack != 0
		msg.CreatedAt = time.UnixMilli(created).UTC()
		if readAt.Valid {
			t := time.UnixMilli(readAt.Int64).UTC()
			msg.ReadAt = &t
		}
		if ackedAt.Valid {
			t := time.UnixMilli(ackedAt.Int64).UTC()
			msg.AckedAt = &t
		}
		inbox = append(inbox, &msg)
	}
	return inbox, rows.Err()
}

// GetMessage returns one message including its body, or NotFound.
func (s *Store) GetMessage(ctx context.Context, projectKey string, messageID int64) (*types.Message, error) {
	var (
		msg     types.Message
		ack     int
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_key, from_agent, subject, body, thread_id, importance, ack_required, created_at
		FROM messages WHERE project_key = ? AND id = ?
	`, projectKey, messageID).Scan(&msg.ID, &msg.ProjectKey, &msg.FromAgent, &msg.Subject,
		&msg.Body, &msg.ThreadID, &msg.Importance, &ack, &created)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("message", fmt.Sprintf("%d", messageID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	msg.AckRequired = ack != 0
	msg.CreatedAt = time.UnixMilli(created).UTC()
	return &msg, nil
}

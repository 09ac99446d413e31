package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// project applies the materialized-table update for one event inside the
// append transaction. Exactly one handler per event type; families without a
// projection (task, swarm lifecycle, validation, thread) fall through to the
// log-only no-op.
func (s *Store) project(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	switch event.Type {
	case types.EventAgentRegistered:
		return projectAgentRegistered(ctx, tx, event)
	case types.EventAgentActive:
		return projectAgentActive(ctx, tx, event)
	case types.EventMessageSent:
		return projectMessageSent(ctx, tx, event)
	case types.EventMessageRead:
		return projectMessageReadState(ctx, tx, event, "read_at")
	case types.EventMessageAcked:
		return projectMessageReadState(ctx, tx, event, "acked_at")
	case types.EventFileReserved:
		return projectFileReserved(ctx, tx, event)
	case types.EventFileReleased:
		return projectFileReleased(ctx, tx, event)
	case types.EventCellCreated:
		return projectCellCreated(ctx, tx, event)
	case types.EventCellStatusChanged:
		return projectCellStatusChanged(ctx, tx, event)
	case types.EventCellClosed:
		return projectCellClosed(ctx, tx, event)
	case types.EventDecompositionGenerated:
		return projectDecomposition(ctx, tx, event)
	case types.EventSubtaskOutcome:
		return projectSubtaskOutcome(ctx, tx, event)
	case types.EventHumanFeedback:
		return projectHumanFeedback(ctx, tx, event)
	case types.EventSwarmCheckpointed:
		return projectSwarmCheckpointed(ctx, tx, event)
	case types.EventSwarmRecovered:
		return projectSwarmRecovered(ctx, tx, event)
	case types.EventFileConflict,
		types.EventThreadCreated, types.EventThreadActivity,
		types.EventTaskStarted, types.EventTaskProgress,
		types.EventTaskCompleted, types.EventTaskBlocked,
		types.EventSwarmStarted, types.EventWorkerSpawned,
		types.EventWorkerCompleted, types.EventReviewStarted,
		types.EventReviewCompleted, types.EventSwarmCompleted,
		types.EventCheckpointCreated, types.EventContextCompacted,
		types.EventValidationStarted, types.EventValidationIssue,
		types.EventValidationCompleted:
		// Log-only: queried straight off the events table.
		return nil
	default:
		return types.NewValidation("type", "no projection for event type %q", event.Type)
	}
}

func projectAgentRegistered(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var data types.AgentRegisteredData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad agent_registered payload: %v", err)
	}
	if data.Name == "" {
		return types.NewValidation("data.name", "must not be empty")
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO agents (project_key, name, program, model, task_description, registered_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_key, name) DO UPDATE SET
			program = excluded.program,
			model = excluded.model,
			task_description = excluded.task_description,
			last_active_at = excluded.last_active_at
	`, event.ProjectKey, data.Name, data.Program, data.Model, data.TaskDescription,
		event.Timestamp, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert agent: %w", err)
	}
	return nil
}

func projectAgentActive(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var data types.AgentActiveData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad agent_active payload: %v", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE agents SET last_active_at = ? WHERE project_key = ? AND name = ?
	`, event.Timestamp, event.ProjectKey, data.Name)
	if err != nil {
		return fmt.Errorf("failed to touch agent: %w", err)
	}
	return nil
}

// projectMessageSent inserts the message and one recipient row per target.
// The projection-assigned message ID is patched back into the event payload
// so log consumers can correlate read/ack events.
func projectMessageSent(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var data types.MessageSentData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad message_sent payload: %v", err)
	}
	if data.From == "" {
		return types.NewValidation("data.from", "must not be empty")
	}
	if len(data.To) == 0 {
		return types.NewValidation("data.to", "must name at least one recipient")
	}
	if data.Importance == "" {
		data.Importance = types.ImportanceNormal
	}
	if !types.ValidImportance(data.Importance) {
		return types.NewValidation("data.importance", "unknown importance %q", data.Importance)
	}

	ack := 0
	if data.AckRequired {
		ack = 1
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (project_key, from_agent, subject, body, thread_id, importance, ack_required, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ProjectKey, data.From, data.Subject, data.Body, data.ThreadID,
		data.Importance, ack, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	messageID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get message id: %w", err)
	}

	for _, recipient := range data.To {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_recipients (message_id, agent_name) VALUES (?, ?)
		`, messageID, recipient); err != nil {
			if isUniqueConstraintError(err) {
				return &types.IntegrityError{Constraint: "message_recipients unique", Err: err}
			}
			return fmt.Errorf("failed to insert recipient: %w", err)
		}
	}

	data.MessageID = messageID
	patched, err := json.Marshal(&data)
	if err != nil {
		return fmt.Errorf("failed to patch message payload: %w", err)
	}
	event.Data = patched
	return nil
}

func projectMessageReadState(ctx context.Context, tx *sql.Tx, event *types.Event, column string) error {
	var data types.MessageReadData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad message state payload: %v", err)
	}
	// column is one of the two constants above, never caller input.
	// #nosec G201
	query := fmt.Sprintf(`UPDATE message_recipients SET %s = ? WHERE message_id = ? AND agent_name = ?`, column)
	res, err := tx.ExecContext(ctx, query, event.Timestamp, data.MessageID, data.Agent)
	if err != nil {
		return fmt.Errorf("failed to update recipient state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return types.NewNotFound("message", fmt.Sprintf("%d (recipient %s)", data.MessageID, data.Agent))
	}
	return nil
}

// projectFileReserved first drops any still-active rows for the same
// (project, agent, pattern), then inserts one reservation row per path.
func projectFileReserved(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var data types.FileReservedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad file_reserved payload: %v", err)
	}
	if data.Agent == "" {
		return types.NewValidation("data.agent", "must not be empty")
	}

	exclusive := 0
	if data.Exclusive {
		exclusive = 1
	}
	for i, path := range data.Paths {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM reservations
			WHERE project_key = ? AND agent_name = ? AND path_pattern = ?
			  AND released_at IS NULL AND expires_at > ?
		`, event.ProjectKey, data.Agent, path, event.Timestamp); err != nil {
			return fmt.Errorf("failed to replace prior reservation: %w", err)
		}

		holderID := ""
		if i < len(data.HolderIDs) {
			holderID = data.HolderIDs[i]
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reservations
				(project_key, agent_name, path_pattern, exclusive, reason, created_at, expires_at, lock_holder_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, event.ProjectKey, data.Agent, path, exclusive, data.Reason,
			event.Timestamp, data.ExpiresAt, holderID); err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
	}
	return nil
}

// projectFileReleased marks matching active reservations released. Targeting
// precedence: explicit IDs, then paths, then all of the agent's active rows.
func projectFileReleased(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var data types.FileReleasedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad file_released payload: %v", err)
	}

	switch {
	case len(data.ReservationIDs) > 0:
		for _, id := range data.ReservationIDs {
			if _, err := tx.ExecContext(ctx, `
				UPDATE reservations SET released_at = ?
				WHERE id = ? AND project_key = ? AND agent_name = ? AND released_at IS NULL
			`, event.Timestamp, id, event.ProjectKey, data.Agent); err != nil {
				return fmt.Errorf("failed to release reservation %d: %w", id, err)
			}
		}
	case len(data.Paths) > 0:
		for _, path := range data.Paths {
			if _, err := tx.ExecContext(ctx, `
				UPDATE reservations SET released_at = ?
				WHERE project_key = ? AND agent_name = ? AND path_pattern = ? AND released_at IS NULL
			`, event.Timestamp, event.ProjectKey, data.Agent, path); err != nil {
				return fmt.Errorf("failed to release path %s: %w", path, err)
			}
		}
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE reservations SET released_at = ?
			WHERE project_key = ? AND agent_name = ? AND released_at IS NULL
		`, event.Timestamp, event.ProjectKey, data.Agent); err != nil {
			return fmt.Errorf("failed to release reservations: %w", err)
		}
	}
	return nil
}

func projectCellCreated(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var data types.CellCreatedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad cell_created payload: %v", err)
	}
	cell := &data.Cell
	if cell.ProjectKey == "" {
		cell.ProjectKey = event.ProjectKey
	}
	if err := insertCellTx(ctx, tx, cell); err != nil {
		return err
	}
	return markDirtyTx(ctx, tx, event.ProjectKey, cell.ID, event.Timestamp)
}

func projectCellStatusChanged(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var data types.CellEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad cell_status_changed payload: %v", err)
	}
	if !types.ValidStatus(data.NewStatus) || data.NewStatus == types.StatusClosed {
		return types.NewValidation("data.new_status", "invalid transition target %q", data.NewStatus)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE cells SET status = ?, updated_at = ?
		WHERE id = ? AND project_key = ?
	`, data.NewStatus, time.UnixMilli(event.Timestamp).UTC(), data.CellID, event.ProjectKey)
	if err != nil {
		return fmt.Errorf("failed to update cell status: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return types.NewNotFound("cell", data.CellID)
	}
	return markDirtyTx(ctx, tx, event.ProjectKey, data.CellID, event.Timestamp)
}

func projectCellClosed(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var data types.CellEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad cell_closed payload: %v", err)
	}
	now := time.UnixMilli(event.Timestamp).UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE cells SET status = 'closed', closed_at = ?, updated_at = ?
		WHERE id = ? AND project_key = ? AND closed_at IS NULL
	`, now, now, data.CellID, event.ProjectKey)
	if err != nil {
		return fmt.Errorf("failed to close cell: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		// Closing an already-closed cell is a no-op success; a missing cell
		// is caught by the tracker before the event is appended.
		return nil
	}
	return markDirtyTx(ctx, tx, event.ProjectKey, data.CellID, event.Timestamp)
}

func projectDecomposition(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var data types.DecompositionData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad decomposition payload: %v", err)
	}
	subtasks, err := json.Marshal(data.Subtasks)
	if err != nil {
		return fmt.Errorf("failed to marshal subtasks: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO eval_records (project_key, epic_id, subtasks, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project_key, epic_id) DO UPDATE SET
			subtasks = excluded.subtasks,
			updated_at = excluded.updated_at
	`, event.ProjectKey, data.EpicID, string(subtasks), event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert eval record: %w", err)
	}
	return nil
}

// projectSubtaskOutcome appends the outcome to the epic's outcomes array and
// recomputes the success/duration aggregates.
func projectSubtaskOutcome(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var data types.SubtaskOutcomeData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad subtask_outcome payload: %v", err)
	}

	var raw string
	err := tx.QueryRowContext(ctx, `
		SELECT outcomes FROM eval_records WHERE project_key = ? AND epic_id = ?
	`, event.ProjectKey, data.EpicID).Scan(&raw)
	if err == sql.ErrNoRows {
		raw = "[]"
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO eval_records (project_key, epic_id, updated_at) VALUES (?, ?, ?)
		`, event.ProjectKey, data.EpicID, event.Timestamp); err != nil {
			return fmt.Errorf("failed to seed eval record: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to read eval record: %w", err)
	}

	var outcomes []types.SubtaskOutcome
	if err := json.Unmarshal([]byte(raw), &outcomes); err != nil {
		return fmt.Errorf("failed to parse outcomes: %w", err)
	}
	outcomes = append(outcomes, data.Outcome)

	var success, failure int
	var totalMS int64
	for _, o := range outcomes {
		if o.Success {
			success++
		} else {
			failure++
		}
		totalMS += o.DurationMS
	}

	encoded, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal outcomes: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE eval_records
		SET outcomes = ?, success_count = ?, failure_count = ?, total_ms = ?, updated_at = ?
		WHERE project_key = ? AND epic_id = ?
	`, string(encoded), success, failure, totalMS, event.Timestamp, event.ProjectKey, data.EpicID)
	if err != nil {
		return fmt.Errorf("failed to update eval record: %w", err)
	}
	return nil
}

func projectHumanFeedback(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var data types.HumanFeedbackData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad human_feedback payload: %v", err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO eval_records (project_key, epic_id, accepted, modified, notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_key, epic_id) DO UPDATE SET
			accepted = COALESCE(excluded.accepted, eval_records.accepted),
			modified = COALESCE(excluded.modified, eval_records.modified),
			notes = CASE WHEN excluded.notes != '' THEN excluded.notes ELSE eval_records.notes END,
			updated_at = excluded.updated_at
	`, event.ProjectKey, data.EpicID, boolPtrToInt(data.Accepted), boolPtrToInt(data.Modified),
		data.Notes, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to patch eval record: %w", err)
	}
	return nil
}

func projectSwarmCheckpointed(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var data types.CheckpointData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad checkpoint payload: %v", err)
	}
	if data.BeadID == "" {
		return types.NewValidation("data.bead_id", "must not be empty")
	}
	files, _ := json.Marshal(emptyIfNil(data.Files))
	deps, _ := json.Marshal(emptyIfNil(data.Dependencies))
	directives, _ := json.Marshal(emptyMapIfNil(data.Directives))
	recovery, _ := json.Marshal(emptyMapIfNil(data.Recovery))

	_, err := tx.ExecContext(ctx, `
		INSERT INTO swarm_contexts
			(project_key, bead_id, epic_id, strategy, files, dependencies, directives, recovery, checkpointed_at, recovered_at, recovered_from_checkpoint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0)
		ON CONFLICT (project_key, bead_id) DO UPDATE SET
			epic_id = excluded.epic_id,
			strategy = excluded.strategy,
			files = excluded.files,
			dependencies = excluded.dependencies,
			directives = excluded.directives,
			recovery = excluded.recovery,
			checkpointed_at = excluded.checkpointed_at
	`, event.ProjectKey, data.BeadID, data.EpicID, data.Strategy,
		string(files), string(deps), string(directives), string(recovery), event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert swarm context: %w", err)
	}
	return nil
}

func projectSwarmRecovered(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var data types.CheckpointData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return types.NewValidation("data", "bad recovery payload: %v", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE swarm_contexts
		SET recovered_at = ?, recovered_from_checkpoint = 1
		WHERE project_key = ? AND bead_id = ?
	`, event.Timestamp, event.ProjectKey, data.BeadID)
	if err != nil {
		return fmt.Errorf("failed to mark swarm recovered: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return types.NewNotFound("swarm context", data.BeadID)
	}
	return nil
}

func markDirtyTx(ctx context.Context, tx *sql.Tx, projectKey, cellID string, ts int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO dirty_cells (cell_id, project_key, marked_at)
		VALUES (?, ?, ?)
		ON CONFLICT (cell_id) DO UPDATE SET marked_at = excluded.marked_at
	`, cellID, projectKey, ts)
	if err != nil {
		return fmt.Errorf("failed to mark cell dirty: %w", err)
	}
	return nil
}

func boolPtrToInt(b *bool) interface{} {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyMapIfNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// validateCell checks the fields every stored cell must satisfy.
func validateCell(cell *types.Cell) error {
	if cell.Title == "" {
		return types.NewValidation("title", "must not be empty")
	}
	if len(cell.Title) > 500 {
		return types.NewValidation("title", "exceeds 500 characters")
	}
	if !types.ValidCellType(cell.CellType) {
		return types.NewValidation("issue_type", "unknown cell type %q", cell.CellType)
	}
	if !types.ValidStatus(cell.Status) {
		return types.NewValidation("status", "unknown status %q", cell.Status)
	}
	if cell.Priority < 0 || cell.Priority > 3 {
		return types.NewValidation("priority", "must be 0..3, got %d", cell.Priority)
	}
	if cell.Status == types.StatusClosed && cell.ClosedAt == nil {
		return types.NewValidation("closed_at", "closed cells must carry closed_at")
	}
	return nil
}

// validTransition implements the status machine: open, in_progress and
// blocked move freely between each other; closed is terminal and reachable
// from anywhere.
func validTransition(from, to string) bool {
	if to == types.StatusClosed {
		return true
	}
	if from == types.StatusClosed {
		return false
	}
	return types.ValidStatus(from) && types.ValidStatus(to)
}

// CreateCell fills defaults, assigns an ID if missing, and appends a
// cell_created event whose projection materializes the row and marks it
// dirty.
func (s *Store) CreateCell(ctx context.Context, cell *types.Cell) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if cell.CellType == "" {
		cell.CellType = types.TypeTask
	}
	if cell.Status == "" {
		cell.Status = types.StatusOpen
	}
	if cell.CreatedAt.IsZero() {
		cell.CreatedAt = now
	}
	if cell.UpdatedAt.IsZero() {
		cell.UpdatedAt = now
	}
	if err := validateCell(cell); err != nil {
		return err
	}
	if cell.ID == "" {
		id, err := s.generateCellID(ctx, cell)
		if err != nil {
			return err
		}
		cell.ID = id
	}

	payload, err := json.Marshal(&types.CellCreatedData{Cell: *cell})
	if err != nil {
		return fmt.Errorf("failed to marshal cell payload: %w", err)
	}
	return s.AppendEvent(ctx, &types.Event{
		Type:       types.EventCellCreated,
		ProjectKey: cell.ProjectKey,
		Timestamp:  now.UnixMilli(),
		Data:       payload,
	})
}

// insertCellTx writes one cell row, failing on duplicate IDs.
func insertCellTx(ctx context.Context, tx *sql.Tx, cell *types.Cell) error {
	deps, err := json.Marshal(emptyIfNil(cell.Dependencies))
	if err != nil {
		return fmt.Errorf("failed to marshal dependencies: %w", err)
	}
	meta, err := json.Marshal(emptyMapIfNil(cell.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cells (id, project_key, cell_type, status, title, description, priority,
			parent_id, assignee, dependencies, metadata, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cell.ID, cell.ProjectKey, cell.CellType, cell.Status, cell.Title, cell.Description,
		cell.Priority, cell.ParentID, cell.Assignee, string(deps), string(meta),
		cell.CreatedAt, cell.UpdatedAt, cell.ClosedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &types.IntegrityError{Constraint: "cells primary key", Err: err}
		}
		return fmt.Errorf("failed to insert cell: %w", err)
	}
	return nil
}

const cellColumns = `id, project_key, cell_type, status, title, description, priority,
	parent_id, assignee, dependencies, metadata, created_at, updated_at, closed_at`

// GetCell returns one cell by exact ID, or NotFound.
func (s *Store) GetCell(ctx context.Context, projectKey, id string) (*types.Cell, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cellColumns+` FROM cells WHERE project_key = ? AND id = ?`, projectKey, id)
	cell, err := scanCell(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("cell", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cell: %w", err)
	}
	return cell, nil
}

func scanCell(row rowScanner) (*types.Cell, error) {
	var (
		cell        types.Cell
		description sql.NullString
		parentID    sql.NullString
		assignee    sql.NullString
		deps, meta  string
		closedAt    sql.NullTime
	)
	err := row.Scan(&cell.ID, &cell.ProjectKey, &cell.CellType, &cell.Status, &cell.Title,
		&description, &cell.Priority, &parentID, &assignee, &deps, &meta,
		&cell.CreatedAt, &cell.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		cell.Description = &description.String
	}
	if parentID.Valid {
		cell.ParentID = &parentID.String
	}
	if assignee.Valid {
		cell.Assignee = &assignee.String
	}
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		cell.ClosedAt = &t
	}
	if err := json.Unmarshal([]byte(deps), &cell.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to parse dependencies: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &cell.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	cell.CreatedAt = cell.CreatedAt.UTC()
	cell.UpdatedAt = cell.UpdatedAt.UTC()
	return &cell, nil
}

// QueryCells filters cells by exact values. Ready=true delegates to the
// next-ready selection and returns at most one cell.
func (s *Store) QueryCells(ctx context.Context, projectKey string, filter types.CellFilter) ([]*types.Cell, error) {
	if filter.Ready {
		cell, err := s.NextReadyCell(ctx, projectKey)
		if err != nil {
			return nil, err
		}
		if cell == nil {
			return []*types.Cell{}, nil
		}
		return []*types.Cell{cell}, nil
	}

	conds := []string{"project_key = ?"}
	args := []interface{}{projectKey}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CellType != "" {
		conds = append(conds, "cell_type = ?")
		args = append(args, filter.CellType)
	}
	if filter.ParentID != "" {
		conds = append(conds, "parent_id = ?")
		args = append(args, filter.ParentID)
	}

	query := `SELECT ` + cellColumns + ` FROM cells WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY priority ASC, created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cells: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cells []*types.Cell
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cell: %w", err)
		}
		cells = append(cells, cell)
	}
	return cells, rows.Err()
}

// NextReadyCell deterministically selects the open cell with no open
// dependencies: lowest priority value wins, ties broken by earliest
// created_at, then lexicographic ID.
func (s *Store) NextReadyCell(ctx context.Context, projectKey string) (*types.Cell, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cellColumns+` FROM cells c
		WHERE c.project_key = ? AND c.status = 'open'
		  AND NOT EXISTS (
		    SELECT 1 FROM json_each(c.dependencies) je
		    JOIN cells d ON d.id = je.value AND d.project_key = c.project_key
		    WHERE d.status != 'closed'
		  )
		ORDER BY c.priority ASC, c.created_at ASC, c.id ASC
		LIMIT 1
	`, projectKey)
	cell, err := scanCell(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select ready cell: %w", err)
	}
	return cell, nil
}

// ResolveCellID maps a full ID or unique prefix to the full ID. Zero matches
// is NotFound; several is Ambiguous with the candidate list.
func (s *Store) ResolveCellID(ctx context.Context, projectKey, idOrPrefix string) (string, error) {
	if idOrPrefix == "" {
		return "", types.NewValidation("id", "must not be empty")
	}

	var exact string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM cells WHERE project_key = ? AND id = ?`, projectKey, idOrPrefix).Scan(&exact)
	if err == nil {
		return exact, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to resolve cell ID: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM cells WHERE project_key = ? AND id LIKE ? ESCAPE '\' ORDER BY id LIMIT 10
	`, projectKey, escapeLike(idOrPrefix)+"%")
	if err != nil {
		return "", fmt.Errorf("failed to scan cell prefixes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(candidates) {
	case 0:
		return "", types.NewNotFound("cell", idOrPrefix)
	case 1:
		return candidates[0], nil
	default:
		return "", &types.AmbiguousIDError{Prefix: idOrPrefix, Candidates: candidates}
	}
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

// UpdateCell applies a field patch to a cell resolved from id (full or
// prefix). Status changes route through SetCellStatus so the transition is
// validated and logged; other fields update the row directly and mark it
// dirty, matching the log's closed tag set which has no cell_updated event.
func (s *Store) UpdateCell(ctx context.Context, projectKey, id string, updates map[string]interface{}) (*types.Cell, error) {
	fullID, err := s.ResolveCellID(ctx, projectKey, id)
	if err != nil {
		return nil, err
	}

	if status, ok := updates["status"].(string); ok {
		if len(updates) > 1 {
			return nil, types.NewValidation("status", "status must be patched on its own")
		}
		return s.SetCellStatus(ctx, projectKey, fullID, status)
	}

	var (
		sets []string
		args []interface{}
	)
	for field, value := range updates {
		switch field {
		case "title", "description", "assignee", "priority":
			sets = append(sets, field+" = ?")
			args = append(args, value)
		case "dependencies":
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, types.NewValidation("dependencies", "not serializable: %v", err)
			}
			sets = append(sets, "dependencies = ?")
			args = append(args, string(encoded))
		case "metadata":
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, types.NewValidation("metadata", "not serializable: %v", err)
			}
			sets = append(sets, "metadata = ?")
			args = append(args, string(encoded))
		default:
			return nil, types.NewValidation(field, "unknown or immutable field")
		}
	}
	if len(sets) == 0 {
		return s.GetCell(ctx, projectKey, fullID)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	sets = append(sets, "updated_at = ?")
	args = append(args, now, fullID, projectKey)

	s.mu.Lock()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		// #nosec G201 - field names validated against the allowlist above
		query := fmt.Sprintf(`UPDATE cells SET %s WHERE id = ? AND project_key = ?`, strings.Join(sets, ", "))
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update cell: %w", err)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return types.NewNotFound("cell", fullID)
		}
		return markDirtyTx(ctx, tx, projectKey, fullID, now.UnixMilli())
	})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.GetCell(ctx, projectKey, fullID)
}

// SetCellStatus validates the transition and appends cell_status_changed
// (or cell_closed for terminal moves).
func (s *Store) SetCellStatus(ctx context.Context, projectKey, id, status string) (*types.Cell, error) {
	fullID, err := s.ResolveCellID(ctx, projectKey, id)
	if err != nil {
		return nil, err
	}
	cell, err := s.GetCell(ctx, projectKey, fullID)
	if err != nil {
		return nil, err
	}
	if status == types.StatusClosed {
		return s.CloseCell(ctx, projectKey, fullID, "")
	}
	if !types.ValidStatus(status) {
		return nil, types.NewValidation("status", "unknown status %q", status)
	}
	if !validTransition(cell.Status, status) {
		return nil, types.NewValidation("status", "cannot move %s from %s to %s", fullID, cell.Status, status)
	}
	if cell.Status == status {
		return cell, nil
	}

	payload, err := json.Marshal(&types.CellEventData{
		CellID:    fullID,
		OldStatus: cell.Status,
		NewStatus: status,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status payload: %w", err)
	}
	if err := s.AppendEvent(ctx, &types.Event{
		Type:       types.EventCellStatusChanged,
		ProjectKey: projectKey,
		Data:       payload,
	}); err != nil {
		return nil, err
	}
	return s.GetCell(ctx, projectKey, fullID)
}

// CloseCell moves a cell to the terminal state. Closing an already-closed
// cell is a no-op success; a missing cell is NotFound.
func (s *Store) CloseCell(ctx context.Context, projectKey, id, reason string) (*types.Cell, error) {
	fullID, err := s.ResolveCellID(ctx, projectKey, id)
	if err != nil {
		return nil, err
	}
	cell, err := s.GetCell(ctx, projectKey, fullID)
	if err != nil {
		return nil, err
	}
	if cell.Closed() {
		return cell, nil
	}

	payload, err := json.Marshal(&types.CellEventData{
		CellID:    fullID,
		OldStatus: cell.Status,
		NewStatus: types.StatusClosed,
		Reason:    reason,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal close payload: %w", err)
	}
	if err := s.AppendEvent(ctx, &types.Event{
		Type:       types.EventCellClosed,
		ProjectKey: projectKey,
		Data:       payload,
	}); err != nil {
		return nil, err
	}
	return s.GetCell(ctx, projectKey, fullID)
}

// DeleteCell physically removes a cell. Reserved for epic rollback and
// explicit destructive maintenance; normal lifecycles end at closed.
func (s *Store) DeleteCell(ctx context.Context, projectKey, id string) error {
	fullID, err := s.ResolveCellID(ctx, projectKey, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM cells WHERE id = ? AND project_key = ?`, fullID, projectKey)
		if err != nil {
			return fmt.Errorf("failed to delete cell: %w", err)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return types.NewNotFound("cell", fullID)
		}
		return nil
	})
}

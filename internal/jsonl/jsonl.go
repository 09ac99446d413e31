// Package jsonl implements the line-oriented cell interchange format shared
// by export and import. One JSON object per line, stable field order via the
// Record struct, timestamps in UTC RFC3339.
package jsonl

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// maxLineSize bounds a single record line. Descriptions are free text but a
// multi-megabyte line is a corrupt file, not a cell.
const maxLineSize = 2 * 1024 * 1024

// Record is the on-disk shape of one cell.
type Record struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  *string           `json:"description,omitempty"`
	Status       string            `json:"status"`
	Priority     int               `json:"priority"`
	IssueType    string            `json:"issue_type"`
	ParentID     *string           `json:"parent_id,omitempty"`
	Assignee     *string           `json:"assignee,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ClosedAt     *time.Time        `json:"closed_at,omitempty"`
}

// FromCell converts a stored cell to its interchange record.
func FromCell(cell *types.Cell) *Record {
	rec := &Record{
		ID:           cell.ID,
		Title:        cell.Title,
		Description:  cell.Description,
		Status:       cell.Status,
		Priority:     cell.Priority,
		IssueType:    cell.CellType,
		ParentID:     cell.ParentID,
		Assignee:     cell.Assignee,
		Dependencies: cell.Dependencies,
		Metadata:     cell.Metadata,
		CreatedAt:    cell.CreatedAt.UTC(),
		UpdatedAt:    cell.UpdatedAt.UTC(),
	}
	if cell.ClosedAt != nil {
		t := cell.ClosedAt.UTC()
		rec.ClosedAt = &t
	}
	return rec
}

// ToCell converts an interchange record to a storable cell, normalizing
// legacy values: tombstone becomes closed, and a closed record missing
// closed_at falls back to updated_at so the closed-iff-closed_at invariant
// holds.
func (r *Record) ToCell(projectKey string) (*types.Cell, error) {
	if r.ID == "" {
		return nil, types.NewValidation("id", "record has no id")
	}
	if r.Title == "" {
		return nil, types.NewValidation("title", "record %s has no title", r.ID)
	}

	status := r.Status
	if status == types.StatusTombstone {
		status = types.StatusClosed
	}
	if status == "" {
		status = types.StatusOpen
	}
	if !types.ValidStatus(status) {
		return nil, types.NewValidation("status", "record %s has unknown status %q", r.ID, r.Status)
	}

	cellType := r.IssueType
	if cellType == "" {
		cellType = types.TypeTask
	}
	if !types.ValidCellType(cellType) {
		return nil, types.NewValidation("issue_type", "record %s has unknown type %q", r.ID, r.IssueType)
	}

	cell := &types.Cell{
		ID:           r.ID,
		ProjectKey:   projectKey,
		CellType:     cellType,
		Status:       status,
		Title:        r.Title,
		Description:  r.Description,
		Priority:     r.Priority,
		ParentID:     r.ParentID,
		Assignee:     r.Assignee,
		Dependencies: r.Dependencies,
		Metadata:     r.Metadata,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.ClosedAt != nil {
		t := r.ClosedAt.UTC()
		cell.ClosedAt = &t
	}
	if cell.Status == types.StatusClosed && cell.ClosedAt == nil {
		fallback := cell.UpdatedAt
		cell.ClosedAt = &fallback
	}
	if cell.Status != types.StatusClosed {
		cell.ClosedAt = nil
	}
	return cell, nil
}

// Encode writes records one per line, sorted by ID for stable diffs.
func Encode(w io.Writer, records []*Record) error {
	sorted := make([]*Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	bw := bufio.NewWriter(w)
	for _, rec := range sorted {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
		}
		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("failed to write record %s: %w", rec.ID, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write record %s: %w", rec.ID, err)
		}
	}
	return bw.Flush()
}

// Parse reads records from raw JSONL bytes. Blank lines are skipped; a
// malformed line fails the whole parse with its line number so callers never
// half-import a corrupt file.
func Parse(data []byte) ([]*Record, error) {
	if err := CheckMergeConflicts(data); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024), maxLineSize)

	var records []*Record
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			snippet := string(line)
			if len(snippet) > 80 {
				snippet = snippet[:80] + "..."
			}
			return nil, types.NewValidation("jsonl", "parse error at line %d: %v (%s)", lineNo, err, snippet)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	return records, nil
}

// CheckMergeConflicts rejects files still carrying git conflict markers.
// Importing one would store marker lines as cells and corrupt the tracker.
func CheckMergeConflicts(data []byte) error {
	for _, line := range bytes.Split(data, []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if bytes.HasPrefix(trimmed, []byte("<<<<<<< ")) ||
			bytes.Equal(trimmed, []byte("=======")) ||
			bytes.HasPrefix(trimmed, []byte(">>>>>>> ")) {
			return types.NewValidation("jsonl", "unresolved git merge conflict markers in file")
		}
	}
	return nil
}

// ContentHash returns a stable hash of the record's exported form, used to
// skip rewriting unchanged cells.
func ContentHash(rec *Record) (string, error) {
	line, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to hash record %s: %w", rec.ID, err)
	}
	sum := sha256.Sum256(line)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes hashes a whole file's contents, used for import change detection.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

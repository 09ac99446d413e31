package jsonl

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

func strPtr(s string) *string { return &s }

func TestCellRecordRoundTrip(t *testing.T) {
	closedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cell := &types.Cell{
		ID:           "bh-a1b2c3",
		ProjectKey:   "proj",
		CellType:     types.TypeBug,
		Status:       types.StatusClosed,
		Title:        "Round trip",
		Description:  strPtr("details"),
		Priority:     1,
		Assignee:     strPtr("ant-1"),
		Dependencies: []string{"bh-d4e5f6"},
		Metadata:     map[string]string{"source": "test"},
		CreatedAt:    time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt:    closedAt,
		ClosedAt:     &closedAt,
	}

	var buf bytes.Buffer
	if err := Encode(&buf, []*Record{FromCell(cell)}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	records, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("parsed %d records, want 1", len(records))
	}

	back, err := records[0].ToCell("proj")
	if err != nil {
		t.Fatalf("ToCell failed: %v", err)
	}
	if back.ID != cell.ID || back.Title != cell.Title || back.Status != cell.Status {
		t.Errorf("round trip changed identity: %+v", back)
	}
	if back.CellType != types.TypeBug || back.Priority != 1 {
		t.Errorf("round trip changed type/priority: %+v", back)
	}
	if back.Description == nil || *back.Description != "details" {
		t.Errorf("description = %v", back.Description)
	}
	if len(back.Dependencies) != 1 || back.Dependencies[0] != "bh-d4e5f6" {
		t.Errorf("dependencies = %v", back.Dependencies)
	}
	if back.Metadata["source"] != "test" {
		t.Errorf("metadata = %v", back.Metadata)
	}
	if back.ClosedAt == nil || !back.ClosedAt.Equal(closedAt) {
		t.Errorf("closed_at = %v", back.ClosedAt)
	}
}

func TestTombstoneNormalizedToClosed(t *testing.T) {
	rec := &Record{
		ID:        "bh-dead01",
		Title:     "Old tombstone",
		Status:    types.StatusTombstone,
		IssueType: types.TypeTask,
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	cell, err := rec.ToCell("proj")
	if err != nil {
		t.Fatalf("ToCell failed: %v", err)
	}
	if cell.Status != types.StatusClosed {
		t.Errorf("status = %q, want closed", cell.Status)
	}
	// Missing closed_at falls back to updated_at.
	if cell.ClosedAt == nil || !cell.ClosedAt.Equal(rec.UpdatedAt) {
		t.Errorf("closed_at = %v, want %v", cell.ClosedAt, rec.UpdatedAt)
	}
}

func TestOpenRecordDropsStrayClosedAt(t *testing.T) {
	closedAt := time.Now()
	rec := &Record{
		ID: "bh-stray1", Title: "stray", Status: types.StatusOpen,
		IssueType: types.TypeTask, ClosedAt: &closedAt,
	}
	cell, err := rec.ToCell("proj")
	if err != nil {
		t.Fatalf("ToCell failed: %v", err)
	}
	if cell.ClosedAt != nil {
		t.Errorf("open cell kept closed_at %v", cell.ClosedAt)
	}
}

func TestToCellValidation(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{"no id", Record{Title: "t", Status: "open"}},
		{"no title", Record{ID: "bh-x", Status: "open"}},
		{"bad status", Record{ID: "bh-x", Title: "t", Status: "paused"}},
		{"bad type", Record{ID: "bh-x", Title: "t", Status: "open", IssueType: "saga"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.rec.ToCell("proj")
			var verr *types.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("error = %v, want ValidationError", err)
			}
		})
	}
}

func TestEncodeSortsByID(t *testing.T) {
	var buf bytes.Buffer
	records := []*Record{
		{ID: "bh-zzz", Title: "z", Status: "open", IssueType: "task"},
		{ID: "bh-aaa", Title: "a", Status: "open", IssueType: "task"},
	}
	if err := Encode(&buf, records); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if !strings.Contains(lines[0], "bh-aaa") || !strings.Contains(lines[1], "bh-zzz") {
		t.Errorf("output not sorted:\n%s", buf.String())
	}
}

func TestParseSkipsBlankLinesAndReportsLineNumbers(t *testing.T) {
	data := []byte(`{"id":"bh-one","title":"one","status":"open","issue_type":"task","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}

{"id":"bh-two","title":"two","status":"open","issue_type":"task","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}
`)
	records, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("parsed %d records, want 2", len(records))
	}

	_, err = Parse([]byte("{\"id\":\"ok\"}\nnot json\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("malformed line error = %v, want line number", err)
	}
}

func TestParseRejectsMergeConflictMarkers(t *testing.T) {
	data := []byte("<<<<<<< HEAD\n{\"id\":\"bh-x\"}\n=======\n{\"id\":\"bh-y\"}\n>>>>>>> branch\n")
	if _, err := Parse(data); err == nil {
		t.Fatal("Parse accepted conflict markers")
	}
}

func TestContentHashStable(t *testing.T) {
	rec := &Record{ID: "bh-x", Title: "t", Status: "open", IssueType: "task"}
	h1, err := ContentHash(rec)
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	h2, _ := ContentHash(rec)
	if h1 != h2 {
		t.Errorf("hash unstable: %s vs %s", h1, h2)
	}

	rec.Title = "changed"
	h3, _ := ContentHash(rec)
	if h3 == h1 {
		t.Error("hash unchanged after content change")
	}
}

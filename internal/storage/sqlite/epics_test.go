package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

func TestCreateEpicWithSubtasks(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	epic := &types.Cell{ProjectKey: "proj", Title: "Ship auth"}
	subtasks := []*types.Cell{
		{Title: "Design schema"},
		{Title: "Implement endpoints"},
		{Title: "Write docs"},
	}
	if err := store.CreateEpic(ctx, epic, subtasks); err != nil {
		t.Fatalf("CreateEpic failed: %v", err)
	}

	if epic.CellType != types.TypeEpic {
		t.Errorf("epic type = %q", epic.CellType)
	}
	for i, sub := range subtasks {
		want := fmt.Sprintf("%s.%d", epic.ID, i+1)
		if sub.ID != want {
			t.Errorf("subtask %d ID = %q, want %q", i, sub.ID, want)
		}
		if sub.ParentID == nil || *sub.ParentID != epic.ID {
			t.Errorf("subtask %d parent = %v", i, sub.ParentID)
		}
	}

	// Subtasks chain on the previous one by default.
	if len(subtasks[0].Dependencies) != 0 {
		t.Errorf("first subtask deps = %v, want none", subtasks[0].Dependencies)
	}
	if len(subtasks[1].Dependencies) != 1 || subtasks[1].Dependencies[0] != subtasks[0].ID {
		t.Errorf("second subtask deps = %v", subtasks[1].Dependencies)
	}

	children, err := store.QueryCells(ctx, "proj", types.CellFilter{ParentID: epic.ID})
	if err != nil {
		t.Fatalf("QueryCells failed: %v", err)
	}
	if len(children) != 3 {
		t.Errorf("stored children = %d, want 3", len(children))
	}

	events, _ := store.ReadEvents(ctx, types.EventFilter{
		ProjectKey: "proj",
		Types:      []types.EventType{types.EventCellCreated},
	})
	if len(events) != 4 {
		t.Errorf("cell_created events = %d, want 4", len(events))
	}
}

func TestCreateEpicAtomicRollback(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	epic := &types.Cell{ProjectKey: "proj", Title: "Doomed epic"}
	subtasks := []*types.Cell{
		{Title: "Fine"},
		{Title: strings.Repeat("x", 501)}, // fails validation
	}
	if err := store.CreateEpic(ctx, epic, subtasks); err == nil {
		t.Fatal("CreateEpic succeeded with an invalid subtask")
	}

	// Nothing from the batch survives: no cells, no events.
	cells, err := store.QueryCells(ctx, "proj", types.CellFilter{})
	if err != nil {
		t.Fatalf("QueryCells failed: %v", err)
	}
	if len(cells) != 0 {
		t.Errorf("partial epic left %d cells behind", len(cells))
	}
	seq, _ := store.LatestSequence(ctx, "proj")
	if seq != 0 {
		t.Errorf("partial epic left events in the log, latest sequence %d", seq)
	}
}

func TestCreateEpicRollsBackOnIntegrityError(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	existing := &types.Cell{ID: "bh-dupe01", ProjectKey: "proj", Title: "Already here"}
	if err := store.CreateCell(ctx, existing); err != nil {
		t.Fatalf("CreateCell failed: %v", err)
	}
	seqBefore, _ := store.LatestSequence(ctx, "proj")

	// The duplicate ID passes validation and fails inside the transaction,
	// after the epic and first subtask have already been appended.
	epic := &types.Cell{ProjectKey: "proj", Title: "Doomed epic"}
	subtasks := []*types.Cell{
		{Title: "Fine"},
		{ID: "bh-dupe01", Title: "Collides"},
	}
	err := store.CreateEpic(ctx, epic, subtasks)
	var integrity *types.IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("CreateEpic = %v, want IntegrityError", err)
	}

	cells, err := store.QueryCells(ctx, "proj", types.CellFilter{})
	if err != nil {
		t.Fatalf("QueryCells failed: %v", err)
	}
	if len(cells) != 1 || cells[0].ID != existing.ID {
		t.Errorf("cells after rollback = %+v, want only the pre-existing one", cells)
	}
	if cells[0].Title != "Already here" {
		t.Errorf("pre-existing cell mutated: %+v", cells[0])
	}

	seqAfter, _ := store.LatestSequence(ctx, "proj")
	if seqAfter != seqBefore {
		t.Errorf("sequence moved %d -> %d, want unchanged", seqBefore, seqAfter)
	}
}

func TestCreateEpicExplicitDependenciesKept(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	epic := &types.Cell{ProjectKey: "proj", Title: "Parallel epic"}
	subtasks := []*types.Cell{
		{Title: "a"},
		{Title: "b", Dependencies: []string{"bh-aaaaaa"}},
	}
	if err := store.CreateEpic(ctx, epic, subtasks); err != nil {
		t.Fatalf("CreateEpic failed: %v", err)
	}
	if len(subtasks[1].Dependencies) != 1 || subtasks[1].Dependencies[0] != "bh-aaaaaa" {
		t.Errorf("explicit deps overwritten: %v", subtasks[1].Dependencies)
	}
}

func TestNextChildIDSequence(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	epic := &types.Cell{ProjectKey: "proj", Title: "Counting epic"}
	if err := store.CreateEpic(ctx, epic, nil); err != nil {
		t.Fatalf("CreateEpic failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		id, err := store.NextChildID(ctx, epic.ID)
		if err != nil {
			t.Fatalf("NextChildID failed: %v", err)
		}
		want := fmt.Sprintf("%s.%d", epic.ID, i)
		if id != want {
			t.Errorf("child %d = %q, want %q", i, id, want)
		}
	}
}

func TestChildCounterContinuesAfterEpicSubtasks(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	epic := &types.Cell{ProjectKey: "proj", Title: "Growing epic"}
	if err := store.CreateEpic(ctx, epic, []*types.Cell{{Title: "first"}}); err != nil {
		t.Fatalf("CreateEpic failed: %v", err)
	}

	id, err := store.NextChildID(ctx, epic.ID)
	if err != nil {
		t.Fatalf("NextChildID failed: %v", err)
	}
	if id != epic.ID+".2" {
		t.Errorf("next child after one subtask = %q, want %s.2", id, epic.ID)
	}
}

package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

func TestAppendEventAssignsMonotonicSequence(t *testing.T) {
	store := setupTestDB(t)

	for i := 1; i <= 5; i++ {
		event := &types.Event{Type: types.EventTaskProgress, ProjectKey: "proj"}
		mustAppend(t, store, event)
		if event.Sequence != int64(i) {
			t.Errorf("event %d got sequence %d", i, event.Sequence)
		}
		if event.ID == 0 {
			t.Errorf("event %d has no row ID", i)
		}
	}
}

func TestSequencesIndependentPerProject(t *testing.T) {
	store := setupTestDB(t)

	a := &types.Event{Type: types.EventTaskStarted, ProjectKey: "alpha"}
	b := &types.Event{Type: types.EventTaskStarted, ProjectKey: "beta"}
	mustAppend(t, store, a)
	mustAppend(t, store, b)

	if a.Sequence != 1 || b.Sequence != 1 {
		t.Errorf("sequences = %d, %d; want 1, 1", a.Sequence, b.Sequence)
	}
}

func TestAppendRejectsUnknownType(t *testing.T) {
	store := setupTestDB(t)

	err := store.AppendEvent(context.Background(),
		&types.Event{Type: "mystery_event", ProjectKey: "proj"})
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("unknown type error = %v, want ValidationError", err)
	}
}

func TestAppendRejectsEmptyProjectKey(t *testing.T) {
	store := setupTestDB(t)

	err := store.AppendEvent(context.Background(),
		&types.Event{Type: types.EventTaskStarted})
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("empty project key error = %v, want ValidationError", err)
	}
}

func TestProjectionFailureAbortsAppend(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	// message_sent with no recipients fails its projection.
	payload, _ := json.Marshal(&types.MessageSentData{From: "a", Subject: "s"})
	err := store.AppendEvent(ctx, &types.Event{
		Type:       types.EventMessageSent,
		ProjectKey: "proj",
		Data:       payload,
	})
	if err == nil {
		t.Fatal("append succeeded despite projection failure")
	}

	seq, err := store.LatestSequence(ctx, "proj")
	if err != nil {
		t.Fatalf("LatestSequence failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("aborted append left sequence %d, want 0", seq)
	}
	events, err := store.ReadEvents(ctx, types.EventFilter{ProjectKey: "proj"})
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("aborted append left %d events in the log", len(events))
	}
}

func TestReadEventsFilters(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	mustAppend(t, store, &types.Event{Type: types.EventTaskStarted, ProjectKey: "proj", Timestamp: 1000})
	mustAppend(t, store, &types.Event{Type: types.EventTaskProgress, ProjectKey: "proj", Timestamp: 2000})
	mustAppend(t, store, &types.Event{Type: types.EventTaskCompleted, ProjectKey: "proj", Timestamp: 3000})
	mustAppend(t, store, &types.Event{Type: types.EventTaskStarted, ProjectKey: "other", Timestamp: 1500})

	tests := []struct {
		name   string
		filter types.EventFilter
		want   int
	}{
		{"by project", types.EventFilter{ProjectKey: "proj"}, 3},
		{"by type", types.EventFilter{ProjectKey: "proj", Types: []types.EventType{types.EventTaskStarted}}, 1},
		{"two types", types.EventFilter{ProjectKey: "proj", Types: []types.EventType{types.EventTaskStarted, types.EventTaskProgress}}, 2},
		{"since", types.EventFilter{ProjectKey: "proj", Since: 2000}, 2},
		{"until", types.EventFilter{ProjectKey: "proj", Until: 2000}, 2},
		{"since and until", types.EventFilter{ProjectKey: "proj", Since: 1500, Until: 2500}, 1},
		{"after sequence", types.EventFilter{ProjectKey: "proj", AfterSequence: 1}, 2},
		{"limit", types.EventFilter{ProjectKey: "proj", Limit: 2}, 2},
		{"offset only", types.EventFilter{ProjectKey: "proj", Offset: 1}, 2},
		{"limit and offset", types.EventFilter{ProjectKey: "proj", Limit: 1, Offset: 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := store.ReadEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ReadEvents failed: %v", err)
			}
			if len(events) != tt.want {
				t.Errorf("got %d events, want %d", len(events), tt.want)
			}
		})
	}
}

func TestReadEventsOrderedBySequence(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	// Timestamps deliberately out of order; sequence still rules.
	mustAppend(t, store, &types.Event{Type: types.EventTaskStarted, ProjectKey: "proj", Timestamp: 9000})
	mustAppend(t, store, &types.Event{Type: types.EventTaskProgress, ProjectKey: "proj", Timestamp: 1000})

	events, err := store.ReadEvents(ctx, types.EventFilter{ProjectKey: "proj"})
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Sequence <= events[i-1].Sequence {
			t.Errorf("events out of order at %d: %d then %d", i, events[i-1].Sequence, events[i].Sequence)
		}
	}
}

func TestAfterSequenceResumesWithoutGapsOrDuplicates(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		mustAppend(t, store, &types.Event{Type: types.EventTaskProgress, ProjectKey: "proj"})
	}

	first, err := store.ReadEvents(ctx, types.EventFilter{ProjectKey: "proj", Limit: 4})
	if err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	rest, err := store.ReadEvents(ctx, types.EventFilter{
		ProjectKey:    "proj",
		AfterSequence: first[len(first)-1].Sequence,
	})
	if err != nil {
		t.Fatalf("resume read failed: %v", err)
	}

	seen := map[int64]bool{}
	for _, e := range append(first, rest...) {
		if seen[e.Sequence] {
			t.Errorf("sequence %d delivered twice", e.Sequence)
		}
		seen[e.Sequence] = true
	}
	for s := int64(1); s <= 10; s++ {
		if !seen[s] {
			t.Errorf("sequence %d missing from resumed read", s)
		}
	}
}

func TestLatestSequence(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	seq, err := store.LatestSequence(ctx, "proj")
	if err != nil || seq != 0 {
		t.Fatalf("empty log: seq=%d err=%v, want 0, nil", seq, err)
	}

	mustAppend(t, store, &types.Event{Type: types.EventTaskStarted, ProjectKey: "proj"})
	mustAppend(t, store, &types.Event{Type: types.EventTaskStarted, ProjectKey: "proj"})

	seq, err = store.LatestSequence(ctx, "proj")
	if err != nil || seq != 2 {
		t.Fatalf("after appends: seq=%d err=%v, want 2, nil", seq, err)
	}
}

func TestEventSinkFiresAfterCommit(t *testing.T) {
	store := setupTestDB(t)

	var got []*types.Event
	store.SetEventSink(func(e *types.Event) { got = append(got, e) })

	mustAppend(t, store, &types.Event{Type: types.EventTaskStarted, ProjectKey: "proj"})

	if len(got) != 1 {
		t.Fatalf("sink received %d events, want 1", len(got))
	}
	if got[0].Sequence != 1 {
		t.Errorf("sink event sequence = %d, want 1", got[0].Sequence)
	}
}

func TestEventSinkNotFiredOnFailedAppend(t *testing.T) {
	store := setupTestDB(t)

	fired := false
	store.SetEventSink(func(*types.Event) { fired = true })

	_ = store.AppendEvent(context.Background(),
		&types.Event{Type: "mystery_event", ProjectKey: "proj"})
	if fired {
		t.Error("sink fired for a rejected append")
	}
}

package hive

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/debug"
	"github.com/minhtri2710/swarm-tools-sub001/internal/export"
	"github.com/minhtri2710/swarm-tools-sub001/internal/storage"
	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// Session is the per-project facade agents talk to. It wraps the storage
// backend with the operational contract: name generation on register, the
// message-sent round trip, dirty-cell flushes on epic boundaries, and the
// in-memory event broadcast for live streams.
//
// The Registry owns the storage handle; Close here only tears down the
// broadcaster.
type Session struct {
	projectKey string
	store      storage.Storage
	flusher    *export.Flusher
	bus        *broadcaster

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewSession wires a facade over an opened store. It installs the event sink,
// so at most one Session should wrap any given store.
func NewSession(projectKey string, store storage.Storage) *Session {
	s := &Session{
		projectKey: projectKey,
		store:      store,
		flusher:    export.NewFlusher(store),
		bus:        newBroadcaster(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	store.SetEventSink(s.bus.publish)
	return s
}

// ProjectKey returns the project this session serves.
func (s *Session) ProjectKey() string {
	return s.projectKey
}

// Store exposes the underlying storage for read paths that need it directly.
func (s *Session) Store() storage.Storage {
	return s.store
}

// RegisterAgentArgs describes an agent joining the project.
type RegisterAgentArgs struct {
	Name            string
	Program         string
	Model           string
	TaskDescription string
}

// RegisterAgent appends agent_registered and returns the projected row. A
// missing name gets a generated AdjectiveNoun one. Re-registering the same
// name is an upsert, not an error.
func (s *Session) RegisterAgent(ctx context.Context, args RegisterAgentArgs) (*types.Agent, error) {
	name := args.Name
	if name == "" {
		s.rngMu.Lock()
		name = generateAgentName(s.rng)
		s.rngMu.Unlock()
	}

	err := s.appendPayload(ctx, types.EventAgentRegistered, &types.AgentRegisteredData{
		Name:            name,
		Program:         args.Program,
		Model:           args.Model,
		TaskDescription: args.TaskDescription,
	})
	if err != nil {
		return nil, err
	}
	debug.Logf(debug.TagEvents, "registered agent %s in %s", name, s.projectKey)
	return s.store.GetAgent(ctx, s.projectKey, name)
}

// MarkActive bumps an agent's last-active timestamp.
func (s *Session) MarkActive(ctx context.Context, name string) error {
	return s.appendPayload(ctx, types.EventAgentActive, &types.AgentActiveData{Name: name})
}

// ListAgents returns every registered agent for the project.
func (s *Session) ListAgents(ctx context.Context) ([]*types.Agent, error) {
	return s.store.ListAgents(ctx, s.projectKey)
}

// SendArgs describes an outgoing message.
type SendArgs struct {
	From        string
	To          []string
	Subject     string
	Body        string
	ThreadID    string
	Importance  string
	AckRequired bool
}

// SendResult reports a delivered message.
type SendResult struct {
	MessageID      int64 `json:"message_id"`
	RecipientCount int   `json:"recipient_count"`
}

// SendMessage appends message_sent; the projection assigns the message ID and
// patches it back into the event payload, which is where we read it from.
func (s *Session) SendMessage(ctx context.Context, args SendArgs) (*SendResult, error) {
	data := &types.MessageSentData{
		From:        args.From,
		To:          args.To,
		Subject:     args.Subject,
		Body:        args.Body,
		ThreadID:    args.ThreadID,
		Importance:  args.Importance,
		AckRequired: args.AckRequired,
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	event := &types.Event{
		Type:       types.EventMessageSent,
		ProjectKey: s.projectKey,
		Data:       payload,
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return nil, err
	}

	var patched types.MessageSentData
	if err := json.Unmarshal(event.Data, &patched); err != nil {
		return nil, fmt.Errorf("failed to read message id: %w", err)
	}
	debug.Logf(debug.TagMessages, "message %d from %s to %d recipients", patched.MessageID, args.From, len(args.To))
	return &SendResult{MessageID: patched.MessageID, RecipientCount: len(args.To)}, nil
}

// Inbox reads an agent's newest messages, at most storage.MaxInboxLimit rows.
func (s *Session) Inbox(ctx context.Context, agent string, opts storage.InboxOptions) ([]*types.InboxMessage, error) {
	return s.store.GetInbox(ctx, s.projectKey, agent, opts)
}

// ReadMessage returns the full message including body. When markAsRead is set
// and agent names a recipient, a message_read event is appended as well.
func (s *Session) ReadMessage(ctx context.Context, messageID int64, agent string, markAsRead bool) (*types.Message, error) {
	message, err := s.store.GetMessage(ctx, s.projectKey, messageID)
	if err != nil {
		return nil, err
	}
	if markAsRead && agent != "" {
		err := s.appendPayload(ctx, types.EventMessageRead, &types.MessageReadData{
			MessageID: messageID,
			Agent:     agent,
		})
		if err != nil {
			return nil, err
		}
	}
	return message, nil
}

// Acknowledge appends message_acked for the recipient.
func (s *Session) Acknowledge(ctx context.Context, messageID int64, agent string) error {
	return s.appendPayload(ctx, types.EventMessageAcked, &types.MessageReadData{
		MessageID: messageID,
		Agent:     agent,
	})
}

// Reserve declares intent to edit paths. See storage.Storage for the full
// conflict and force semantics.
func (s *Session) Reserve(ctx context.Context, agent string, paths []string, opts storage.ReserveOptions) (*types.ReserveResult, error) {
	result, err := s.store.Reserve(ctx, s.projectKey, agent, paths, opts)
	if err != nil {
		return nil, err
	}
	debug.Logf(debug.TagReservations, "reserve by %s: %d granted, %d conflicts",
		agent, len(result.Granted), len(result.Conflicts))
	return result, nil
}

// Release frees an agent's reservations, all of them by default.
func (s *Session) Release(ctx context.Context, agent string, filter storage.ReleaseFilter) (*types.ReleaseResult, error) {
	result, err := s.store.Release(ctx, s.projectKey, agent, filter)
	if err != nil {
		return nil, err
	}
	debug.Logf(debug.TagReservations, "release by %s: %d freed", agent, result.Released)
	return result, nil
}

// CheckConflicts previews what a reserve call would collide with.
func (s *Session) CheckConflicts(ctx context.Context, agent string, paths []string) ([]types.Conflict, error) {
	return s.store.CheckConflicts(ctx, s.projectKey, agent, paths)
}

// ActiveReservations lists every live reservation in the project.
func (s *Session) ActiveReservations(ctx context.Context) ([]*types.Reservation, error) {
	return s.store.ActiveReservations(ctx, s.projectKey)
}

// CreateCell inserts one work item.
func (s *Session) CreateCell(ctx context.Context, cell *types.Cell) error {
	cell.ProjectKey = s.projectKey
	return s.store.CreateCell(ctx, cell)
}

// CreateEpic atomically creates the epic and its subtasks, then flushes the
// dirty set so sibling processes see the new work in the JSONL immediately.
func (s *Session) CreateEpic(ctx context.Context, epic *types.Cell, subtasks []*types.Cell) error {
	epic.ProjectKey = s.projectKey
	if err := s.store.CreateEpic(ctx, epic, subtasks); err != nil {
		return err
	}
	if _, err := s.flusher.Flush(ctx, s.projectKey); err != nil {
		return fmt.Errorf("epic created but flush failed: %w", err)
	}
	return nil
}

// GetCell fetches a cell by full ID.
func (s *Session) GetCell(ctx context.Context, id string) (*types.Cell, error) {
	return s.store.GetCell(ctx, s.projectKey, id)
}

// QueryCells filters the project's cells.
func (s *Session) QueryCells(ctx context.Context, filter types.CellFilter) ([]*types.Cell, error) {
	return s.store.QueryCells(ctx, s.projectKey, filter)
}

// NextReadyCell returns the highest-priority cell with no open dependencies.
func (s *Session) NextReadyCell(ctx context.Context) (*types.Cell, error) {
	return s.store.NextReadyCell(ctx, s.projectKey)
}

// UpdateCell patches non-status fields, or routes a lone status change
// through the event-logged transition path. Accepts partial IDs.
func (s *Session) UpdateCell(ctx context.Context, idOrPrefix string, updates map[string]interface{}) (*types.Cell, error) {
	return s.store.UpdateCell(ctx, s.projectKey, idOrPrefix, updates)
}

// SetCellStatus transitions a cell, accepting partial IDs.
func (s *Session) SetCellStatus(ctx context.Context, idOrPrefix, status string) (*types.Cell, error) {
	return s.store.SetCellStatus(ctx, s.projectKey, idOrPrefix, status)
}

// CloseCell closes a cell and flushes the dirty set. Closing an epic also
// gathers metrics over its subtasks and emits swarm_completed.
func (s *Session) CloseCell(ctx context.Context, idOrPrefix, reason string) (*types.Cell, error) {
	cell, err := s.store.CloseCell(ctx, s.projectKey, idOrPrefix, reason)
	if err != nil {
		return nil, err
	}
	if cell.CellType == types.TypeEpic {
		if err := s.completeEpic(ctx, cell); err != nil {
			return nil, fmt.Errorf("epic closed but completion event failed: %w", err)
		}
	}
	if _, err := s.flusher.Flush(ctx, s.projectKey); err != nil {
		return nil, fmt.Errorf("cell closed but flush failed: %w", err)
	}
	return cell, nil
}

// completeEpic emits swarm_completed carrying subtask counts, the file union
// from the epic's decomposition event, and duration since swarm_started.
func (s *Session) completeEpic(ctx context.Context, epic *types.Cell) error {
	metrics, err := s.EpicMetrics(ctx, epic.ID)
	if err != nil {
		return err
	}
	return s.appendPayload(ctx, types.EventSwarmCompleted, metrics)
}

// EpicMetrics assembles the close-time summary for an epic: subtask and
// closed counts from the cells table, files from decomposition_generated,
// total duration from the matching swarm_started event.
func (s *Session) EpicMetrics(ctx context.Context, epicID string) (*types.EpicMetrics, error) {
	children, err := s.store.QueryCells(ctx, s.projectKey, types.CellFilter{ParentID: epicID})
	if err != nil {
		return nil, err
	}
	metrics := &types.EpicMetrics{EpicID: epicID, Subtasks: len(children)}
	for _, child := range children {
		if child.Closed() {
			metrics.ClosedCount++
		}
	}

	events, err := s.store.ReadEvents(ctx, types.EventFilter{
		ProjectKey: s.projectKey,
		Types:      []types.EventType{types.EventDecompositionGenerated, types.EventSwarmStarted},
	})
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, event := range events {
		switch event.Type {
		case types.EventDecompositionGenerated:
			var data types.DecompositionData
			if err := json.Unmarshal(event.Data, &data); err != nil || data.EpicID != epicID {
				continue
			}
			for _, file := range data.Files {
				if !seen[file] {
					seen[file] = true
					metrics.Files = append(metrics.Files, file)
				}
			}
		case types.EventSwarmStarted:
			var data struct {
				EpicID string `json:"epic_id"`
			}
			if err := json.Unmarshal(event.Data, &data); err != nil || data.EpicID != epicID {
				continue
			}
			metrics.TotalDuration = time.Now().UnixMilli() - event.Timestamp
		}
	}
	return metrics, nil
}

// DeleteCell physically removes a cell. Epic rollback only.
func (s *Session) DeleteCell(ctx context.Context, id string) error {
	return s.store.DeleteCell(ctx, s.projectKey, id)
}

// Checkpoint persists swarm working state under its bead ID so a later
// process can resume.
func (s *Session) Checkpoint(ctx context.Context, data *types.CheckpointData) error {
	if err := s.appendPayload(ctx, types.EventSwarmCheckpointed, data); err != nil {
		return err
	}
	debug.Logf(debug.TagCheckpoints, "checkpointed %s (epic %s)", data.BeadID, data.EpicID)
	return nil
}

// Recover marks the checkpoint for beadID recovered and returns it. Fails
// with NotFound when nothing was checkpointed.
func (s *Session) Recover(ctx context.Context, beadID string) (*types.SwarmContext, error) {
	err := s.appendPayload(ctx, types.EventSwarmRecovered, &types.CheckpointData{BeadID: beadID})
	if err != nil {
		return nil, err
	}
	debug.Logf(debug.TagCheckpoints, "recovered %s", beadID)
	return s.store.GetSwarmContext(ctx, s.projectKey, beadID)
}

// GetSwarmContext reads a checkpoint without touching it.
func (s *Session) GetSwarmContext(ctx context.Context, beadID string) (*types.SwarmContext, error) {
	return s.store.GetSwarmContext(ctx, s.projectKey, beadID)
}

// GetEvalRecord reads the accumulated eval aggregates for an epic.
func (s *Session) GetEvalRecord(ctx context.Context, epicID string) (*types.EvalRecord, error) {
	return s.store.GetEvalRecord(ctx, s.projectKey, epicID)
}

// Append writes a log-only event (task, swarm lifecycle, validation, thread
// families) with an arbitrary payload.
func (s *Session) Append(ctx context.Context, eventType types.EventType, payload interface{}) error {
	return s.appendPayload(ctx, eventType, payload)
}

// Events reads the log with the session's project key forced onto the filter.
func (s *Session) Events(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	filter.ProjectKey = s.projectKey
	return s.store.ReadEvents(ctx, filter)
}

// LatestSequence returns the head of the project's log.
func (s *Session) LatestSequence(ctx context.Context) (int64, error) {
	return s.store.LatestSequence(ctx, s.projectKey)
}

// AckCursor advances a consumer's durable cursor. Never rewinds.
func (s *Session) AckCursor(ctx context.Context, consumerID string, sequence int64) error {
	return s.store.AckCursor(ctx, consumerID, s.projectKey, sequence)
}

// GetCursor reads a consumer's cursor; zero-valued when never acked.
func (s *Session) GetCursor(ctx context.Context, consumerID string) (*types.Cursor, error) {
	return s.store.GetCursor(ctx, consumerID, s.projectKey)
}

// ResetCursor drops a consumer's cursor so it replays from the start.
func (s *Session) ResetCursor(ctx context.Context, consumerID string) error {
	return s.store.ResetCursor(ctx, consumerID, s.projectKey)
}

// Stats returns the project's aggregate counters.
func (s *Session) Stats(ctx context.Context) (*types.Stats, error) {
	return s.store.Stats(ctx, s.projectKey)
}

// Flush writes all dirty cells to the project's issues.jsonl. Returns the
// number of cells whose exported content actually changed.
func (s *Session) Flush(ctx context.Context) (int, error) {
	return s.flusher.Flush(ctx, s.projectKey)
}

// IssuesFilePath is where Flush writes.
func (s *Session) IssuesFilePath() string {
	return s.flusher.FilePath()
}

// HealthStatus reports connectivity for the health endpoint.
type HealthStatus struct {
	Healthy  bool   `json:"healthy"`
	Database string `json:"database"`
}

// Health probes the database with a trivial query.
func (s *Session) Health(ctx context.Context) *HealthStatus {
	if err := s.store.Health(ctx); err != nil {
		return &HealthStatus{Healthy: false, Database: "disconnected"}
	}
	return &HealthStatus{Healthy: true, Database: "connected"}
}

// Subscribe returns a channel of events appended after the call, plus a
// cancel function. Slow subscribers drop events rather than block appends.
func (s *Session) Subscribe() (<-chan *types.Event, func()) {
	return s.bus.subscribe()
}

// Close tears down the broadcaster. The Registry closes the store.
func (s *Session) Close() {
	s.bus.close()
}

func (s *Session) appendPayload(ctx context.Context, eventType types.EventType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return s.store.AppendEvent(ctx, &types.Event{
		Type:       eventType,
		ProjectKey: s.projectKey,
		Data:       data,
	})
}

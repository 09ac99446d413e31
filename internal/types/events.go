package types

import (
	"encoding/json"
	"time"
)

// EventType tags the discriminated event union. The set is closed: Append
// rejects tags not listed here.
type EventType string

// Agent events.
const (
	EventAgentRegistered EventType = "agent_registered"
	EventAgentActive     EventType = "agent_active"
)

// Messaging events.
const (
	EventMessageSent    EventType = "message_sent"
	EventMessageRead    EventType = "message_read"
	EventMessageAcked   EventType = "message_acked"
	EventThreadCreated  EventType = "thread_created"
	EventThreadActivity EventType = "thread_activity"
)

// Reservation events.
const (
	EventFileReserved EventType = "file_reserved"
	EventFileReleased EventType = "file_released"
	EventFileConflict EventType = "file_conflict"
)

// Task events (log-only, no projection).
const (
	EventTaskStarted   EventType = "task_started"
	EventTaskProgress  EventType = "task_progress"
	EventTaskCompleted EventType = "task_completed"
	EventTaskBlocked   EventType = "task_blocked"
)

// Swarm lifecycle events (log-only, no projection).
const (
	EventSwarmStarted    EventType = "swarm_started"
	EventWorkerSpawned   EventType = "worker_spawned"
	EventWorkerCompleted EventType = "worker_completed"
	EventReviewStarted   EventType = "review_started"
	EventReviewCompleted EventType = "review_completed"
	EventSwarmCompleted  EventType = "swarm_completed"
)

// Eval events.
const (
	EventDecompositionGenerated EventType = "decomposition_generated"
	EventSubtaskOutcome         EventType = "subtask_outcome"
	EventHumanFeedback          EventType = "human_feedback"
)

// Checkpoint events.
const (
	EventSwarmCheckpointed EventType = "swarm_checkpointed"
	EventSwarmRecovered    EventType = "swarm_recovered"
	EventCheckpointCreated EventType = "checkpoint_created"
	EventContextCompacted  EventType = "context_compacted"
)

// Validation events (log-only, no projection).
const (
	EventValidationStarted   EventType = "validation_started"
	EventValidationIssue     EventType = "validation_issue"
	EventValidationCompleted EventType = "validation_completed"
)

// Cell events, emitted by the tracker.
const (
	EventCellCreated       EventType = "cell_created"
	EventCellStatusChanged EventType = "cell_status_changed"
	EventCellClosed        EventType = "cell_closed"
)

var knownEventTypes = map[EventType]bool{
	EventAgentRegistered: true, EventAgentActive: true,
	EventMessageSent: true, EventMessageRead: true, EventMessageAcked: true,
	EventThreadCreated: true, EventThreadActivity: true,
	EventFileReserved: true, EventFileReleased: true, EventFileConflict: true,
	EventTaskStarted: true, EventTaskProgress: true, EventTaskCompleted: true,
	EventTaskBlocked: true,
	EventSwarmStarted: true, EventWorkerSpawned: true, EventWorkerCompleted: true,
	EventReviewStarted: true, EventReviewCompleted: true, EventSwarmCompleted: true,
	EventDecompositionGenerated: true, EventSubtaskOutcome: true, EventHumanFeedback: true,
	EventSwarmCheckpointed: true, EventSwarmRecovered: true,
	EventCheckpointCreated: true, EventContextCompacted: true,
	EventValidationStarted: true, EventValidationIssue: true, EventValidationCompleted: true,
	EventCellCreated: true, EventCellStatusChanged: true, EventCellClosed: true,
}

// KnownEventType reports whether t belongs to the closed tag set.
func KnownEventType(t EventType) bool {
	return knownEventTypes[t]
}

// Event is one row of the append-only log. Sequence is strictly increasing
// per ProjectKey; Data is the type-shaped payload.
type Event struct {
	ID         int64           `json:"id"`
	Type       EventType       `json:"type"`
	ProjectKey string          `json:"project_key"`
	Timestamp  int64           `json:"timestamp"` // milliseconds since epoch
	Sequence   int64           `json:"sequence"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Time returns the event timestamp as a time.Time.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// EventFilter narrows event log reads. Filters compose with AND.
type EventFilter struct {
	ProjectKey    string
	Types         []EventType
	Since         int64 // inclusive lower bound on Timestamp, 0 = none
	Until         int64 // inclusive upper bound on Timestamp, 0 = none
	AfterSequence int64 // exclusive lower bound on Sequence
	Limit         int
	Offset        int
}

// Payload shapes for projected events. Non-projected families (task, swarm
// lifecycle, validation) carry free-form payloads and are read straight off
// the log.

// AgentRegisteredData is the payload of agent_registered.
type AgentRegisteredData struct {
	Name            string `json:"name"`
	Program         string `json:"program,omitempty"`
	Model           string `json:"model,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
}

// AgentActiveData is the payload of agent_active.
type AgentActiveData struct {
	Name string `json:"name"`
}

// MessageSentData is the payload of message_sent.
type MessageSentData struct {
	From        string   `json:"from"`
	To          []string `json:"to"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	ThreadID    string   `json:"thread_id,omitempty"`
	Importance  string   `json:"importance"`
	AckRequired bool     `json:"ack_required"`
	MessageID   int64    `json:"message_id,omitempty"` // assigned by projection
}

// MessageReadData is the payload of message_read and message_acked.
type MessageReadData struct {
	MessageID int64  `json:"message_id"`
	Agent     string `json:"agent"`
}

// FileReservedData is the payload of file_reserved.
type FileReservedData struct {
	Agent      string   `json:"agent"`
	Paths      []string `json:"paths"`
	Exclusive  bool     `json:"exclusive"`
	Reason     string   `json:"reason,omitempty"`
	TTLSeconds int64    `json:"ttl_seconds"`
	ExpiresAt  int64    `json:"expires_at"` // milliseconds since epoch
	HolderIDs  []string `json:"holder_ids,omitempty"`
}

// FileReleasedData is the payload of file_released. Exactly one of
// ReservationIDs or Paths is set for targeted release; both empty releases
// everything the agent holds.
type FileReleasedData struct {
	Agent          string   `json:"agent"`
	ReservationIDs []int64  `json:"reservation_ids,omitempty"`
	Paths          []string `json:"paths,omitempty"`
}

// CellCreatedData is the payload of cell_created. It carries the full cell
// so the projection can materialize the row from the event alone.
type CellCreatedData struct {
	Cell Cell `json:"cell"`
}

// CellEventData is the payload of cell_status_changed and cell_closed.
type CellEventData struct {
	CellID    string `json:"cell_id"`
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// DecompositionData is the payload of decomposition_generated.
type DecompositionData struct {
	EpicID   string   `json:"epic_id"`
	Subtasks []string `json:"subtasks"`
	Files    []string `json:"files,omitempty"`
	Strategy string   `json:"strategy,omitempty"`
}

// SubtaskOutcomeData is the payload of subtask_outcome.
type SubtaskOutcomeData struct {
	EpicID  string         `json:"epic_id"`
	Outcome SubtaskOutcome `json:"outcome"`
}

// HumanFeedbackData is the payload of human_feedback.
type HumanFeedbackData struct {
	EpicID   string `json:"epic_id"`
	Accepted *bool  `json:"accepted,omitempty"`
	Modified *bool  `json:"modified,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// CheckpointData is the payload of swarm_checkpointed and swarm_recovered.
type CheckpointData struct {
	EpicID       string            `json:"epic_id"`
	BeadID       string            `json:"bead_id"`
	Strategy     string            `json:"strategy,omitempty"`
	Files        []string          `json:"files,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Directives   map[string]string `json:"directives,omitempty"`
	Recovery     map[string]string `json:"recovery,omitempty"`
}

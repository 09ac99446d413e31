// Package types defines the shared domain types for the hive coordination
// substrate: agents, messages, reservations, locks, cells, and the
// event-sourcing envelope that ties them together.
package types

import (
	"time"
)

// Cell statuses. A cell is closed iff ClosedAt is non-nil; tombstones from
// legacy imports are normalized to closed.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusClosed     = "closed"
	// StatusTombstone only appears in legacy JSONL input; never stored.
	StatusTombstone = "tombstone"
)

// Cell types.
const (
	TypeBug     = "bug"
	TypeFeature = "feature"
	TypeTask    = "task"
	TypeEpic    = "epic"
	TypeChore   = "chore"
)

// Message importance levels.
const (
	ImportanceLow    = "low"
	ImportanceNormal = "normal"
	ImportanceHigh   = "high"
	ImportanceUrgent = "urgent"
)

// ValidStatus reports whether s is a storable cell status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusClosed:
		return true
	}
	return false
}

// ValidCellType reports whether t is a known cell type.
func ValidCellType(t string) bool {
	switch t {
	case TypeBug, TypeFeature, TypeTask, TypeEpic, TypeChore:
		return true
	}
	return false
}

// ValidImportance reports whether i is a known message importance.
func ValidImportance(i string) bool {
	switch i {
	case ImportanceLow, ImportanceNormal, ImportanceHigh, ImportanceUrgent:
		return true
	}
	return false
}

// Agent is a registered worker process operating on a project workspace.
// Agents are unique per (project_key, name); re-registering updates metadata.
type Agent struct {
	ProjectKey      string    `json:"project_key"`
	Name            string    `json:"name"`
	Program         string    `json:"program,omitempty"`
	Model           string    `json:"model,omitempty"`
	TaskDescription string    `json:"task_description,omitempty"`
	RegisteredAt    time.Time `json:"registered_at"`
	LastActiveAt    time.Time `json:"last_active_at"`
}

// Message is an immutable inter-agent message. Recipient state (read/ack)
// lives on MessageRecipient rows.
type Message struct {
	ID          int64     `json:"id"`
	ProjectKey  string    `json:"project_key"`
	FromAgent   string    `json:"from_agent"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body,omitempty"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Importance  string    `json:"importance"`
	AckRequired bool      `json:"ack_required"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessageRecipient tracks per-recipient read/ack state for a message.
type MessageRecipient struct {
	MessageID int64      `json:"message_id"`
	AgentName string     `json:"agent_name"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	AckedAt   *time.Time `json:"acked_at,omitempty"`
}

// InboxMessage is a message joined with the recipient row for inbox listings.
// Body is elided unless the caller asked for bodies.
type InboxMessage struct {
	Message
	ReadAt  *time.Time `json:"read_at,omitempty"`
	AckedAt *time.Time `json:"acked_at,omitempty"`
}

// Reservation declares an agent's intent to edit a path pattern. A
// reservation is active iff ReleasedAt is nil and ExpiresAt is in the future.
type Reservation struct {
	ID           int64      `json:"id"`
	ProjectKey   string     `json:"project_key"`
	AgentName    string     `json:"agent_name"`
	PathPattern  string     `json:"path_pattern"`
	Exclusive    bool       `json:"exclusive"`
	Reason       string     `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	ReleasedAt   *time.Time `json:"released_at,omitempty"`
	LockHolderID string     `json:"lock_holder_id,omitempty"`
}

// Active reports whether the reservation is live at the given instant.
func (r *Reservation) Active(now time.Time) bool {
	return r.ReleasedAt == nil && r.ExpiresAt.After(now)
}

// Lock is a CAS-backed mutual-exclusion row for a single resource. Release
// requires the matching holder ID; expired locks are reclaimable.
type Lock struct {
	ProjectKey string    `json:"project_key"`
	Resource   string    `json:"resource"`
	HolderID   string    `json:"holder_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	CASVersion int64     `json:"cas_version"`
}

// Conflict describes one path blocked by another agent's active exclusive
// reservation. Conflicts are normal results of reserve, not errors.
type Conflict struct {
	Path    string `json:"path"`
	Holder  string `json:"holder"`
	Pattern string `json:"pattern"`
}

// Granted describes one successfully reserved path.
type Granted struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReserveResult is the sum-type outcome of a reserve call. With force=true
// both slices may be non-empty.
type ReserveResult struct {
	Granted   []Granted  `json:"granted"`
	Conflicts []Conflict `json:"conflicts"`
}

// ReleaseResult reports how many reservations a release call retired.
type ReleaseResult struct {
	Released   int       `json:"released"`
	ReleasedAt time.Time `json:"released_at"`
}

// Cell is a tracked work item (the on-disk sync unit). Epic cells parent
// subtask cells via ParentID.
type Cell struct {
	ID           string            `json:"id"`
	ProjectKey   string            `json:"project_key"`
	CellType     string            `json:"issue_type"`
	Status       string            `json:"status"`
	Title        string            `json:"title"`
	Description  *string           `json:"description,omitempty"`
	Priority     int               `json:"priority"`
	ParentID     *string           `json:"parent_id,omitempty"`
	Assignee     *string           `json:"assignee,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ClosedAt     *time.Time        `json:"closed_at,omitempty"`
}

// Closed reports whether the cell has reached its terminal state.
func (c *Cell) Closed() bool {
	return c.ClosedAt != nil
}

// CellFilter narrows cell queries. Zero values mean "no filter".
type CellFilter struct {
	Status   string
	CellType string
	ParentID string
	Ready    bool
	Limit    int
}

// SwarmContext is the latest checkpoint for one worker bead within an epic
// swarm. Upserted by (project_key, bead_id).
type SwarmContext struct {
	ProjectKey              string            `json:"project_key"`
	EpicID                  string            `json:"epic_id"`
	BeadID                  string            `json:"bead_id"`
	Strategy                string            `json:"strategy,omitempty"`
	Files                   []string          `json:"files,omitempty"`
	Dependencies            []string          `json:"dependencies,omitempty"`
	Directives              map[string]string `json:"directives,omitempty"`
	Recovery                map[string]string `json:"recovery,omitempty"`
	CheckpointedAt          time.Time         `json:"checkpointed_at"`
	RecoveredAt             *time.Time        `json:"recovered_at,omitempty"`
	RecoveredFromCheckpoint bool              `json:"recovered_from_checkpoint,omitempty"`
}

// SubtaskOutcome is one recorded subtask result within an eval record.
type SubtaskOutcome struct {
	SubtaskID  string  `json:"subtask_id"`
	Success    bool    `json:"success"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	Error      string  `json:"error,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// EvalRecord aggregates decomposition quality data for one epic.
type EvalRecord struct {
	ProjectKey   string           `json:"project_key"`
	EpicID       string           `json:"epic_id"`
	Subtasks     []string         `json:"subtasks,omitempty"`
	Outcomes     []SubtaskOutcome `json:"outcomes,omitempty"`
	SuccessCount int              `json:"success_count"`
	FailureCount int              `json:"failure_count"`
	TotalMS      int64            `json:"total_ms"`
	Accepted     *bool            `json:"accepted,omitempty"`
	Modified     *bool            `json:"modified,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Cursor is a durable per-consumer read position over a project's event log.
// It advances only via explicit ack and never rewinds except on reset.
type Cursor struct {
	ConsumerID   string `json:"consumer_id"`
	ProjectKey   string `json:"project_key"`
	LastSequence int64  `json:"last_sequence"`
}

// Stats is an aggregate snapshot of one project.
type Stats struct {
	ProjectKey         string `json:"project_key"`
	TotalCells         int    `json:"total_cells"`
	OpenCells          int    `json:"open_cells"`
	InProgressCells    int    `json:"in_progress_cells"`
	BlockedCells       int    `json:"blocked_cells"`
	ClosedCells        int    `json:"closed_cells"`
	Agents             int    `json:"agents"`
	ActiveReservations int    `json:"active_reservations"`
	Events             int64  `json:"events"`
	LatestSequence     int64  `json:"latest_sequence"`
}

// EpicMetrics is gathered when an epic closes, for the swarm_completed event.
type EpicMetrics struct {
	EpicID        string   `json:"epic_id"`
	Subtasks      int      `json:"subtasks"`
	ClosedCount   int      `json:"closed_count"`
	Files         []string `json:"files,omitempty"`
	TotalDuration int64    `json:"total_duration_ms,omitempty"`
}

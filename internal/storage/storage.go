// Package storage defines the interface for hive storage backends.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// ErrDBNotInitialized is returned when a database feature is used before the
// database has been opened and migrated.
var ErrDBNotInitialized = errors.New("database not initialized")

// MaxInboxLimit is the hard cap on inbox reads. Deliberate context
// preservation for agent callers, not a performance choice.
const MaxInboxLimit = 5

// InboxOptions narrows inbox reads. Limit is capped at MaxInboxLimit by every
// backend regardless of the requested value.
type InboxOptions struct {
	Limit         int
	UrgentOnly    bool
	UnreadOnly    bool
	IncludeBodies bool
}

// ReserveOptions tunes a reserve call.
type ReserveOptions struct {
	Reason     string
	Exclusive  bool
	TTLSeconds int64
	Force      bool
}

// ReleaseFilter selects which of an agent's active reservations to release.
// Precedence: ReservationIDs, then Paths, then everything the agent holds.
type ReleaseFilter struct {
	ReservationIDs []int64
	Paths          []string
}

// Storage is the interface hive storage backends implement.
//
// Every mutating operation appends an event row and applies the matching
// projection inside one transaction; a projection failure aborts the append.
// Events appended by a single process are totally ordered per project key.
type Storage interface {
	// Event log
	AppendEvent(ctx context.Context, event *types.Event) error
	ReadEvents(ctx context.Context, filter types.EventFilter) ([]*types.Event, error)
	LatestSequence(ctx context.Context, projectKey string) (int64, error)

	// Agents
	GetAgent(ctx context.Context, projectKey, name string) (*types.Agent, error)
	ListAgents(ctx context.Context, projectKey string) ([]*types.Agent, error)

	// Messages
	GetInbox(ctx context.Context, projectKey, agent string, opts InboxOptions) ([]*types.InboxMessage, error)
	GetMessage(ctx context.Context, projectKey string, messageID int64) (*types.Message, error)

	// Reservations and locks
	Reserve(ctx context.Context, projectKey, agent string, paths []string, opts ReserveOptions) (*types.ReserveResult, error)
	Release(ctx context.Context, projectKey, agent string, filter ReleaseFilter) (*types.ReleaseResult, error)
	CheckConflicts(ctx context.Context, projectKey, agent string, paths []string) ([]types.Conflict, error)
	ActiveReservations(ctx context.Context, projectKey string) ([]*types.Reservation, error)

	// Cells
	CreateCell(ctx context.Context, cell *types.Cell) error
	CreateEpic(ctx context.Context, epic *types.Cell, subtasks []*types.Cell) error
	GetCell(ctx context.Context, projectKey, id string) (*types.Cell, error)
	QueryCells(ctx context.Context, projectKey string, filter types.CellFilter) ([]*types.Cell, error)
	UpdateCell(ctx context.Context, projectKey, id string, updates map[string]interface{}) (*types.Cell, error)
	SetCellStatus(ctx context.Context, projectKey, id, status string) (*types.Cell, error)
	CloseCell(ctx context.Context, projectKey, id, reason string) (*types.Cell, error)
	DeleteCell(ctx context.Context, projectKey, id string) error
	ResolveCellID(ctx context.Context, projectKey, idOrPrefix string) (string, error)
	NextReadyCell(ctx context.Context, projectKey string) (*types.Cell, error)
	NextChildID(ctx context.Context, parentID string) (string, error)

	// Dirty tracking for JSONL flush
	DirtyCells(ctx context.Context, projectKey string) ([]string, error)
	ClearDirtyCells(ctx context.Context, projectKey string, ids []string) error
	GetExportHash(ctx context.Context, cellID string) (string, error)
	SetExportHash(ctx context.Context, cellID, hash string) error

	// Cursors
	AckCursor(ctx context.Context, consumerID, projectKey string, sequence int64) error
	GetCursor(ctx context.Context, consumerID, projectKey string) (*types.Cursor, error)
	ResetCursor(ctx context.Context, consumerID, projectKey string) error

	// Swarm projections
	GetSwarmContext(ctx context.Context, projectKey, beadID string) (*types.SwarmContext, error)
	GetEvalRecord(ctx context.Context, projectKey, epicID string) (*types.EvalRecord, error)

	// Aggregates
	Stats(ctx context.Context, projectKey string) (*types.Stats, error)

	// SetEventSink registers a callback invoked after every committed
	// append. Used by the live-stream broadcaster; must not block.
	SetEventSink(fn func(*types.Event))

	// Health probes basic connectivity with a trivial query.
	Health(ctx context.Context) error

	// Lifecycle
	Close() error
	Path() string

	// UnderlyingDB exposes the *sql.DB for extensions that add their own
	// tables alongside the core schema. Bypasses the storage layer.
	UnderlyingDB() *sql.DB
}

// Config holds database configuration.
type Config struct {
	// Path is the database file path, normally <project>/.hive/hive.db.
	Path string

	// BusyTimeout bounds how long SQLite waits on a locked database before
	// surfacing SQLITE_BUSY. Zero means the backend default.
	BusyTimeout time.Duration
}

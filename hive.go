// Package hive provides a minimal public API for embedding the coordination
// substrate in other Go programs.
//
// Most consumers should talk to a running stream server over HTTP. This
// package exports only the types and constructors needed by Go-based
// extensions that want the facade in-process.
package hive

import (
	"context"

	internal "github.com/minhtri2710/swarm-tools-sub001/internal/hive"
	"github.com/minhtri2710/swarm-tools-sub001/internal/storage"
	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// Session is the per-project facade: messaging, reservations, cells, events.
type Session = internal.Session

// Registry caches one Session per project path and owns their lifetimes.
type Registry = internal.Registry

// RegisterAgentArgs, SendArgs and friends mirror the facade operations.
type (
	RegisterAgentArgs = internal.RegisterAgentArgs
	SendArgs          = internal.SendArgs
	SendResult        = internal.SendResult
	HealthStatus      = internal.HealthStatus
)

// NewRegistry returns an empty project registry. Call Shutdown before the
// process exits so dirty cells reach the on-disk JSONL.
func NewRegistry() *Registry {
	return internal.NewRegistry()
}

// Open returns the Session for a project directory, opening the database and
// running migrations on first use of the path.
func Open(ctx context.Context, registry *Registry, projectPath string) (*Session, error) {
	return registry.Get(ctx, projectPath)
}

// Storage is the backend interface, for extensions that add read paths.
type Storage = storage.Storage

// Options re-exported from the storage layer.
type (
	InboxOptions   = storage.InboxOptions
	ReserveOptions = storage.ReserveOptions
	ReleaseFilter  = storage.ReleaseFilter
)

// Core domain types.
type (
	Agent          = types.Agent
	Message        = types.Message
	InboxMessage   = types.InboxMessage
	Reservation    = types.Reservation
	Conflict       = types.Conflict
	ReserveResult  = types.ReserveResult
	ReleaseResult  = types.ReleaseResult
	Cell           = types.Cell
	CellFilter     = types.CellFilter
	Event          = types.Event
	EventType      = types.EventType
	EventFilter    = types.EventFilter
	SwarmContext   = types.SwarmContext
	CheckpointData = types.CheckpointData
	Stats          = types.Stats
	Cursor         = types.Cursor
)

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/minhtri2710/swarm-tools-sub001/internal/pathglob"
	"github.com/minhtri2710/swarm-tools-sub001/internal/storage"
	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

const defaultReservationTTL = 3600 // seconds

// CheckConflicts scans the project's active exclusive reservations held by
// other agents and reports every requested path that overlaps one, with the
// holder and the matching pattern.
func (s *Store) CheckConflicts(ctx context.Context, projectKey, agent string, paths []string) ([]types.Conflict, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	active, err := s.ActiveReservations(ctx, projectKey)
	if err != nil {
		return nil, err
	}

	var conflicts []types.Conflict
	for _, path := range paths {
		for _, r := range active {
			if r.AgentName == agent || !r.Exclusive {
				continue
			}
			if pathglob.Overlaps(r.PathPattern, path) {
				conflicts = append(conflicts, types.Conflict{
					Path:    path,
					Holder:  r.AgentName,
					Pattern: r.PathPattern,
				})
				break
			}
		}
	}
	return conflicts, nil
}

// Reserve implements the reserve contract: conflict scan, CAS lock
// acquisition for exclusive requests, then a single file_reserved event whose
// projection writes the reservation rows atomically with the log entry.
// Conflicts are a normal result; with force=false they block the grant.
// Force skips the conflict check only: a live CAS lock on the identical
// resource still contends, so displacing a holder on the exact same path
// requires its release or lock expiry.
func (s *Store) Reserve(ctx context.Context, projectKey, agent string, paths []string, opts storage.ReserveOptions) (*types.ReserveResult, error) {
	result := &types.ReserveResult{Granted: []types.Granted{}, Conflicts: []types.Conflict{}}
	if len(paths) == 0 {
		return result, nil
	}
	if agent == "" {
		return nil, types.NewValidation("agent", "must not be empty")
	}

	ttl := opts.TTLSeconds
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}

	conflicts, err := s.CheckConflicts(ctx, projectKey, agent, paths)
	if err != nil {
		return nil, err
	}
	result.Conflicts = append(result.Conflicts, conflicts...)
	if len(conflicts) > 0 && !opts.Force {
		return result, nil
	}

	// Exclusive reservations are backed by durable CAS locks, one per path.
	// The event is appended only after every lock is held, so readers never
	// observe a reservation whose lock is missing. On a failed acquire the
	// locks taken earlier in this call are released best-effort.
	holderIDs := make([]string, len(paths))
	if opts.Exclusive {
		// Re-reserving a path the agent already holds must not contend with
		// the agent's own prior lock; drop it before acquiring the new one.
		own, err := s.activeReservationsFor(ctx, projectKey, agent)
		if err != nil {
			return nil, err
		}
		for _, r := range own {
			if r.LockHolderID == "" {
				continue
			}
			for _, path := range paths {
				if r.PathPattern == path {
					_ = s.releaseLock(ctx, projectKey, path, r.LockHolderID)
				}
			}
		}
		for i, path := range paths {
			holderID := uuid.NewString()
			if err := s.acquireLock(ctx, projectKey, path, holderID, time.Duration(ttl)*time.Second); err != nil {
				for j := 0; j < i; j++ {
					_ = s.releaseLock(ctx, projectKey, paths[j], holderIDs[j])
				}
				return nil, err
			}
			holderIDs[i] = holderID
		}
	}

	now := time.Now().UnixMilli()
	data := types.FileReservedData{
		Agent:      agent,
		Paths:      paths,
		Exclusive:  opts.Exclusive,
		Reason:     opts.Reason,
		TTLSeconds: ttl,
		ExpiresAt:  now + ttl*1000,
	}
	if opts.Exclusive {
		data.HolderIDs = holderIDs
	}
	payload, err := json.Marshal(&data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reservation payload: %w", err)
	}

	event := &types.Event{
		Type:       types.EventFileReserved,
		ProjectKey: projectKey,
		Timestamp:  now,
		Data:       payload,
	}
	if err := s.AppendEvent(ctx, event); err != nil {
		if opts.Exclusive {
			for i, path := range paths {
				_ = s.releaseLock(ctx, projectKey, path, holderIDs[i])
			}
		}
		return nil, err
	}

	granted, err := s.reservationsForEvent(ctx, projectKey, agent, paths, now)
	if err != nil {
		return nil, err
	}
	result.Granted = granted
	return result, nil
}

// reservationsForEvent reads back the rows the projection just inserted so
// the caller gets real reservation IDs.
func (s *Store) reservationsForEvent(ctx context.Context, projectKey, agent string, paths []string, createdAt int64) ([]types.Granted, error) {
	byPath := make(map[string]types.Granted)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path_pattern, expires_at FROM reservations
		WHERE project_key = ? AND agent_name = ? AND created_at = ? AND released_at IS NULL
	`, projectKey, agent, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read granted reservations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			g       types.Granted
			expires int64
		)
		if err := rows.Scan(&g.ID, &g.Path, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		g.ExpiresAt = time.UnixMilli(expires).UTC()
		byPath[g.Path] = g
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	granted := make([]types.Granted, 0, len(paths))
	for _, path := range paths {
		if g, ok := byPath[path]; ok {
			granted = append(granted, g)
		}
	}
	return granted, nil
}

// Release retires the agent's active reservations selected by filter
// (explicit IDs, else paths, else everything). The file_released event is
// appended before any durable lock is dropped: a failed append leaves rows
// and locks both intact, never a live reservation with its lock gone. Lock
// release itself is best-effort; an expired or reclaimed lock never fails
// the call.
func (s *Store) Release(ctx context.Context, projectKey, agent string, filter storage.ReleaseFilter) (*types.ReleaseResult, error) {
	if agent == "" {
		return nil, types.NewValidation("agent", "must not be empty")
	}

	active, err := s.activeReservationsFor(ctx, projectKey, agent)
	if err != nil {
		return nil, err
	}

	matches := func(r *types.Reservation) bool {
		switch {
		case len(filter.ReservationIDs) > 0:
			for _, id := range filter.ReservationIDs {
				if r.ID == id {
					return true
				}
			}
			return false
		case len(filter.Paths) > 0:
			for _, p := range filter.Paths {
				if r.PathPattern == p {
					return true
				}
			}
			return false
		default:
			return true
		}
	}

	var selected []*types.Reservation
	for _, r := range active {
		if matches(r) {
			selected = append(selected, r)
		}
	}

	now := time.Now()
	result := &types.ReleaseResult{Released: len(selected), ReleasedAt: now.UTC()}
	if len(selected) == 0 {
		return result, nil
	}

	data := types.FileReleasedData{Agent: agent}
	if len(filter.ReservationIDs) > 0 {
		data.ReservationIDs = filter.ReservationIDs
	} else if len(filter.Paths) > 0 {
		data.Paths = filter.Paths
	}
	payload, err := json.Marshal(&data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal release payload: %w", err)
	}

	event := &types.Event{
		Type:       types.EventFileReleased,
		ProjectKey: projectKey,
		Timestamp:  now.UnixMilli(),
		Data:       payload,
	}
	if err := s.AppendEvent(ctx, event); err != nil {
		return nil, err
	}

	for _, r := range selected {
		if r.LockHolderID != "" {
			_ = s.releaseLock(ctx, projectKey, r.PathPattern, r.LockHolderID)
		}
	}
	return result, nil
}

// ActiveReservations returns every unreleased, unexpired reservation for a
// project.
func (s *Store) ActiveReservations(ctx context.Context, projectKey string) ([]*types.Reservation, error) {
	return s.queryReservations(ctx, `
		SELECT id, project_key, agent_name, path_pattern, exclusive, reason, created_at, expires_at, released_at, lock_holder_id
		FROM reservations
		WHERE project_key = ? AND released_at IS NULL AND expires_at > ?
		ORDER BY id
	`, projectKey, time.Now().UnixMilli())
}

func (s *Store) activeReservationsFor(ctx context.Context, projectKey, agent string) ([]*types.Reservation, error) {
	return s.queryReservations(ctx, `
		SELECT id, project_key, agent_name, path_pattern, exclusive, reason, created_at, expires_at, released_at, lock_holder_id
		FROM reservations
		WHERE project_key = ? AND agent_name = ? AND released_at IS NULL AND expires_at > ?
		ORDER BY id
	`, projectKey, agent, time.Now().UnixMilli())
}

func (s *Store) queryReservations(ctx context.Context, query string, args ...interface{}) ([]*types.Reservation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reservations []*types.Reservation
	for rows.Next() {
		var (
			r         types.Reservation
			exclusive int
			created   int64
			expires   int64
			released  sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.ProjectKey, &r.AgentName, &r.PathPattern, &exclusive,
			&r.Reason, &created, &expires, &released, &r.LockHolderID); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		r.Exclusive = exclusive != 0
		r.CreatedAt = time.UnixMilli(created).UTC()
		r.ExpiresAt = time.UnixMilli(expires).UTC()
		if released.Valid {
			t := time.UnixMilli(released.Int64).UTC()
			r.ReleasedAt = &t
		}
		reservations = append(reservations, &r)
	}
	return reservations, rows.Err()
}

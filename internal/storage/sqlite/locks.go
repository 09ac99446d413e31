package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// Bounds for the CAS acquire loop.
const (
	lockMaxAttempts     = 5
	lockInitialInterval = 10 * time.Millisecond
)

var errLockRetry = errors.New("lock version mismatch")

// acquireLock takes the durable lock for resource on behalf of holderID,
// retrying version mismatches with exponential backoff. Expired locks are
// reclaimed in place. On exhaustion the caller gets a LockContentionError
// naming the resource.
func (s *Store) acquireLock(ctx context.Context, projectKey, resource, holderID string, ttl time.Duration) error {
	attempt := 0
	op := func() error {
		attempt++
		err := s.tryAcquireLock(ctx, projectKey, resource, holderID, ttl)
		if errors.Is(err, errLockRetry) {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(lockInitialInterval),
	), lockMaxAttempts-1)

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		if errors.Is(err, errLockRetry) {
			return &types.LockContentionError{Resource: resource, Attempts: attempt}
		}
		return err
	}
	return nil
}

// tryAcquireLock performs one CAS round: read the current row, then insert
// or conditionally update keyed on the observed cas_version.
func (s *Store) tryAcquireLock(ctx context.Context, projectKey, resource, holderID string, ttl time.Duration) error {
	now := time.Now().UnixMilli()
	expires := now + ttl.Milliseconds()

	var (
		curHolder  string
		curExpires int64
		curVersion int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT holder_id, expires_at, cas_version FROM locks
		WHERE project_key = ? AND resource = ?
	`, projectKey, resource).Scan(&curHolder, &curExpires, &curVersion)

	switch {
	case err == sql.ErrNoRows:
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO locks (project_key, resource, holder_id, expires_at, cas_version)
			VALUES (?, ?, ?, ?, 1)
		`, projectKey, resource, holderID, expires)
		if err != nil {
			if isUniqueConstraintError(err) {
				return errLockRetry // raced another acquirer
			}
			return fmt.Errorf("failed to insert lock: %w", err)
		}
		return nil

	case err != nil:
		return fmt.Errorf("failed to read lock: %w", err)

	case curExpires > now && curHolder != holderID:
		// Live lock held by someone else. Retry within the bounded budget;
		// the holder may release or expire between attempts.
		return errLockRetry

	default:
		res, err := s.db.ExecContext(ctx, `
			UPDATE locks SET holder_id = ?, expires_at = ?, cas_version = cas_version + 1
			WHERE project_key = ? AND resource = ? AND cas_version = ?
		`, holderID, expires, projectKey, resource, curVersion)
		if err != nil {
			return fmt.Errorf("failed to update lock: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return errLockRetry // version moved under us
		}
		return nil
	}
}

// releaseLock drops the lock iff holderID still owns it. Releasing an
// expired or stolen lock is a silent no-op, never fatal.
func (s *Store) releaseLock(ctx context.Context, projectKey, resource, holderID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM locks WHERE project_key = ? AND resource = ? AND holder_id = ?
	`, projectKey, resource, holderID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// getLock returns the current lock row for a resource, or nil.
func (s *Store) getLock(ctx context.Context, projectKey, resource string) (*types.Lock, error) {
	var (
		lock    types.Lock
		expires int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT project_key, resource, holder_id, expires_at, cas_version FROM locks
		WHERE project_key = ? AND resource = ?
	`, projectKey, resource).Scan(&lock.ProjectKey, &lock.Resource, &lock.HolderID, &expires, &lock.CASVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock: %w", err)
	}
	lock.ExpiresAt = time.UnixMilli(expires).UTC()
	return &lock, nil
}

package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

func TestAcquireLockFresh(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.acquireLock(ctx, "proj", "src/a.go", "holder-1", time.Minute); err != nil {
		t.Fatalf("acquireLock failed: %v", err)
	}

	lock, err := store.getLock(ctx, "proj", "src/a.go")
	if err != nil {
		t.Fatalf("getLock failed: %v", err)
	}
	if lock == nil || lock.HolderID != "holder-1" {
		t.Errorf("lock = %+v, want holder-1", lock)
	}
	if lock.CASVersion != 1 {
		t.Errorf("fresh lock cas_version = %d, want 1", lock.CASVersion)
	}
}

func TestAcquireLockRefreshSameHolder(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.acquireLock(ctx, "proj", "src/a.go", "holder-1", time.Minute); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := store.acquireLock(ctx, "proj", "src/a.go", "holder-1", time.Minute); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	lock, _ := store.getLock(ctx, "proj", "src/a.go")
	if lock.CASVersion != 2 {
		t.Errorf("refreshed lock cas_version = %d, want 2", lock.CASVersion)
	}
}

func TestAcquireLockContention(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.acquireLock(ctx, "proj", "src/a.go", "holder-1", time.Minute); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	err := store.acquireLock(ctx, "proj", "src/a.go", "holder-2", time.Minute)
	var contention *types.LockContentionError
	if !errors.As(err, &contention) {
		t.Fatalf("contended acquire = %v, want LockContentionError", err)
	}
	if contention.Resource != "src/a.go" {
		t.Errorf("contention resource = %q", contention.Resource)
	}
	if contention.Attempts != lockMaxAttempts {
		t.Errorf("attempts = %d, want %d", contention.Attempts, lockMaxAttempts)
	}

	// Original holder unaffected.
	lock, _ := store.getLock(ctx, "proj", "src/a.go")
	if lock.HolderID != "holder-1" {
		t.Errorf("holder changed to %q under contention", lock.HolderID)
	}
}

func TestAcquireLockReclaimsExpired(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.acquireLock(ctx, "proj", "src/a.go", "holder-1", -time.Second); err != nil {
		t.Fatalf("seed acquire failed: %v", err)
	}
	if err := store.acquireLock(ctx, "proj", "src/a.go", "holder-2", time.Minute); err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}

	lock, _ := store.getLock(ctx, "proj", "src/a.go")
	if lock.HolderID != "holder-2" {
		t.Errorf("expired lock not reclaimed, holder = %q", lock.HolderID)
	}
	if lock.CASVersion != 2 {
		t.Errorf("reclaim cas_version = %d, want 2", lock.CASVersion)
	}
}

func TestReleaseLockWrongHolderNoOp(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.acquireLock(ctx, "proj", "src/a.go", "holder-1", time.Minute); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := store.releaseLock(ctx, "proj", "src/a.go", "holder-2"); err != nil {
		t.Fatalf("wrong-holder release errored: %v", err)
	}

	lock, _ := store.getLock(ctx, "proj", "src/a.go")
	if lock == nil || lock.HolderID != "holder-1" {
		t.Errorf("wrong-holder release removed the lock")
	}
}

func TestReleaseLockByHolder(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.acquireLock(ctx, "proj", "src/a.go", "holder-1", time.Minute); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := store.releaseLock(ctx, "proj", "src/a.go", "holder-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	lock, err := store.getLock(ctx, "proj", "src/a.go")
	if err != nil {
		t.Fatalf("getLock failed: %v", err)
	}
	if lock != nil {
		t.Errorf("lock survived release: %+v", lock)
	}

	// Resource immediately reusable by a new holder.
	if err := store.acquireLock(ctx, "proj", "src/a.go", "holder-3", time.Minute); err != nil {
		t.Errorf("reacquire after release failed: %v", err)
	}
}

func TestLocksScopedByProject(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.acquireLock(ctx, "alpha", "src/a.go", "holder-1", time.Minute); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := store.acquireLock(ctx, "beta", "src/a.go", "holder-2", time.Minute); err != nil {
		t.Errorf("same resource in another project contended: %v", err)
	}
}

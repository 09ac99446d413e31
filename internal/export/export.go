// Package export flushes dirty cells to the project's issues.jsonl so the
// on-disk file always reflects tracker state. The file is the git-visible
// artifact; the database is the source of truth between flushes.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/minhtri2710/swarm-tools-sub001/internal/jsonl"
	"github.com/minhtri2710/swarm-tools-sub001/internal/storage"
	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

const (
	lockTimeout       = 5 * time.Second
	lockRetryInterval = 50 * time.Millisecond
)

// IssuesFile is the JSONL filename inside the .hive directory.
const IssuesFile = "issues.jsonl"

// Flusher writes tracker state to the JSONL file next to the database.
type Flusher struct {
	store storage.Storage
	dir   string
}

// NewFlusher returns a flusher targeting the directory of the store's
// database file.
func NewFlusher(store storage.Storage) *Flusher {
	return &Flusher{store: store, dir: filepath.Dir(store.Path())}
}

// FilePath returns the JSONL file the flusher writes.
func (f *Flusher) FilePath() string {
	return filepath.Join(f.dir, IssuesFile)
}

// Flush writes the project's cells to issues.jsonl if any dirty cell's
// exported form actually changed, then clears the dirty set. Returns the
// number of cells whose content changed. A cross-process file lock guards
// the write; concurrent flushers queue rather than interleave.
func (f *Flusher) Flush(ctx context.Context, projectKey string) (int, error) {
	dirty, err := f.store.DirtyCells(ctx, projectKey)
	if err != nil {
		return 0, err
	}
	if len(dirty) == 0 {
		return 0, nil
	}

	changed, err := f.changedCells(ctx, projectKey, dirty)
	if err != nil {
		return 0, err
	}
	if len(changed) == 0 {
		// Every dirty cell re-exported to its previous form; nothing to write.
		return 0, f.store.ClearDirtyCells(ctx, projectKey, dirty)
	}

	fileLock := flock.New(f.FilePath() + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := fileLock.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil {
		return 0, fmt.Errorf("failed to lock %s: %w", f.FilePath(), err)
	}
	if !locked {
		return 0, &types.LockTimeoutError{Resource: f.FilePath(), Holder: "another process"}
	}
	defer func() { _ = fileLock.Unlock() }()

	if err := f.writeFile(ctx, projectKey); err != nil {
		return 0, err
	}

	for id, hash := range changed {
		if err := f.store.SetExportHash(ctx, id, hash); err != nil {
			return 0, err
		}
	}
	if err := f.store.ClearDirtyCells(ctx, projectKey, dirty); err != nil {
		return 0, err
	}
	return len(changed), nil
}

// changedCells maps each dirty cell whose exported content differs from its
// recorded hash to the new hash. Cells deleted since they were marked are
// skipped.
func (f *Flusher) changedCells(ctx context.Context, projectKey string, dirty []string) (map[string]string, error) {
	changed := make(map[string]string)
	for _, id := range dirty {
		cell, err := f.store.GetCell(ctx, projectKey, id)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		hash, err := jsonl.ContentHash(jsonl.FromCell(cell))
		if err != nil {
			return nil, err
		}
		prev, err := f.store.GetExportHash(ctx, id)
		if err != nil {
			return nil, err
		}
		if hash != prev {
			changed[id] = hash
		}
	}
	return changed, nil
}

// writeFile snapshots every cell in the project to a temp file and renames it
// into place so readers never observe a half-written file.
func (f *Flusher) writeFile(ctx context.Context, projectKey string) error {
	cells, err := f.store.QueryCells(ctx, projectKey, types.CellFilter{})
	if err != nil {
		return err
	}
	records := make([]*jsonl.Record, 0, len(cells))
	for _, cell := range cells {
		records = append(records, jsonl.FromCell(cell))
	}

	tmp, err := os.CreateTemp(f.dir, IssuesFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp export file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := jsonl.Encode(tmp, records); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp export file: %w", err)
	}
	if err := os.Rename(tmpPath, f.FilePath()); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.FilePath(), err)
	}
	return nil
}

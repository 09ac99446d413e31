// Package importer seeds and refreshes the database from JSONL files,
// including the one-time legacy directory migration.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minhtri2710/swarm-tools-sub001/internal/jsonl"
	"github.com/minhtri2710/swarm-tools-sub001/internal/storage"
	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// File names inside the project state directory.
const (
	HiveDir    = ".hive"
	LegacyDir  = ".beads"
	IssuesFile = "issues.jsonl"
	BaseFile   = "beads.base.jsonl"
	legacyFile = "beads.jsonl"
)

// Result summarizes one import run.
type Result struct {
	Created   int
	Updated   int
	Unchanged int
}

// MigrateLegacyLayout renames a project's .beads directory to .hive if no
// .hive exists yet, and normalizes the legacy JSONL filename. Returns true
// if a migration happened. Idempotent: a project already on .hive is left
// alone even if a stray .beads reappears.
func MigrateLegacyLayout(root string) (bool, error) {
	hivePath := filepath.Join(root, HiveDir)
	legacyPath := filepath.Join(root, LegacyDir)

	if _, err := os.Stat(hivePath); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat %s: %w", hivePath, err)
	}
	if _, err := os.Stat(legacyPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", legacyPath, err)
	}

	if err := os.Rename(legacyPath, hivePath); err != nil {
		return false, fmt.Errorf("failed to migrate %s to %s: %w", legacyPath, hivePath, err)
	}

	// beads.jsonl becomes issues.jsonl unless one already exists.
	oldIssues := filepath.Join(hivePath, legacyFile)
	newIssues := filepath.Join(hivePath, IssuesFile)
	if _, err := os.Stat(oldIssues); err == nil {
		if _, err := os.Stat(newIssues); os.IsNotExist(err) {
			if err := os.Rename(oldIssues, newIssues); err != nil {
				return true, fmt.Errorf("failed to rename %s: %w", oldIssues, err)
			}
		}
	}
	return true, nil
}

// LoadMergedRecords reads issues.jsonl merged with beads.base.jsonl from a
// .hive directory. Merge is by ID and issues.jsonl wins on conflict. A
// missing issues file yields just the base records; both missing yields nil.
func LoadMergedRecords(dir string) ([]*jsonl.Record, error) {
	base, err := readRecords(filepath.Join(dir, BaseFile))
	if err != nil {
		return nil, err
	}
	issues, err := readRecords(filepath.Join(dir, IssuesFile))
	if err != nil {
		return nil, err
	}
	if base == nil {
		return issues, nil
	}

	merged := make([]*jsonl.Record, 0, len(base)+len(issues))
	index := make(map[string]int)
	for _, rec := range base {
		index[rec.ID] = len(merged)
		merged = append(merged, rec)
	}
	for _, rec := range issues {
		if i, ok := index[rec.ID]; ok {
			merged[i] = rec
			continue
		}
		index[rec.ID] = len(merged)
		merged = append(merged, rec)
	}
	return merged, nil
}

func readRecords(path string) ([]*jsonl.Record, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path derived from the project directory
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	records, err := jsonl.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// ImportRecords upserts records into the tracker. New cells are created
// through the event log; existing cells are patched only when their exported
// form actually differs, so re-importing a flushed file is a no-op.
func ImportRecords(ctx context.Context, store storage.Storage, projectKey string, records []*jsonl.Record) (*Result, error) {
	result := &Result{}
	for _, rec := range records {
		cell, err := rec.ToCell(projectKey)
		if err != nil {
			return result, err
		}

		existing, err := store.GetCell(ctx, projectKey, cell.ID)
		if errors.Is(err, types.ErrNotFound) {
			if err := store.CreateCell(ctx, cell); err != nil {
				return result, fmt.Errorf("failed to import %s: %w", cell.ID, err)
			}
			result.Created++
			continue
		}
		if err != nil {
			return result, err
		}

		changed, err := applyDiff(ctx, store, existing, cell)
		if err != nil {
			return result, fmt.Errorf("failed to update %s: %w", cell.ID, err)
		}
		if changed {
			result.Updated++
		} else {
			result.Unchanged++
		}
	}
	return result, nil
}

// ImportDir runs the merged-file import for one .hive directory.
func ImportDir(ctx context.Context, store storage.Storage, projectKey, dir string) (*Result, error) {
	records, err := LoadMergedRecords(dir)
	if err != nil {
		return nil, err
	}
	return ImportRecords(ctx, store, projectKey, records)
}

// applyDiff patches the stored cell toward the incoming one. Only meaningful
// fields count as changes; matching content leaves the row untouched.
func applyDiff(ctx context.Context, store storage.Storage, existing, incoming *types.Cell) (bool, error) {
	updates := map[string]interface{}{}
	if existing.Title != incoming.Title {
		updates["title"] = incoming.Title
	}
	if !strPtrEqual(existing.Description, incoming.Description) {
		updates["description"] = incoming.Description
	}
	if !strPtrEqual(existing.Assignee, incoming.Assignee) {
		updates["assignee"] = incoming.Assignee
	}
	if existing.Priority != incoming.Priority {
		updates["priority"] = incoming.Priority
	}
	if !strSliceEqual(existing.Dependencies, incoming.Dependencies) {
		updates["dependencies"] = incoming.Dependencies
	}
	if !strMapEqual(existing.Metadata, incoming.Metadata) {
		updates["metadata"] = incoming.Metadata
	}

	changed := false
	if len(updates) > 0 {
		if _, err := store.UpdateCell(ctx, existing.ProjectKey, existing.ID, updates); err != nil {
			return false, err
		}
		changed = true
	}

	if existing.Status != incoming.Status {
		if incoming.Status == types.StatusClosed {
			if _, err := store.CloseCell(ctx, existing.ProjectKey, existing.ID, "imported as closed"); err != nil {
				return false, err
			}
		} else if !existing.Closed() {
			if _, err := store.SetCellStatus(ctx, existing.ProjectKey, existing.ID, incoming.Status); err != nil {
				return false, err
			}
		} else {
			// Reopening a closed cell from a file is not supported; the
			// terminal state wins.
			return changed, nil
		}
		changed = true
	}
	return changed, nil
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func strSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func strMapEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

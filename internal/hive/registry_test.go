package hive

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/minhtri2710/swarm-tools-sub001/internal/importer"
	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

func TestRegistryCachesSessionsByPath(t *testing.T) {
	registry := NewRegistry()
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })
	ctx := context.Background()
	root := t.TempDir()

	first, err := registry.Get(ctx, root)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := registry.Get(ctx, root)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if first != second {
		t.Error("same path produced two sessions")
	}

	other, err := registry.Get(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Get for second project failed: %v", err)
	}
	if other == first {
		t.Error("distinct paths share a session")
	}
	if got := registry.List(); len(got) != 2 {
		t.Errorf("List = %v, want 2 projects", got)
	}
}

func TestRegistrySeedsFromIssuesFile(t *testing.T) {
	registry := NewRegistry()
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })
	ctx := context.Background()
	root := t.TempDir()

	seed := `{"id":"bh-seed01","title":"Seeded","status":"open","priority":2,"issue_type":"task","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}` + "\n"
	dir := filepath.Join(root, importer.HiveDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, importer.IssuesFile), []byte(seed), 0600); err != nil {
		t.Fatal(err)
	}

	session, err := registry.Get(ctx, root)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	cell, err := session.GetCell(ctx, "bh-seed01")
	if err != nil {
		t.Fatalf("seeded cell missing: %v", err)
	}
	if cell.Title != "Seeded" {
		t.Errorf("title = %q", cell.Title)
	}
}

func TestRegistryMigratesLegacyLayout(t *testing.T) {
	registry := NewRegistry()
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })
	ctx := context.Background()
	root := t.TempDir()

	legacy := filepath.Join(root, importer.LegacyDir)
	if err := os.MkdirAll(legacy, 0750); err != nil {
		t.Fatal(err)
	}
	line := `{"id":"bh-old001","title":"Legacy","status":"open","issue_type":"task","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}` + "\n"
	if err := os.WriteFile(filepath.Join(legacy, "beads.jsonl"), []byte(line), 0600); err != nil {
		t.Fatal(err)
	}

	session, err := registry.Get(ctx, root)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := os.Stat(legacy); !os.IsNotExist(err) {
		t.Error(".beads directory survived open")
	}
	if _, err := session.GetCell(ctx, "bh-old001"); err != nil {
		t.Errorf("legacy cell not imported: %v", err)
	}
}

func TestShutdownFlushesEveryProject(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	var paths []string
	for i := 0; i < 2; i++ {
		root := t.TempDir()
		session, err := registry.Get(ctx, root)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		cell := &types.Cell{Title: "pending"}
		if err := session.CreateCell(ctx, cell); err != nil {
			t.Fatalf("CreateCell failed: %v", err)
		}
		paths = append(paths, session.IssuesFilePath())
	}

	if err := registry.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("issues file missing after shutdown: %v", err)
		}
	}
}

func TestShutdownIsSingleEntry(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()
	if _, err := registry.Get(ctx, t.TempDir()); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := registry.Shutdown(ctx); err != nil {
				t.Errorf("Shutdown failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if _, err := registry.Get(ctx, t.TempDir()); err == nil {
		t.Error("Get succeeded after shutdown")
	}
}

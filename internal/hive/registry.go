package hive

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/minhtri2710/swarm-tools-sub001/internal/debug"
	"github.com/minhtri2710/swarm-tools-sub001/internal/importer"
	"github.com/minhtri2710/swarm-tools-sub001/internal/storage/sqlite"
)

// Registry caches one Session per project path for the lifetime of the
// process. First use of a path migrates any legacy layout, opens the
// database under <path>/.hive/, and seeds it from the JSONL file when the
// database is empty. Shutdown flushes every cached project exactly once.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	shutdown bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the Session for projectPath, opening it on first use. The
// cleaned absolute path doubles as the project key.
func (r *Registry) Get(ctx context.Context, projectPath string) (*Session, error) {
	key, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return nil, fmt.Errorf("registry is shut down")
	}
	if session, ok := r.sessions[key]; ok {
		return session, nil
	}

	session, err := r.open(ctx, key)
	if err != nil {
		return nil, err
	}
	r.sessions[key] = session
	return session, nil
}

func (r *Registry) open(ctx context.Context, key string) (*Session, error) {
	migrated, err := importer.MigrateLegacyLayout(key)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate legacy layout: %w", err)
	}
	if migrated {
		debug.Logf(debug.TagImport, "migrated legacy layout under %s", key)
	}

	dbPath := filepath.Join(key, importer.HiveDir, "hive.db")
	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open project database: %w", err)
	}

	// Seed an empty database from the on-disk JSONL, best-effort: a bad seed
	// file must not keep the project from opening.
	if err := r.seed(ctx, store, key); err != nil {
		debug.Logf(debug.TagImport, "seed import for %s skipped: %v", key, err)
	}

	return NewSession(key, store), nil
}

func (r *Registry) seed(ctx context.Context, store *sqlite.Store, key string) error {
	latest, err := store.LatestSequence(ctx, key)
	if err != nil {
		return err
	}
	if latest > 0 {
		return nil
	}
	result, err := importer.ImportDir(ctx, store, key, filepath.Join(key, importer.HiveDir))
	if err != nil {
		return err
	}
	if result.Created > 0 {
		debug.Logf(debug.TagImport, "seeded %d cells into %s", result.Created, key)
	}
	return nil
}

// List returns the cached project keys, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.sessions))
	for key := range r.sessions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Shutdown flushes dirty cells for every cached project, then closes each
// handle. Single-entry: concurrent or repeated calls return immediately. The
// first error is reported but does not stop the remaining flushes.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil
	}
	r.shutdown = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var firstErr error
	for _, session := range sessions {
		if _, err := session.Flush(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to flush %s: %w", session.ProjectKey(), err)
		}
		session.Close()
		if err := session.Store().Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s: %w", session.ProjectKey(), err)
		}
	}
	return firstErr
}

// Package sqlite implements hive storage on an embedded SQLite database via
// the pure-Go ncruces driver. One database file per project tree, normally
// <project>/.hive/hive.db.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/minhtri2710/swarm-tools-sub001/internal/storage"
	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

var _ storage.Storage = (*Store)(nil)

// Store is the SQLite-backed storage implementation. Writes are serialized
// by mu so a single process has exactly one writer per database; cross-process
// writers rely on SQLite's own locking with a busy timeout.
type Store struct {
	db   *sql.DB
	path string

	// mu guards the append/projection transaction boundary.
	mu sync.Mutex

	sinkMu sync.RWMutex
	sink   func(*types.Event)
}

// New opens (creating if needed) the database at path, applies pragmas, and
// brings the schema up to the latest version. A migration failure is fatal:
// the database is closed and the error returned.
func New(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// _pragma args are applied per-connection by the ncruces driver.
	// _txlock=immediate makes BeginTx acquire the write lock up front so
	// concurrent writers queue on the busy timeout instead of deadlocking.
	dsn := "file:" + path + "?_txlock=immediate" +
		"&_pragma=busy_timeout(10000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// withTx runs fn inside a single transaction. The transaction is rolled back
// on error or panic, committed otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// SetEventSink registers fn to receive every event after its transaction
// commits. fn must not block; the live stream broadcaster fans out on its
// own goroutines.
func (s *Store) SetEventSink(fn func(*types.Event)) {
	s.sinkMu.Lock()
	s.sink = fn
	s.sinkMu.Unlock()
}

func (s *Store) notify(event *types.Event) {
	s.sinkMu.RLock()
	fn := s.sink
	s.sinkMu.RUnlock()
	if fn != nil {
		fn(event)
	}
}

// Health probes connectivity with a trivial query.
func (s *Store) Health(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// UnderlyingDB returns the underlying *sql.DB connection pool.
func (s *Store) UnderlyingDB() *sql.DB { return s.db }

// Close releases the database. Safe to call multiple times; operations on a
// closed store return the driver's closed-database error rather than
// panicking.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// isUniqueConstraintError reports whether err is a UNIQUE constraint
// violation, used to map driver errors onto the integrity taxonomy.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

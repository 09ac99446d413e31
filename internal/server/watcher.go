package server

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/minhtri2710/swarm-tools-sub001/internal/debug"
	"github.com/minhtri2710/swarm-tools-sub001/internal/importer"
)

// debounce window for issues-file writes. Editors and flushes produce bursts
// of events; one import per burst is enough.
const watchDebounce = 250 * time.Millisecond

// watchIssues re-imports the configured project's issues.jsonl whenever an
// external process rewrites it. Import failures are logged and skipped; a
// broken file must never take the server down.
func (s *Server) watchIssues(ctx context.Context) error {
	session, err := s.configured(ctx)
	if err != nil {
		return err
	}
	dir := filepath.Dir(session.IssuesFilePath())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != importer.IssuesFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			debug.Logf(debug.TagImport, "watcher error: %v", err)
		case <-pending:
			pending = nil
			result, err := importer.ImportDir(ctx, session.Store(), session.ProjectKey(), dir)
			if err != nil {
				debug.Logf(debug.TagImport, "auto-import failed: %v", err)
				continue
			}
			if result.Created > 0 || result.Updated > 0 {
				debug.Logf(debug.TagImport, "auto-import: %d created, %d updated", result.Created, result.Updated)
			}
		}
	}
}

// Package server exposes the event log and cell tracker over HTTP: one-shot
// JSON reads, live SSE streams, and a cell snapshot. CORS-open, no auth;
// intended for local dashboards watching agent activity.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minhtri2710/swarm-tools-sub001/internal/hive"
	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// defaultLimit bounds one-shot reads and SSE backlog when the client does not
// pass an explicit limit.
const defaultLimit = 100

// Config carries the server settings.
type Config struct {
	// Addr is the listen address, e.g. ":7630".
	Addr string

	// ProjectPath is the project served by /cells and /events. /streams/{key}
	// can address any project the registry has open.
	ProjectPath string
}

// Server is the HTTP stream server. Run blocks until the context is
// cancelled, then shuts down, closing every live stream.
type Server struct {
	registry *hive.Registry
	cfg      Config
	done     chan struct{}
}

// New builds a server over a shared registry.
func New(registry *hive.Registry, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":7630"
	}
	return &Server{registry: registry, cfg: cfg, done: make(chan struct{})}
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /streams/{project}", s.handleStream)
	mux.HandleFunc("GET /cells", s.handleCells)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("OPTIONS /", s.handlePreflight)
	mux.HandleFunc("/", s.handleNotFound)
	return mux
}

// Run serves until ctx is cancelled. The issues-file watcher runs alongside
// so external JSONL edits show up without a restart.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return s.watchIssues(ctx)
	})
	group.Go(func() error {
		<-ctx.Done()
		close(s.done)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func corsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
}

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	corsHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	corsHeaders(w)
	http.Error(w, "not found", http.StatusNotFound)
}

// session resolves a stream path component against the registry: the full
// project key or its base name both work.
func (s *Server) session(project string) *hive.Session {
	for _, key := range s.registry.List() {
		if key == project || filepath.Base(key) == project {
			if session, err := s.registry.Get(context.Background(), key); err == nil {
				return session
			}
		}
	}
	return nil
}

// configured opens (or returns) the session for the configured project.
func (s *Server) configured(ctx context.Context) (*hive.Session, error) {
	return s.registry.Get(ctx, s.cfg.ProjectPath)
}

type streamParams struct {
	offset int64
	limit  int
	live   bool
}

func parseStreamParams(r *http.Request) (streamParams, error) {
	params := streamParams{limit: defaultLimit}
	query := r.URL.Query()

	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || offset < 0 {
			return params, fmt.Errorf("invalid offset %q", raw)
		}
		params.offset = offset
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return params, fmt.Errorf("invalid limit %q", raw)
		}
		params.limit = limit
	}
	if raw := query.Get("live"); raw != "" {
		live, err := strconv.ParseBool(raw)
		if err != nil {
			return params, fmt.Errorf("invalid live %q", raw)
		}
		params.live = live
	}
	return params, nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	corsHeaders(w)
	session := s.session(r.PathValue("project"))
	if session == nil {
		http.Error(w, "unknown project", http.StatusNotFound)
		return
	}
	params, err := parseStreamParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if params.live {
		s.serveLive(w, r, session, params)
		return
	}

	events, err := session.Events(r.Context(), types.EventFilter{
		AfterSequence: params.offset,
		Limit:         params.limit,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	body := make([]json.RawMessage, 0, len(events))
	for _, event := range events {
		frame, err := eventJSON(event)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		body = append(body, frame)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// serveLive streams the backlog after offset, then every newly committed
// event, until the client disconnects or the server shuts down.
func (s *Server) serveLive(w http.ResponseWriter, r *http.Request, session *hive.Session, params streamParams) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	// Subscribe before reading the backlog so nothing appended in between
	// is missed; the sequence check below drops duplicates.
	live, cancel := session.Subscribe()
	defer cancel()

	lastSent := params.offset
	backlog, err := session.Events(r.Context(), types.EventFilter{
		AfterSequence: params.offset,
		Limit:         params.limit,
	})
	if err != nil {
		return
	}
	for _, event := range backlog {
		if !writeFrame(w, flusher, event) {
			return
		}
		lastSent = event.Sequence
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case event, ok := <-live:
			if !ok {
				return
			}
			if event.Sequence <= lastSent {
				continue
			}
			if !writeFrame(w, flusher, event) {
				return
			}
			lastSent = event.Sequence
		}
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, event *types.Event) bool {
	frame, err := eventJSON(event)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

// eventJSON flattens an event into one object: the envelope fields plus the
// payload fields at the top level. Envelope keys win on collision.
func eventJSON(event *types.Event) (json.RawMessage, error) {
	flat := map[string]interface{}{}
	if len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, &flat); err != nil {
			return nil, fmt.Errorf("bad payload on event %d: %w", event.ID, err)
		}
	}
	flat["sequence"] = event.Sequence
	flat["id"] = event.ID
	flat["type"] = event.Type
	flat["project_key"] = event.ProjectKey
	flat["timestamp"] = event.Timestamp
	return json.Marshal(flat)
}

// cellNode is one snapshot row with its direct children attached.
type cellNode struct {
	*types.Cell
	Children []string `json:"children,omitempty"`
}

func (s *Server) handleCells(w http.ResponseWriter, r *http.Request) {
	corsHeaders(w)
	session, err := s.configured(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	cells, err := session.QueryCells(r.Context(), types.CellFilter{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	children := map[string][]string{}
	for _, cell := range cells {
		if cell.ParentID != nil {
			children[*cell.ParentID] = append(children[*cell.ParentID], cell.ID)
		}
	}
	nodes := make([]cellNode, 0, len(cells))
	for _, cell := range cells {
		nodes = append(nodes, cellNode{Cell: cell, Children: children[cell.ID]})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"cells": nodes})
}

// handleEvents live-streams the configured project, honoring the same query
// parameters as /streams except that live defaults to true.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	corsHeaders(w)
	session, err := s.configured(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	params, err := parseStreamParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params.live = true
	s.serveLive(w, r, session, params)
}

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/minhtri2710/swarm-tools-sub001/internal/hive"
	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

func setupServer(t *testing.T) (*hive.Session, *httptest.Server) {
	t.Helper()
	registry := hive.NewRegistry()
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })

	root := t.TempDir()
	session, err := registry.Get(context.Background(), root)
	if err != nil {
		t.Fatalf("failed to open project: %v", err)
	}

	srv := New(registry, Config{ProjectPath: root})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return session, ts
}

func registerAgents(t *testing.T, session *hive.Session, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		_, err := session.RegisterAgent(context.Background(), hive.RegisterAgentArgs{
			Name: fmt.Sprintf("agent-%02d", i),
		})
		if err != nil {
			t.Fatalf("RegisterAgent failed: %v", err)
		}
	}
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url) // #nosec G107 - test server URL
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("bad JSON from %s: %v", url, err)
		}
	}
	return resp
}

func TestOneShotReadAfterOffset(t *testing.T) {
	session, ts := setupServer(t)
	registerAgents(t, session, 10)
	project := filepath.Base(session.ProjectKey())

	var events []map[string]interface{}
	resp := getJSON(t, ts.URL+"/streams/"+project+"?offset=7", &events)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	for i, want := range []float64{8, 9, 10} {
		if events[i]["sequence"] != want {
			t.Errorf("events[%d].sequence = %v, want %v", i, events[i]["sequence"], want)
		}
	}
	// Payload fields are flattened alongside the envelope.
	if events[0]["type"] != "agent_registered" || events[0]["name"] != "agent-07" {
		t.Errorf("events[0] = %v", events[0])
	}
}

func TestOneShotEmptyWindow(t *testing.T) {
	session, ts := setupServer(t)
	registerAgents(t, session, 2)
	project := filepath.Base(session.ProjectKey())

	var events []map[string]interface{}
	resp := getJSON(t, ts.URL+"/streams/"+project+"?offset=99", &events)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(events) != 0 {
		t.Errorf("events = %v, want empty array", events)
	}
}

func TestOneShotHonorsLimit(t *testing.T) {
	session, ts := setupServer(t)
	registerAgents(t, session, 6)
	project := filepath.Base(session.ProjectKey())

	var events []map[string]interface{}
	getJSON(t, ts.URL+"/streams/"+project+"?limit=4", &events)
	if len(events) != 4 {
		t.Errorf("events = %d, want 4", len(events))
	}
}

func TestBadParamsReturn400(t *testing.T) {
	session, ts := setupServer(t)
	project := filepath.Base(session.ProjectKey())

	for _, query := range []string{"offset=-1", "offset=abc", "limit=0", "live=maybe"} {
		resp := getJSON(t, ts.URL+"/streams/"+project+"?"+query, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, resp.StatusCode)
		}
	}
}

func TestUnknownProjectAndEndpoint404(t *testing.T) {
	_, ts := setupServer(t)

	resp := getJSON(t, ts.URL+"/streams/no-such-project", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown project: status = %d, want 404", resp.StatusCode)
	}
	resp = getJSON(t, ts.URL+"/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown endpoint: status = %d, want 404", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, ts := setupServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/streams/x", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Allow-Origin")
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), "GET") {
		t.Error("missing Allow-Methods")
	}
}

func TestCellsSnapshotIncludesTree(t *testing.T) {
	session, ts := setupServer(t)
	ctx := context.Background()

	epic := &types.Cell{Title: "Parent", CellType: types.TypeEpic}
	subtasks := []*types.Cell{{Title: "child one"}, {Title: "child two"}}
	if err := session.CreateEpic(ctx, epic, subtasks); err != nil {
		t.Fatalf("CreateEpic failed: %v", err)
	}

	var body struct {
		Cells []struct {
			ID       string   `json:"id"`
			ParentID *string  `json:"parent_id"`
			Children []string `json:"children"`
		} `json:"cells"`
	}
	resp := getJSON(t, ts.URL+"/cells", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(body.Cells) != 3 {
		t.Fatalf("cells = %d, want 3", len(body.Cells))
	}

	var found bool
	for _, cell := range body.Cells {
		if cell.ID == epic.ID {
			found = true
			if len(cell.Children) != 2 {
				t.Errorf("epic children = %v, want both subtasks", cell.Children)
			}
		}
		if cell.ID == subtasks[0].ID && (cell.ParentID == nil || *cell.ParentID != epic.ID) {
			t.Errorf("subtask parent = %v, want %s", cell.ParentID, epic.ID)
		}
	}
	if !found {
		t.Error("epic missing from snapshot")
	}
}

func TestLiveStreamBacklogThenLive(t *testing.T) {
	session, ts := setupServer(t)
	registerAgents(t, session, 2)
	project := filepath.Base(session.ProjectKey())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.URL+"/streams/"+project+"?live=true&offset=1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("live GET failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read preamble: %v", err)
	}
	if !strings.HasPrefix(line, ": connected") {
		t.Fatalf("preamble = %q", line)
	}

	// Backlog: only the event after offset=1.
	backlog := readFrame(t, reader)
	if backlog["sequence"] != float64(2) {
		t.Errorf("backlog sequence = %v, want 2", backlog["sequence"])
	}

	registerAgents(t, session, 1)
	pushed := readFrame(t, reader)
	if pushed["sequence"] != float64(3) {
		t.Errorf("live sequence = %v, want 3", pushed["sequence"])
	}
	if pushed["type"] != "agent_registered" {
		t.Errorf("live type = %v", pushed["type"])
	}
}

// readFrame consumes one "data: {...}" SSE frame, skipping blank lines.
func readFrame(t *testing.T, reader *bufio.Reader) map[string]interface{} {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended early: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			t.Fatalf("unexpected frame line %q", line)
		}
		var event map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("bad frame payload: %v", err)
		}
		return event
	}
}

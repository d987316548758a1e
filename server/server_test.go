package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/flowboard/diagram"
	"github.com/TFMV/flowboard/graph"
	"github.com/TFMV/flowboard/ingest"
	"github.com/TFMV/flowboard/models"
)

func newTestServer(t *testing.T, mutate ...func(*Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg, ingest.ShoppingFlow(), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestSuccessorEndpoint(t *testing.T) {
	s, ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/api/nodes/4/successor", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var succ diagram.Successor
	require.NoError(t, json.Unmarshal(body, &succ))
	assert.Equal(t, "861 17", succ.Node.Loc)
	assert.Equal(t, "new", succ.Node.Text)
	assert.Equal(t, 4, succ.Link.From)
	assert.Equal(t, succ.Node.Key, succ.Link.To)
	assert.Equal(t, "transition", succ.Link.Text)

	assert.Len(t, s.App().Dataset().Nodes, 10)
	snap := s.App().Snapshot()
	require.NotNil(t, snap.Selection)
	assert.Equal(t, succ.Node.Key, *snap.Selection)
}

func TestErrorMapping(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown source", http.MethodPost, "/api/nodes/42/successor", "", http.StatusNotFound},
		{"bad key", http.MethodPost, "/api/nodes/four/successor", "", http.StatusBadRequest},
		{"missing coordinates", http.MethodPost, "/api/nodes", `{"x": 1}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/nodes", `{"x": 1, "y": 2, "z": 3}`, http.StatusBadRequest},
		{"malformed loc", http.MethodPatch, "/api/nodes/1", `{"loc": "left"}`, http.StatusBadRequest},
		{"empty node patch", http.MethodPatch, "/api/nodes/1", `{}`, http.StatusBadRequest},
		{"dangling link", http.MethodPost, "/api/links", `{"from": 1, "to": 99}`, http.StatusConflict},
		{"unknown link", http.MethodDelete, "/api/links/99", "", http.StatusNotFound},
		{"odd route", http.MethodPatch, "/api/links/-1", `{"points": [1, 2, 3]}`, http.StatusBadRequest},
		{"nothing to undo", http.MethodPost, "/api/undo", "", http.StatusConflict},
		{"no dataset file", http.MethodPost, "/api/save", "", http.StatusConflict},
		{"unknown selection", http.MethodPost, "/api/selection/99", "", http.StatusNotFound},
		{"zero viewport", http.MethodPut, "/api/viewport", `{"width": 0, "height": 1, "scale": 1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, ts, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))

			var e map[string]string
			require.NoError(t, json.Unmarshal(body, &e))
			assert.NotEmpty(t, e["error"])
		})
	}
}

func TestGestureEndpoints(t *testing.T) {
	s, ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/api/nodes", `{"x": 12.8, "y": 40.2}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var node models.NodeRecord
	require.NoError(t, json.Unmarshal(body, &node))
	assert.Equal(t, "12 40", node.Loc)
	assert.Equal(t, "new node", node.Text)

	resp, body = do(t, ts, http.MethodPatch, "/api/nodes/1", `{"text": "Browse", "loc": "300 30"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &node))
	assert.Equal(t, models.NodeRecord{Key: 1, Loc: "300 30", Text: "Browse"}, node)

	resp, body = do(t, ts, http.MethodPost, "/api/links", `{"from": 1, "to": 6, "text": "Buy now", "progress": true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var link models.LinkRecord
	require.NoError(t, json.Unmarshal(body, &link))
	assert.Equal(t, "Buy now", link.Text)
	assert.True(t, bool(link.Progress))

	resp, body = do(t, ts, http.MethodPatch, "/api/links/-1", `{"text": "Enter", "points": [0, 0, 50, 50]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &link))
	assert.Equal(t, "Enter", link.Text)
	assert.Equal(t, []float64{0, 0, 50, 50}, link.Points)

	resp, _ = do(t, ts, http.MethodDelete, "/api/nodes/5", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, -1, models.FindNode(s.App().Dataset().Nodes, 5))

	resp, body = do(t, ts, http.MethodPut, "/api/modeldata", `{"owner": "ops"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, models.GraphMetadata{"owner": "ops"}, s.App().Dataset().ModelData)

	resp, body = do(t, ts, http.MethodPost, "/api/undo", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var cs graph.ChangeSet
	require.NoError(t, json.Unmarshal(body, &cs))
	assert.Equal(t, graph.ChangeUndo, cs.Kind)
	assert.Equal(t, diagram.TxSetModelData, cs.Transaction)

	resp, _ = do(t, ts, http.MethodPost, "/api/redo", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, ts, http.MethodPost, "/api/selection/3", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, ts, http.MethodDelete, "/api/selection", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Nil(t, s.App().Snapshot().Selection)

	resp, _ = do(t, ts, http.MethodPut, "/api/viewport", `{"x": 10, "y": 20, "width": 800, "height": 500, "scale": 2}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, graph.Viewport{X: 10, Y: 20, Width: 800, Height: 500, Scale: 2}, s.App().Snapshot().Viewport)
}

func TestReadEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodGet, "/api/model", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc models.GraphLinksModel
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, models.GraphLinksModelClass, doc.Class)
	assert.Len(t, doc.NodeDataArray, 9)

	resp, body = do(t, ts, http.MethodGet, "/api/model.svg", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(string(body), "<svg "))

	resp, body = do(t, ts, http.MethodGet, "/api/model.dot", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "digraph")

	resp, body = do(t, ts, http.MethodGet, "/api/templates", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"archetype"`)

	resp, body = do(t, ts, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := string(body)
	assert.Contains(t, page, "<title>flowboard</title>")
	assert.Contains(t, page, "data-init")
	assert.Contains(t, page, `class="node"`)

	resp, _ = do(t, ts, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := do(t, ts, http.MethodPost, "/api/nodes/4/successor", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, ts, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, `flowboard_model_changes_total{kind="commit",transaction="Add State"} 1`)
	assert.Contains(t, text, "flowboard_nodes 10")
	assert.Contains(t, text, "flowboard_links 16")
	assert.Contains(t, text, `route="/api/nodes/{key}/successor"`)
}

func TestSaveEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.json")
	s, ts := newTestServer(t, func(c *Config) { c.DatasetPath = path })

	do(t, ts, http.MethodPost, "/api/nodes/4/successor", "")
	assert.True(t, s.App().Modified())

	resp, body := do(t, ts, http.MethodPost, "/api/save", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.False(t, s.App().Modified())

	saved, err := ingest.Load(path)
	require.NoError(t, err)
	assert.Len(t, saved.Nodes, 10)
}

func TestUpdatesStream(t *testing.T) {
	s, ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/updates", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 1<<20), 1<<22)
		for scanner.Scan() {
			events <- scanner.Text()
		}
		close(events)
	}()

	waitFor := func(substr string) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-events:
				require.True(t, ok, "stream ended before %q", substr)
				if strings.Contains(line, substr) {
					return
				}
			case <-deadline:
				t.Fatalf("no event containing %q", substr)
			}
		}
	}

	waitFor("datastar-patch-signals")
	waitFor(`"title":"flowboard"`)

	_, err = s.App().AddNodeAndLink(4)
	require.NoError(t, err)
	waitFor(`"title":"flowboard*"`)
}

func TestWatchReloadsDataset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.json")
	require.NoError(t, ingest.Save(path, ingest.ShoppingFlow()))

	cfg := DefaultConfig()
	cfg.DatasetPath = path
	cfg.Watch = true
	s, err := New(cfg, ingest.ShoppingFlow(), nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)

	edited := models.Dataset{
		Nodes: []models.NodeRecord{{Key: 1, Loc: "0 0", Text: "only"}},
		Links: []models.LinkRecord{},
	}
	data, err := ingest.Marshal(edited)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	assert.Eventually(t, func() bool {
		return len(s.App().Dataset().Nodes) == 1
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(graph.ErrNodeNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(models.ErrDuplicateKey))
	assert.Equal(t, http.StatusBadRequest, statusFor(models.ErrMalformedLocation))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}

func TestRejectedPatchLeavesModelUnchanged(t *testing.T) {
	s, ts := newTestServer(t)
	before := s.App().Dataset()

	resp, body := do(t, ts, http.MethodPatch, "/api/links/-1", `{"from":0,"to":1,"points":[1,2,3]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = do(t, ts, http.MethodPatch, "/api/links/-1", `{"from":0,"to":99,"text":"x"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	resp, body = do(t, ts, http.MethodPatch, "/api/nodes/1", `{"text":"x","loc":"left"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	assert.Equal(t, before, s.App().Dataset())
	assert.False(t, s.App().Modified())
	assert.False(t, s.App().Snapshot().CanUndo)

	resp, body = do(t, ts, http.MethodPatch, "/api/links/-1", `{"from":0,"to":1,"text":"moved"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var link models.LinkRecord
	require.NoError(t, json.Unmarshal(body, &link))
	assert.Equal(t, 0, link.From)
	assert.Equal(t, 1, link.To)
	assert.Equal(t, "moved", link.Text)

	resp, _ = do(t, ts, http.MethodPost, "/api/undo", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	after := s.App().Dataset().Links
	i := models.FindLink(after, -1)
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, before.Links[models.FindLink(before.Links, -1)], after[i])
}

func TestCreateWithExplicitKey(t *testing.T) {
	s, ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/api/nodes", `{"key":40,"x":1,"y":2}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var node models.NodeRecord
	require.NoError(t, json.Unmarshal(body, &node))
	assert.Equal(t, 40, node.Key)

	resp, _ = do(t, ts, http.MethodPost, "/api/nodes", `{"key":40,"x":5,"y":5}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = do(t, ts, http.MethodPost, "/api/links", `{"key":-40,"from":4,"to":40}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var link models.LinkRecord
	require.NoError(t, json.Unmarshal(body, &link))
	assert.Equal(t, -40, link.Key)

	resp, _ = do(t, ts, http.MethodPost, "/api/links", `{"key":-40,"from":4,"to":40}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	ds := s.App().Dataset()
	assert.Len(t, ds.Nodes, 10)
	assert.Len(t, ds.Links, 16)
}

func TestHealthAndStreamGauge(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health["status"])
	assert.Contains(t, health, "revision")
	assert.EqualValues(t, 0, health["streams"])

	resp, body = do(t, ts, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "flowboard_update_streams 0")
}

func TestReloadKeepsUnsavedEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.json")
	require.NoError(t, ingest.Save(path, models.Dataset{
		Nodes: []models.NodeRecord{{Key: 1, Loc: "0 0", Text: "only"}},
		Links: []models.LinkRecord{},
	}))
	s, _ := newTestServer(t, func(c *Config) { c.DatasetPath = path })

	_, err := s.App().AddNodeAndLink(4)
	require.NoError(t, err)
	edited := s.App().Dataset()

	s.reload(path)
	assert.Equal(t, edited, s.App().Dataset())
	assert.True(t, s.App().Modified())

	require.NoError(t, s.App().Save(filepath.Join(t.TempDir(), "elsewhere.json")))
	assert.False(t, s.App().Modified())

	s.reload(path)
	assert.Len(t, s.App().Dataset().Nodes, 1)
	assert.False(t, s.App().Modified())
}

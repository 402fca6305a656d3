package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/events"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/runner"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/script"
	"github.com/himanishpuri/audfprint-gui/pkg/logger"
)

// stubTool answers list and version queries without an interpreter.
type stubTool struct{}

func (stubTool) Run(ctx context.Context, inv script.Invocation, onLine func(runner.Line)) (*runner.Result, error) {
	res := &runner.Result{}
	var lines []string
	switch inv.Subcommand {
	case script.SubVersion:
		lines = []string{"0.9.6"}
	case script.SubList:
		lines = []string{"track-a.mp3", "track-b.mp3"}
	}
	for _, text := range lines {
		l := runner.Line{Text: text}
		res.Lines = append(res.Lines, l)
		if onLine != nil {
			onLine(l)
		}
	}
	return res, nil
}

func (stubTool) Exec(ctx context.Context, args []string, onLine func(runner.Line)) (*runner.Result, error) {
	return &runner.Result{}, nil
}

func (stubTool) Interpreter() string   { return "python3" }
func (stubTool) SetInterpreter(string) {}

func newTestServer(t *testing.T, origins ...string) (*Server, http.Handler) {
	t.Helper()

	bus := events.NewBus()
	svc, err := audfprint.NewService(
		audfprint.WithDataDir(t.TempDir()),
		audfprint.WithTempDir(t.TempDir()),
		audfprint.WithExecutor(stubTool{}),
		audfprint.WithoutCatalog(),
		audfprint.WithBus(bus),
		audfprint.WithLogger(logger.New(logger.Config{Level: logger.ERROR, Output: &bytes.Buffer{}})),
	)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	s := NewServer(svc, bus, &ServerConfig{DataDir: svc.Layout().Root, AllowedOrigins: origins})
	s.log = logger.New(logger.Config{Level: logger.FATAL, Output: &bytes.Buffer{}})
	return s, s.setupRoutes()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body["status"] != "healthy" || body["environment"] != runner.StateUnknown {
		t.Errorf("Unexpected body %v", body)
	}
}

func TestCheckEnvironment(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/environment/check", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp CheckResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status.State != runner.StateReady || resp.Status.Version != "0.9.6" {
		t.Errorf("Unexpected status %+v", resp.Status)
	}
}

func TestListPrecompute(t *testing.T) {
	s, h := newTestServer(t)
	dir := s.service.Layout().Precompute
	if err := os.WriteFile(filepath.Join(dir, "clip.afpt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := do(t, h, http.MethodGet, "/api/precompute", "")
	var resp EntriesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if resp.Count != 1 || resp.Entries[0].Name != "clip" {
		t.Errorf("Unexpected entries %+v", resp)
	}
	if !strings.Contains(rec.Body.String(), `"basename":"clip"`) {
		t.Errorf("Entries should use basename/fullname keys: %s", rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/api/databases", "")
	if !strings.Contains(rec.Body.String(), `"entries":[]`) {
		t.Errorf("Empty listing should be an empty array: %s", rec.Body)
	}
}

func TestListDatabase(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/databases/list?db=rock", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp ListDatabaseResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if diff := cmp.Diff([]string{"track-a.mp3", "track-b.mp3"}, resp.Lines); diff != "" {
		t.Errorf("Lines mismatch (-want +got):\n%s", diff)
	}

	if rec := do(t, h, http.MethodGet, "/api/databases/list", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without db, got %d", rec.Code)
	}
}

func TestRequestValidation(t *testing.T) {
	_, h := newTestServer(t)
	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"merge without incoming", http.MethodPost, "/api/merge", `{"database":"rock"}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/analyze", `{`, http.StatusBadRequest},
		{"analyze without files", http.MethodPost, "/api/analyze", `{}`, http.StatusBadRequest},
		{"export unknown kind", http.MethodPost, "/api/export", `{"kind":"songs","dest":"/tmp/x"}`, http.StatusBadRequest},
		{"import without files", http.MethodPost, "/api/import", `{"kind":"databases"}`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/api/analyze", "", http.StatusMethodNotAllowed},
		{"bad limit", http.MethodGet, "/api/history?limit=x", "", http.StatusBadRequest},
		{"missing side-car", http.MethodGet, "/api/precompute/matches?analysis=nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, tt.method, tt.target, tt.body); rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
		})
	}
}

func TestExportHonoursRemove(t *testing.T) {
	s, h := newTestServer(t)
	src := filepath.Join(s.service.Layout().Precompute, "clip.afpt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	dest := t.TempDir()

	body, _ := json.Marshal(ExportRequest{Kind: audfprint.KindPrecompute, Dest: dest, Remove: true})
	rec := do(t, h, http.MethodPost, "/api/export", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var res audfprint.ExportResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if !res.Removed || len(res.Exported) != 1 {
		t.Errorf("Unexpected result %+v", res)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("Original should be removed")
	}
}

func TestCORS(t *testing.T) {
	_, h := newTestServer(t, "http://localhost:3000")

	req := httptest.NewRequest(http.MethodOptions, "/api/precompute", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Origin should not be allowed, got %q", got)
	}
}

func TestEventStream(t *testing.T) {
	s, h := newTestServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Unexpected content type %q", ct)
	}

	rd := bufio.NewReader(resp.Body)
	if line, _ := rd.ReadString('\n'); !strings.HasPrefix(line, ": connected") {
		t.Fatalf("Expected connection comment, got %q", line)
	}
	rd.ReadString('\n')

	s.bus.Publish(events.Output, events.OutputLine{Line: "Analyzed clip.afpt"})

	event, _ := rd.ReadString('\n')
	data, _ := rd.ReadString('\n')
	if strings.TrimSpace(event) != "event: pythonOutput" {
		t.Errorf("Unexpected event line %q", event)
	}
	if !strings.Contains(data, `"line":"Analyzed clip.afpt"`) {
		t.Errorf("Unexpected data line %q", data)
	}
}

func TestWatchArtifactsDebounces(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	refresh := func() audfprint.Listings {
		calls.Add(1)
		return audfprint.Listings{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watchArtifacts(ctx, []string{dir}, 50*time.Millisecond, refresh) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{}"), 0o644)
	for _, name := range []string{"a.afpt", "b.afpt", "c.pklz"} {
		os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644)
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("watchArtifacts failed: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected one debounced refresh, got %d", got)
	}
}

func TestWatchArtifactsMissingDir(t *testing.T) {
	err := watchArtifacts(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, time.Millisecond, nil)
	if err == nil {
		t.Error("Expected error for a missing directory")
	}
}

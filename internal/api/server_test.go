package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/elfarol/internal/engine"
	"github.com/talgya/elfarol/internal/persistence"
	"github.com/talgya/elfarol/internal/policy"
	"github.com/talgya/elfarol/internal/world"
)

func newTestServer(t *testing.T, rounds int) *Server {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Name = "api-test"
	cfg.GridSize = 5
	cfg.Iterations = 20
	cfg.RoundsPerUpdate = 4
	cfg.Policies = []policy.Policy{policy.AlwaysGo(), policy.NeverGo(), policy.LastRound()}
	cfg.Layout = world.LayoutRandom
	cfg.Seed = 11
	sim, err := engine.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < rounds; i++ {
		if _, err := sim.Step(); err != nil {
			t.Fatal(err)
		}
	}
	return &Server{Sim: sim, Runner: engine.NewRunner(sim), AdminKey: "secret"}
}

func get(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s: decode: %v\n%s", path, err, rec.Body.String())
		}
	}
	return rec
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, 3)
	var status map[string]any
	rec := get(t, s.Handler(), "/api/v1/status", &status)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	if status["name"] != "api-test" || status["iteration"].(float64) != 3 || status["population"].(float64) != 25 {
		t.Errorf("unexpected status: %v", status)
	}
	if status["done"].(bool) || status["speed"].(float64) != 1 {
		t.Errorf("unexpected run state: %v", status)
	}
}

func TestGridAndPolicies(t *testing.T) {
	s := newTestServer(t, 4)
	h := s.Handler()

	var snap engine.GridSnapshot
	get(t, h, "/api/v1/grid", &snap)
	if snap.Size != 5 || len(snap.Cells) != 25 || snap.Iteration != 4 {
		t.Fatalf("unexpected grid: size=%d cells=%d iteration=%d", snap.Size, len(snap.Cells), snap.Iteration)
	}

	var policies []struct {
		ID    int    `json:"id"`
		Name  string `json:"name"`
		Kind  string `json:"kind"`
		Count int    `json:"count"`
	}
	get(t, h, "/api/v1/policies", &policies)
	if len(policies) != 3 {
		t.Fatalf("got %d policies", len(policies))
	}
	total := 0
	for _, p := range policies {
		total += p.Count
	}
	if total != 25 {
		t.Errorf("policy counts sum to %d, want 25", total)
	}
	if policies[1].Kind != "never_go" {
		t.Errorf("policy 1 kind = %q", policies[1].Kind)
	}
}

func TestRounds(t *testing.T) {
	s := newTestServer(t, 6)
	h := s.Handler()

	var rounds []engine.RoundRecord
	get(t, h, "/api/v1/rounds?from=4", &rounds)
	if len(rounds) != 2 || rounds[0].Iteration != 4 {
		t.Fatalf("unexpected rounds: %+v", rounds)
	}
	if rounds[0].Decisions != nil {
		t.Error("decisions included without ?decisions=1")
	}

	get(t, h, "/api/v1/rounds?from=5&decisions=1", &rounds)
	if len(rounds) != 1 || len(rounds[0].Decisions) != 25 {
		t.Errorf("expected one round with 25 decisions, got %+v", rounds)
	}

	rec := get(t, h, "/api/v1/rounds?from=100", nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("past-the-end rounds = %s, want []", rec.Body.String())
	}

	if rec := get(t, h, "/api/v1/rounds?from=-1", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("negative from: code %d", rec.Code)
	}
}

func TestStatsAndSeries(t *testing.T) {
	s := newTestServer(t, 8)
	h := s.Handler()

	var stats struct {
		Summary engine.Summary `json:"summary"`
	}
	get(t, h, "/api/v1/stats", &stats)
	if stats.Summary.Rounds != 8 || stats.Summary.Updates != 2 {
		t.Errorf("unexpected summary: %+v", stats.Summary)
	}

	var series engine.Series
	get(t, h, "/api/v1/series", &series)
	if len(series.Attendance) != 8 || len(series.PolicyCounts) != 8 {
		t.Errorf("series lengths: attendance=%d counts=%d", len(series.Attendance), len(series.PolicyCounts))
	}
}

func TestSpeedRequiresAdmin(t *testing.T) {
	s := newTestServer(t, 0)
	h := s.Handler()

	post := func(token, body string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/speed", strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post("", `{"speed": 4}`); code != http.StatusUnauthorized {
		t.Errorf("no token: %d", code)
	}
	if code := post("secret", `{"speed": 5000}`); code != http.StatusBadRequest {
		t.Errorf("out of range: %d", code)
	}
	if code := post("secret", `{"speed": 4}`); code != http.StatusOK {
		t.Errorf("valid request: %d", code)
	}
	if s.Runner.Speed() != 4 {
		t.Errorf("speed = %v, want 4", s.Runner.Speed())
	}

	s.AdminKey = ""
	if code := post("secret", `{"speed": 2}`); code != http.StatusForbidden {
		t.Errorf("admin disabled: %d", code)
	}
}

func TestRunsFromStore(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, 20)
	h := s.Handler()

	if rec := get(t, h, "/api/v1/runs", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("runs without store: %d", rec.Code)
	}

	db, err := persistence.OpenSQLite(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s.Store = db

	run := persistence.NewRunInfo(s.Sim.Config(), "simulation: {}\n")
	if err := persistence.SaveRun(ctx, db, run, s.Sim, false); err != nil {
		t.Fatal(err)
	}
	s.RunID = run.ID

	var runs []persistence.RunInfo
	get(t, h, "/api/v1/runs", &runs)
	if len(runs) != 1 || runs[0].ID != run.ID || runs[0].ConfigYAML != "" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	var info persistence.RunInfo
	get(t, h, "/api/v1/runs/"+run.ID, &info)
	if info.Rounds != 20 || info.ConfigYAML == "" {
		t.Errorf("unexpected run detail: %+v", info)
	}

	var rounds []engine.RoundRecord
	get(t, h, "/api/v1/runs/"+run.ID+"/rounds", &rounds)
	if len(rounds) != 20 {
		t.Errorf("stored rounds = %d", len(rounds))
	}

	var snap engine.GridSnapshot
	get(t, h, "/api/v1/runs/"+run.ID+"/grid", &snap)
	if snap.Iteration != 20 {
		t.Errorf("stored grid iteration = %d", snap.Iteration)
	}

	if rec := get(t, h, "/api/v1/runs/"+persistence.NewRunID(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown run: %d", rec.Code)
	}
	if rec := get(t, h, "/api/v1/runs/"+run.ID+"/bogus", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown sub-resource: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/snapshot", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("snapshot: %d %s", rec.Code, rec.Body.String())
	}
}

func TestStreamCatchUpAndLive(t *testing.T) {
	s := newTestServer(t, 3)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	var events []string
	readEvents := func(n int) {
		for len(events) < n && sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "event: ") {
				events = append(events, strings.TrimPrefix(line, "event: "))
			}
		}
	}

	readEvents(3)
	if len(events) != 3 {
		t.Fatalf("catch-up delivered %d events", len(events))
	}

	// Round 4 ends with an adaptation phase.
	rec, err := s.Sim.Step()
	if err != nil {
		t.Fatal(err)
	}
	s.Publish(rec)
	readEvents(4)
	if len(events) != 4 || events[3] != "update" {
		t.Errorf("events = %v, want a trailing update", events)
	}
}

func TestPublishDropsForSlowSubscribers(t *testing.T) {
	s := newTestServer(t, 0)
	id, ch := s.subscribe()
	defer s.unsubscribe(id)

	for i := 0; i < sseBuffer+10; i++ {
		s.Publish(engine.RoundRecord{Iteration: i, Decisions: []bool{true}})
	}
	if len(ch) != sseBuffer {
		t.Errorf("buffered %d rounds, want %d", len(ch), sseBuffer)
	}
	if first := <-ch; first.Decisions != nil || first.Iteration != 0 {
		t.Errorf("unexpected first round: %+v", first)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, 0)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("preflight: %d %v", rec.Code, rec.Header())
	}
}

// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/elfarol/internal/engine"
	"github.com/talgya/elfarol/internal/persistence"
)

const (
	maxSSEConns   = 8
	sseBuffer     = 64
	sseCatchUp    = 50
	defaultRunsN  = 20
	maxRunsN      = 500
	heartbeatFreq = 15 * time.Second
)

// Server serves simulation state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Runner   *engine.Runner
	Store    persistence.Store // Optional; run history endpoints return 503 without it
	RunID    string            // Id of the live run in Store, if it is being recorded
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// Active SSE connection count (atomic).
	sseConns int32

	subMu   sync.Mutex
	subs    map[int]chan engine.RoundRecord
	nextSub int
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	// Run history reads hit the database; limit them per client.
	runsLimiter := NewRateLimiter(120, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/grid", s.handleGrid)
	mux.HandleFunc("/api/v1/rounds", s.handleRounds)
	mux.HandleFunc("/api/v1/series", s.handleSeries)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/policies", s.handlePolicies)
	mux.HandleFunc("/api/v1/runs", RateLimitMiddleware(runsLimiter, s.handleRuns))
	mux.HandleFunc("/api/v1/runs/", RateLimitMiddleware(runsLimiter, s.handleRunDetail))

	// SSE streaming endpoint.
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine. The returned server
// can be shut down by the caller.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "store", s.Store != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// Publish fans a finished round out to every stream subscriber. Slow
// subscribers miss rounds rather than stall the simulation.
func (s *Server) Publish(rec engine.RoundRecord) {
	rec.Decisions = nil

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- rec:
		default:
			slog.Debug("SSE subscriber lagging, round dropped", "sub_id", id, "iteration", rec.Iteration)
		}
	}
}

func (s *Server) subscribe() (int, <-chan engine.RoundRecord) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]chan engine.RoundRecord)
	}
	s.nextSub++
	ch := make(chan engine.RoundRecord, sseBuffer)
	s.subs[s.nextSub] = ch
	return s.nextSub, ch
}

func (s *Server) unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subs, id)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of extra origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no ELFAROL_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.Sim.Config()
	status := map[string]any{
		"name":       cfg.Name,
		"run_id":     s.RunID,
		"iteration":  s.Sim.Iteration(),
		"iterations": cfg.Iterations,
		"done":       s.Sim.Done(),
		"grid_size":  cfg.GridSize,
		"population": cfg.Population(),
		"capacity":   s.Sim.Capacity(),
		"seed":       cfg.Seed,
	}
	if s.Runner != nil {
		status["speed"] = s.Runner.Speed()
		status["running"] = s.Runner.Running()
	}
	writeJSON(w, status)
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Snapshot())
}

// handleRounds returns records from ?from= (default 0). Per-agent
// decisions are included only with ?decisions=1.
func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	from := 0
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "from must be a non-negative integer", http.StatusBadRequest)
			return
		}
		from = n
	}
	rounds := s.Sim.RoundsSince(from)
	if r.URL.Query().Get("decisions") != "1" {
		for i := range rounds {
			rounds[i].Decisions = nil
		}
	}
	if rounds == nil {
		rounds = []engine.RoundRecord{}
	}
	writeJSON(w, rounds)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Series())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sum := s.Sim.Summary()
	writeJSON(w, map[string]any{
		"summary":         sum,
		"tail_mean_ratio": engine.TailMeanRatio(s.Sim.Rounds(), 50),
	})
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	type policyEntry struct {
		ID    int    `json:"id"`
		Name  string `json:"name"`
		Kind  string `json:"kind"`
		Count int    `json:"count"`
	}

	snap := s.Sim.Snapshot()
	counts := make([]int, len(snap.Policies))
	for _, c := range snap.Cells {
		counts[c.PolicyID]++
	}

	policies := s.Sim.Config().Policies
	result := make([]policyEntry, 0, len(policies))
	for id, p := range policies {
		result = append(result, policyEntry{
			ID:    id,
			Name:  p.Name(),
			Kind:  p.Kind.String(),
			Count: counts[id],
		})
	}
	writeJSON(w, result)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Runner == nil {
		http.Error(w, "no runner attached", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Runner.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Runner.Speed()})
}

// handleSnapshot stores the current grid under the live run id.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Store == nil || s.RunID == "" {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	snap := s.Sim.Snapshot()
	if err := s.Store.SaveSnapshot(r.Context(), s.RunID, snap); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"iteration": snap.Iteration,
		"message":   "snapshot saved",
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	limit := defaultRunsN
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunsN)
	}

	runs, err := s.Store.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("list runs failed", "error", err)
		http.Error(w, "list runs failed", http.StatusInternalServerError)
		return
	}
	for i := range runs {
		runs[i].ConfigYAML = ""
	}
	if runs == nil {
		runs = []persistence.RunInfo{}
	}
	writeJSON(w, runs)
}

// handleRunDetail dispatches /api/v1/runs/:id, /runs/:id/rounds and
// /runs/:id/grid.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/runs/"), "/"), "/")
	id := parts[0]
	if id == "" || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}

	var (
		data any
		err  error
	)
	switch {
	case len(parts) == 1:
		data, err = s.Store.GetRun(r.Context(), id)
	case parts[1] == "rounds":
		data, err = s.Store.LoadRounds(r.Context(), id)
	case parts[1] == "grid":
		data, err = s.Store.LoadSnapshot(r.Context(), id)
	default:
		http.NotFound(w, r)
		return
	}
	if errors.Is(err, persistence.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("load run failed", "id", id, "error", err)
		http.Error(w, "load run failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, data)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// Connection limit.
	current := atomic.AddInt32(&s.sseConns, 1)
	if current > maxSSEConns {
		atomic.AddInt32(&s.sseConns, -1)
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.sseConns, -1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before the catch-up read so no round falls between them.
	subID, ch := s.subscribe()
	defer s.unsubscribe(subID)

	rounds := s.Sim.Rounds()
	start := max(len(rounds)-sseCatchUp, 0)
	last := -1
	for _, rec := range rounds[start:] {
		writeSSEEvent(w, rec)
		last = rec.Iteration
	}
	flusher.Flush()

	slog.Info("SSE client connected", "sub_id", subID)

	// Stream loop with heartbeat.
	heartbeat := time.NewTicker(heartbeatFreq)
	defer heartbeat.Stop()

	for {
		select {
		case rec := <-ch:
			if rec.Iteration <= last {
				continue
			}
			writeSSEEvent(w, rec)
			last = rec.Iteration
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "sub_id", subID)
			return
		}
	}
}

// writeSSEEvent writes a single round in SSE format. Rounds that end with
// an adaptation phase are tagged "update".
func writeSSEEvent(w http.ResponseWriter, rec engine.RoundRecord) {
	rec.Decisions = nil
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	event := "round"
	if rec.Adapted {
		event = "update"
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", rec.Iteration, event, data)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

// Package persistence records finished and in-progress runs. Two backends
// share one schema: SQLite through sqlx for local use and PostgreSQL through
// pgxpool for shared result databases.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/elfarol/internal/engine"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// RunInfo is the stored header of one run.
type RunInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Seed        int64      `json:"seed"`
	GridSize    int        `json:"grid_size"`
	Capacity    int        `json:"capacity"`
	Iterations  int        `json:"iterations"`
	Rounds      int        `json:"rounds"`
	MeanRatio   float64    `json:"mean_ratio"`
	Crowded     float64    `json:"crowded_share"`
	Switches    int        `json:"switches"`
	ConfigYAML  string     `json:"config_yaml,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Store is implemented by every backend.
type Store interface {
	CreateRun(ctx context.Context, run RunInfo) error
	SaveRounds(ctx context.Context, runID string, rounds []engine.RoundRecord) error
	SaveSnapshot(ctx context.Context, runID string, snap engine.GridSnapshot) error
	FinishRun(ctx context.Context, runID string, sum engine.Summary) error

	ListRuns(ctx context.Context, limit int) ([]RunInfo, error)
	GetRun(ctx context.Context, runID string) (RunInfo, error)
	LoadRounds(ctx context.Context, runID string) ([]engine.RoundRecord, error)
	LoadSnapshot(ctx context.Context, runID string) (engine.GridSnapshot, error)

	Close() error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewRunInfo fills a RunInfo header from an engine configuration.
func NewRunInfo(cfg engine.Config, configYAML string) RunInfo {
	return RunInfo{
		ID:          NewRunID(),
		Name:        cfg.Name,
		Description: cfg.Description,
		Seed:        cfg.Seed,
		GridSize:    cfg.GridSize,
		Capacity:    cfg.EffectiveCapacity(),
		Iterations:  cfg.Iterations,
		ConfigYAML:  configYAML,
		StartedAt:   time.Now().UTC(),
	}
}

// Open selects a backend by driver name: "sqlite" (target is a file path)
// or "postgres" (target is a connection string).
func Open(ctx context.Context, driver, target string) (Store, error) {
	switch driver {
	case "", "sqlite":
		db, err := OpenSQLite(target)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		pg, err := OpenPostgres(ctx, target)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// Recorder buffers round records for one run and flushes them in batches.
type Recorder struct {
	Store         Store
	RunID         string
	BatchSize     int
	KeepDecisions bool

	pending []engine.RoundRecord
}

// Add queues rec and flushes when the batch is full.
func (r *Recorder) Add(ctx context.Context, rec engine.RoundRecord) error {
	if !r.KeepDecisions {
		rec.Decisions = nil
	}
	r.pending = append(r.pending, rec)
	if len(r.pending) >= max(r.BatchSize, 1) {
		return r.Flush(ctx)
	}
	return nil
}

// Flush writes every queued record.
func (r *Recorder) Flush(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.Store.SaveRounds(ctx, r.RunID, r.pending); err != nil {
		return fmt.Errorf("save rounds: %w", err)
	}
	r.pending = r.pending[:0]
	return nil
}

// SaveRun performs a full save of a finished simulation: header, rounds,
// final grid, and summary.
func SaveRun(ctx context.Context, st Store, run RunInfo, sim *engine.Simulation, keepDecisions bool) error {
	rounds := sim.Rounds()
	slog.Info("saving run", "id", run.ID, "rounds", len(rounds))

	if err := st.CreateRun(ctx, run); err != nil {
		return err
	}
	rec := &Recorder{Store: st, RunID: run.ID, BatchSize: 500, KeepDecisions: keepDecisions}
	for _, r := range rounds {
		if err := rec.Add(ctx, r); err != nil {
			return err
		}
	}
	if err := rec.Flush(ctx); err != nil {
		return err
	}
	if err := st.SaveSnapshot(ctx, run.ID, sim.Snapshot()); err != nil {
		return err
	}
	if err := st.FinishRun(ctx, run.ID, sim.Summary()); err != nil {
		return err
	}

	slog.Info("run saved", "id", run.ID)
	return nil
}

// packDecisions stores one decision per bit, lowest bit first.
func packDecisions(d []bool) []byte {
	if len(d) == 0 {
		return nil
	}
	out := make([]byte, (len(d)+7)/8)
	for i, v := range d {
		if v {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

func unpackDecisions(b []byte, n int) []bool {
	if len(b) == 0 || n <= 0 {
		return nil
	}
	out := make([]bool, n)
	for i := range out {
		if i/8 < len(b) {
			out[i] = b[i/8]&(1<<(i%8)) != 0
		}
	}
	return out
}

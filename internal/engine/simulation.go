// Simulation owns the grid and history of one run and advances it round by
// round, running the adaptation phase on schedule.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/talgya/elfarol/internal/agents"
	"github.com/talgya/elfarol/internal/entropy"
	"github.com/talgya/elfarol/internal/policy"
	"github.com/talgya/elfarol/internal/world"
)

// ErrFinished is returned by Step once every configured round has been played.
var ErrFinished = errors.New("simulation finished")

// Simulation is safe for one stepping goroutine plus any number of readers.
type Simulation struct {
	mu sync.RWMutex

	cfg      Config
	capacity int
	src      *entropy.Source
	grid     *agents.Grid
	policyID map[policy.Policy]int
	params   agents.AdaptParams

	history      []policy.Outcome // every round of the run
	historyStart int              // first round visible to policies after a reset
	rounds       []RoundRecord
	series       Series

	iteration int // rounds played
	updates   int // adaptation phases run
}

// New validates cfg and builds the initial grid.
func New(cfg Config) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Policies = append([]policy.Policy(nil), cfg.Policies...)

	src := entropy.NewSource(cfg.Seed)
	cfg.Seed = src.Seed()

	lat := world.NewLattice(cfg.GridSize)
	assignment, err := lat.Assign(cfg.EffectiveLayout(), len(cfg.Policies), cfg.basePolicy(), cfg.Seed, src.Global(entropy.PurposeLayout))
	if err != nil {
		return nil, fmt.Errorf("initial layout: %w", err)
	}
	grid, err := agents.NewGrid(lat, cfg.NeighborRadius, cfg.Policies, assignment, cfg.PerformanceWindow)
	if err != nil {
		return nil, fmt.Errorf("build grid: %w", err)
	}

	ids := make(map[policy.Policy]int, len(cfg.Policies))
	for i, p := range cfg.Policies {
		ids[p] = i
	}

	s := &Simulation{
		cfg:      cfg,
		capacity: cfg.EffectiveCapacity(),
		src:      src,
		grid:     grid,
		policyID: ids,
		params: agents.AdaptParams{
			Temperature:   cfg.Temperature,
			Retention:     cfg.RetentionProbability,
			ClearOnSwitch: cfg.ClearHistoryOnSwitch,
		},
		rounds: make([]RoundRecord, 0, cfg.Iterations),
	}
	s.series.Policies = make([]string, len(cfg.Policies))
	for i, p := range cfg.Policies {
		s.series.Policies[i] = p.Name()
	}

	slog.Info("simulation created",
		"name", cfg.Name,
		"grid", lat.String(),
		"radius", cfg.NeighborRadius,
		"capacity", s.capacity,
		"policies", len(cfg.Policies),
		"layout", cfg.EffectiveLayout().String(),
		"seed", cfg.Seed,
	)
	return s, nil
}

// Config returns the run configuration with the effective seed filled in.
func (s *Simulation) Config() Config {
	return s.cfg
}

// Capacity returns the resolved attendance threshold.
func (s *Simulation) Capacity() int {
	return s.capacity
}

// Iteration returns the number of rounds played so far.
func (s *Simulation) Iteration() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iteration
}

// Done reports whether every configured round has been played.
func (s *Simulation) Done() bool {
	return s.Iteration() >= s.cfg.Iterations
}

// PolicyID maps a policy to its index in Config.Policies, or -1.
func (s *Simulation) PolicyID(p policy.Policy) int {
	if id, ok := s.policyID[p]; ok {
		return id
	}
	return -1
}

// Step plays one round, runs adaptation when it is due, and records the
// round's statistics.
func (s *Simulation) Step() (RoundRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.iteration >= s.cfg.Iterations {
		return RoundRecord{}, ErrFinished
	}

	rec := PlayRound(s.grid, s.visibleHistory(), s.capacity, s.iteration, s.src, s.cfg.Workers)
	s.history = append(s.history, rec.Outcome())
	s.iteration++

	if s.iteration%s.cfg.RoundsPerUpdate == 0 {
		rec.Adapted = true
		rec.Switches = s.adapt()
	}

	kept := rec
	if s.cfg.DiscardDecisions {
		kept.Decisions = nil
	}
	s.rounds = append(s.rounds, kept)
	s.recordSeries(rec)
	return rec, nil
}

// Run plays the remaining rounds. Cancellation is honoured between rounds.
func (s *Simulation) Run(ctx context.Context) error {
	slog.Info("simulation started", "name", s.cfg.Name, "iterations", s.cfg.Iterations)
	for !s.Done() {
		if err := ctx.Err(); err != nil {
			slog.Info("simulation interrupted", "iteration", s.Iteration())
			return err
		}
		if _, err := s.Step(); err != nil {
			return err
		}
	}
	sum := s.Summary()
	slog.Info("simulation finished",
		"name", s.cfg.Name,
		"rounds", sum.Rounds,
		"mean_attendance", fmt.Sprintf("%.3f", sum.MeanRatio),
		"crowded_share", fmt.Sprintf("%.3f", sum.CrowdedShare),
		"switches", sum.Switches,
	)
	return nil
}

func (s *Simulation) visibleHistory() []policy.Outcome {
	h := s.history[s.historyStart:]
	if w := s.cfg.HistoryWindow; w > 0 && len(h) > w {
		h = h[len(h)-w:]
	}
	return h
}

// adapt runs one adaptation phase. Pass one snapshots every agent's
// candidates; pass two writes new policies from the snapshot only.
func (s *Simulation) adapt() int {
	n := s.grid.Len()
	candidates := make([][]agents.Candidate, n)

	parallel(n, s.cfg.Workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			a := &s.grid.Agents[i]
			candidates[i] = a.EvaluateNeighbors(s.grid.NeighborAgents(i), s.cfg.Metric)
		}
	})

	round := uint64(s.updates)
	var switches atomic.Int64
	parallel(n, s.cfg.Workers, func(lo, hi int) {
		local := 0
		for i := lo; i < hi; i++ {
			rng := s.src.Stream(entropy.PurposeAdapt, round, i)
			if s.grid.Agents[i].Adapt(candidates[i], s.params, rng) {
				local++
			}
		}
		switches.Add(int64(local))
	})
	s.updates++

	if s.cfg.ResetHistoryEachUpdate {
		for i := range s.grid.Agents {
			s.grid.Agents[i].Memory().Clear()
		}
		s.historyStart = len(s.history)
	}

	slog.Debug("adaptation phase",
		"update", s.updates,
		"iteration", s.iteration,
		"switches", switches.Load(),
	)
	return int(switches.Load())
}

func (s *Simulation) recordSeries(rec RoundRecord) {
	counts := make([]int, len(s.cfg.Policies))
	for i := range s.grid.Agents {
		if id, ok := s.policyID[s.grid.Agents[i].Policy]; ok {
			counts[id]++
		}
	}
	s.series.Attendance = append(s.series.Attendance, rec.Attendance)
	s.series.Ratio = append(s.series.Ratio, rec.Ratio())
	s.series.PolicyCounts = append(s.series.PolicyCounts, counts)
}

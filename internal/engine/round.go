package engine

import (
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/elfarol/internal/agents"
	"github.com/talgya/elfarol/internal/entropy"
	"github.com/talgya/elfarol/internal/policy"
)

// RoundRecord is the resolved result of one round. It is not modified after
// the Simulation appends it to its history.
type RoundRecord struct {
	Iteration  int    `json:"iteration"`
	Attendance int    `json:"attendance"`
	Capacity   int    `json:"capacity"`
	Crowded    bool   `json:"crowded"`
	Population int    `json:"population"`
	Decisions  []bool `json:"decisions,omitempty"`

	// Set when an adaptation phase ran right after this round.
	Adapted  bool `json:"adapted"`
	Switches int  `json:"switches"`
}

// Outcome converts the record to the form policies see.
func (r RoundRecord) Outcome() policy.Outcome {
	return policy.Outcome{Attendance: r.Attendance, Population: r.Population}
}

// Ratio returns attendance over population.
func (r RoundRecord) Ratio() float64 {
	return r.Outcome().Ratio()
}

// PlayRound runs one round on g. Every agent decides against the same
// history before any decision is tallied, then every agent is scored against
// the shared outcome. The bar is crowded iff attendance > capacity.
func PlayRound(g *agents.Grid, history []policy.Outcome, capacity, iteration int, src *entropy.Source, workers int) RoundRecord {
	n := g.Len()
	decisions := make([]bool, n)

	// COLLECTING
	parallel(n, workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			a := &g.Agents[i]
			var rng *rand.Rand
			if a.Policy.Kind.Stochastic() {
				rng = src.Stream(entropy.PurposeDecide, uint64(iteration), i)
			}
			decisions[i] = a.Decide(history, rng)
		}
	})

	// RESOLVED
	attendance := 0
	for _, d := range decisions {
		if d {
			attendance++
		}
	}
	crowded := attendance > capacity

	parallel(n, workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			g.Agents[i].Settle(crowded)
		}
	})

	return RoundRecord{
		Iteration:  iteration,
		Attendance: attendance,
		Capacity:   capacity,
		Crowded:    crowded,
		Population: n,
		Decisions:  decisions,
	}
}

// parallel splits [0, n) into contiguous chunks and runs fn on each. It
// returns once every chunk is done, so consecutive calls act as barriers.
// Phases are never abandoned half-way; cancellation is checked between rounds.
func parallel(n, workers int, fn func(lo, hi int)) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers == 1 || n < 2*workers {
		fn(0, n)
		return
	}

	var g errgroup.Group
	g.SetLimit(workers)
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}

package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/talgya/elfarol/internal/agents"
	"github.com/talgya/elfarol/internal/policy"
	"github.com/talgya/elfarol/internal/world"
)

// ErrInvalidConfig is wrapped by every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config fixes every parameter of one run. It is copied into the Simulation
// and never changes while the run is in progress.
type Config struct {
	Name        string
	Description string

	GridSize       int // n, the grid is n×n
	NeighborRadius int // Manhattan radius k

	// Capacity is the absolute attendance threshold. A positive
	// CapacityRatio overrides it with floor(ratio * n²).
	Capacity      int
	CapacityRatio float64

	Temperature          float64 // Softmax temperature; below 1e-6 selection is hard-max
	RetentionProbability float64 // Chance of skipping adaptation entirely

	Iterations      int // Rounds to play
	RoundsPerUpdate int // Rounds between adaptation phases

	Policies    []policy.Policy // Initial policy set; ids are indices into this slice
	StartRandom bool            // Forces LayoutRandom
	Layout      world.Layout
	Seed        int64 // 0 picks a seed from the clock

	PerformanceWindow      int // Outcome ring capacity per agent
	HistoryWindow          int // Rounds visible to policies; 0 = since the last reset
	Metric                 agents.Metric
	ClearHistoryOnSwitch   bool
	ResetHistoryEachUpdate bool

	Workers int // Parallel chunks per phase; 0 = GOMAXPROCS

	// DiscardDecisions drops per-agent decisions from the retained round
	// history. Step still returns them for the round just played.
	DiscardDecisions bool
}

// DefaultConfig returns a mid-sized run over the full policy catalog.
func DefaultConfig() Config {
	return Config{
		Name:                 "default",
		GridSize:             20,
		NeighborRadius:       1,
		CapacityRatio:        0.6,
		Temperature:          0.1,
		RetentionProbability: 0.5,
		Iterations:           200,
		RoundsPerUpdate:      5,
		Policies:             policy.Catalog(),
		Layout:               world.LayoutStripes,
		PerformanceWindow:    10,
		Metric:               agents.MetricRetained,
	}
}

// Population returns n².
func (c Config) Population() int {
	return c.GridSize * c.GridSize
}

// EffectiveCapacity resolves the capacity rule to an attendance count.
func (c Config) EffectiveCapacity() int {
	if c.CapacityRatio > 0 {
		return int(math.Floor(c.CapacityRatio * float64(c.Population())))
	}
	return c.Capacity
}

// EffectiveLayout applies StartRandom.
func (c Config) EffectiveLayout() world.Layout {
	if c.StartRandom {
		return world.LayoutRandom
	}
	return c.Layout
}

// Validate rejects configurations the engine cannot run.
func (c Config) Validate() error {
	if c.GridSize < 2 {
		return invalid("grid size %d, need at least 2", c.GridSize)
	}
	if c.NeighborRadius < 1 || c.NeighborRadius >= c.GridSize {
		return invalid("neighbor radius %d outside [1, %d)", c.NeighborRadius, c.GridSize)
	}
	if c.Capacity < 0 || c.Capacity > c.Population() {
		return invalid("capacity %d outside [0, %d]", c.Capacity, c.Population())
	}
	if math.IsNaN(c.CapacityRatio) || c.CapacityRatio < 0 || c.CapacityRatio > 1 {
		return invalid("capacity ratio %v outside [0, 1]", c.CapacityRatio)
	}
	if math.IsNaN(c.Temperature) || c.Temperature < 0 {
		return invalid("temperature %v must be non-negative", c.Temperature)
	}
	if math.IsNaN(c.RetentionProbability) || c.RetentionProbability < 0 || c.RetentionProbability > 1 {
		return invalid("retention probability %v outside [0, 1]", c.RetentionProbability)
	}
	if c.Iterations <= 0 {
		return invalid("iterations must be positive, got %d", c.Iterations)
	}
	if c.RoundsPerUpdate <= 0 {
		return invalid("rounds per update must be positive, got %d", c.RoundsPerUpdate)
	}
	if len(c.Policies) == 0 {
		return invalid("no policies")
	}
	seen := make(map[policy.Policy]bool, len(c.Policies))
	for i, p := range c.Policies {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: policy %d: %w", ErrInvalidConfig, i, err)
		}
		if seen[p] {
			return invalid("policy %s listed twice", p)
		}
		seen[p] = true
	}
	if !c.Layout.Valid() {
		return invalid("unknown layout %d", uint8(c.Layout))
	}
	if c.PerformanceWindow <= 0 {
		return invalid("performance window must be positive, got %d", c.PerformanceWindow)
	}
	if c.HistoryWindow < 0 {
		return invalid("history window must not be negative, got %d", c.HistoryWindow)
	}
	if !c.Metric.Valid() {
		return invalid("unknown metric %d", uint8(c.Metric))
	}
	if c.Workers < 0 {
		return invalid("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// basePolicy is the background policy of the corners layout: the first
// never_go in the set, else the first policy.
func (c Config) basePolicy() int {
	for i, p := range c.Policies {
		if p.Kind == policy.KindNeverGo {
			return i
		}
	}
	return 0
}

// Package agents provides the agent data model, per-round scoring, and the
// neighbour-imitation rule agents use to replace their policy.
package agents

import (
	"fmt"

	"github.com/talgya/elfarol/internal/policy"
	"github.com/talgya/elfarol/internal/world"
)

// Metric selects which retained results count toward an agent's performance.
type Metric uint8

const (
	MetricRetained    Metric = iota // Every result still in the ring
	MetricSinceSwitch               // Only results recorded under the current policy
)

var metricNames = [...]string{"retained", "since_switch"}

func (m Metric) String() string {
	if int(m) < len(metricNames) {
		return metricNames[m]
	}
	return fmt.Sprintf("metric(%d)", uint8(m))
}

// ParseMetric maps a configuration name to a Metric.
func ParseMetric(s string) (Metric, error) {
	for i, name := range metricNames {
		if name == s {
			return Metric(i), nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q (valid: retained, since_switch)", s)
}

func (m Metric) MarshalText() ([]byte, error) {
	if int(m) >= len(metricNames) {
		return nil, fmt.Errorf("unknown metric %d", uint8(m))
	}
	return []byte(metricNames[m]), nil
}

func (m *Metric) UnmarshalText(text []byte) error {
	parsed, err := ParseMetric(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	return int(m) < len(metricNames)
}

// Agent is one bar-goer. Agents are stored by value in the grid arena and
// addressed by index; nothing holds a pointer to another agent.
type Agent struct {
	Coord  world.Coord
	Policy policy.Policy

	// Last round.
	Decision   bool    // Attended
	Prediction float64 // Forecast behind Decision
	Won        bool    // Scored a point

	Score    int // Points over the whole run
	Switches int // Policy replacements so far

	memory OutcomeMemory
}

// NewAgent creates an agent with an empty performance memory.
func NewAgent(c world.Coord, p policy.Policy, memory int) Agent {
	return Agent{
		Coord:  c,
		Policy: p,
		memory: NewOutcomeMemory(memory),
	}
}

// Memory exposes the agent's retained results.
func (a *Agent) Memory() *OutcomeMemory {
	return &a.memory
}

// Performance is the agent's win rate under metric.
func (a *Agent) Performance(metric Metric) float64 {
	if metric == MetricSinceSwitch {
		return a.memory.Mean(a.memory.SinceSwitch())
	}
	return a.memory.Mean(a.memory.Len())
}

// Candidate pairs a policy with the performance observed under it.
type Candidate struct {
	Policy policy.Policy
	Score  float64
}

// AdaptParams are the run-wide knobs of the imitation rule.
type AdaptParams struct {
	Temperature   float64
	Retention     float64
	ClearOnSwitch bool
}

// Per-round behaviour: decide, score, and imitate.
package agents

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/talgya/elfarol/internal/policy"
)

// HardMaxTemperature is the temperature below which selection stops being
// soft and picks uniformly among the best-scoring candidates.
const HardMaxTemperature = 1e-6

// tieTolerance groups scores that differ only by rounding.
const tieTolerance = 1e-9

// Decide asks the agent's policy about the next round and records the answer.
func (a *Agent) Decide(history []policy.Outcome, rng *rand.Rand) bool {
	a.Decision, a.Prediction = a.Policy.Evaluate(history, rng)
	return a.Decision
}

// Payoff is the El Farol scoring rule: attending an uncrowded bar or staying
// away from a crowded one earns a point.
func Payoff(attended, crowded bool) int {
	if attended != crowded {
		return 1
	}
	return 0
}

// Settle applies the round's outcome to the agent and returns the points won.
func (a *Agent) Settle(crowded bool) int {
	p := Payoff(a.Decision, crowded)
	a.Won = p == 1
	a.Score += p
	a.memory.Push(a.Won)
	return p
}

// EvaluateNeighbors pairs the agent and each neighbour with its performance.
// The agent's own entry comes first.
func (a *Agent) EvaluateNeighbors(neighbors []*Agent, metric Metric) []Candidate {
	out := make([]Candidate, 0, len(neighbors)+1)
	out = append(out, Candidate{Policy: a.Policy, Score: a.Performance(metric)})
	for _, n := range neighbors {
		out = append(out, Candidate{Policy: n.Policy, Score: n.Performance(metric)})
	}
	return out
}

// Adapt possibly replaces the agent's policy with one from candidates, which
// must list the agent's own policy first. It reports whether the policy
// changed.
func (a *Agent) Adapt(candidates []Candidate, params AdaptParams, rng *rand.Rand) bool {
	if len(candidates) <= 1 {
		return false
	}
	if rng.Float64() < params.Retention {
		return false
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = c.Score
	}
	chosen := candidates[Select(scores, params.Temperature, rng)].Policy
	if chosen == a.Policy {
		return false
	}

	a.Policy = chosen
	a.Switches++
	if params.ClearOnSwitch {
		a.memory.Clear()
	} else {
		a.memory.MarkSwitch()
	}
	return true
}

// SoftmaxWeights turns scores into selection probabilities proportional to
// exp(score/temperature). The maximum is subtracted before exponentiating.
// Below HardMaxTemperature the weight is spread evenly over the best scores.
// Weights are non-negative and sum to 1; an empty input yields nil.
func SoftmaxWeights(scores []float64, temperature float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	best := floats.Max(scores)
	weights := make([]float64, len(scores))

	if temperature < HardMaxTemperature {
		for i, s := range scores {
			if best-s <= tieTolerance {
				weights[i] = 1
			}
		}
	} else {
		for i, s := range scores {
			weights[i] = math.Exp((s - best) / temperature)
		}
	}

	sum := floats.Sum(weights)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		for i := range weights {
			weights[i] = 1
		}
		sum = float64(len(weights))
	}
	floats.Scale(1/sum, weights)
	return weights
}

// Select draws an index with probability SoftmaxWeights(scores, temperature).
func Select(scores []float64, temperature float64, rng *rand.Rand) int {
	weights := SoftmaxWeights(scores, temperature)
	u := rng.Float64()
	cumulative := 0.0
	last := 0
	for i, w := range weights {
		if w == 0 {
			continue
		}
		cumulative += w
		last = i
		if u < cumulative {
			return i
		}
	}
	return last
}

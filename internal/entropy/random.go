// Package entropy derives independent random streams from a run seed.
// Every stochastic draw in a run is keyed by (round, agent index, purpose),
// so results are reproducible no matter how agents are split across workers.
package entropy

import (
	"math/rand/v2"
	"time"
)

// Purpose separates streams used for different decisions in the same round.
type Purpose uint64

const (
	PurposeDecide Purpose = iota + 1 // Random policy draws
	PurposeAdapt                     // Retention and softmax draws
	PurposeLayout                    // Initial policy assignment
)

// Source hands out derived streams for one run.
type Source struct {
	seed uint64
}

// NewSource creates a stream source. A zero seed picks one from the clock;
// callers that need reproducibility must record Seed().
func NewSource(seed int64) *Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Source{seed: uint64(seed)}
}

// Seed returns the effective run seed.
func (s *Source) Seed() int64 {
	return int64(s.seed)
}

// Stream returns the generator for one agent in one round.
func (s *Source) Stream(purpose Purpose, round uint64, index int) *rand.Rand {
	hi := mix(s.seed ^ mix(uint64(purpose)))
	lo := mix(hi ^ mix(round+0x632be59bd9b4e019) ^ mix(uint64(index)+0x8cb92ba72f3d8dd7))
	return rand.New(rand.NewPCG(hi, lo))
}

// Global returns a stream not tied to any agent, e.g. for layout sampling.
func (s *Source) Global(purpose Purpose) *rand.Rand {
	return s.Stream(purpose, 0, -1)
}

// mix is the SplitMix64 finalizer.
func mix(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

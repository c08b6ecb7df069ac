// Package engine provides the El Farol round loop: configuration, rounds,
// adaptation phases, and the paced runner that drives them.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// Runner drives a Simulation forward at a configurable pace.
type Runner struct {
	Sim      *Simulation
	Interval time.Duration // Base round interval; 0 = as fast as possible

	speed   atomic.Uint64 // float64 bits; see SetSpeed
	running atomic.Bool

	// Callbacks, invoked on the runner goroutine after each step.
	OnRound  func(rec RoundRecord) // Every round
	OnUpdate func(rec RoundRecord) // Rounds followed by an adaptation phase
	OnFinish func(sum Summary)     // Once, after the last round
}

// NewRunner creates an unpaced runner.
func NewRunner(sim *Simulation) *Runner {
	r := &Runner{Sim: sim}
	r.SetSpeed(1.0)
	return r
}

// Speed returns the pace multiplier.
func (r *Runner) Speed() float64 {
	return math.Float64frombits(r.speed.Load())
}

// SetSpeed changes the pace multiplier: 1.0 = one round per Interval,
// 0 = paused. Safe to call while Run is in progress.
func (r *Runner) SetSpeed(v float64) {
	r.speed.Store(math.Float64bits(v))
}

// Running reports whether Run is active.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Run steps until the simulation finishes or ctx is cancelled. A round in
// progress always completes before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("runner started", "iteration", r.Sim.Iteration(), "speed", r.Speed(), "interval", r.Interval)
	r.running.Store(true)
	defer r.running.Store(false)

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("runner stopped", "iteration", r.Sim.Iteration())
			return err
		}
		speed := r.Speed()
		if speed <= 0 {
			sleep(ctx, 100*time.Millisecond)
			continue
		}

		start := time.Now()
		rec, err := r.Sim.Step()
		if errors.Is(err, ErrFinished) {
			break
		}
		if err != nil {
			return err
		}
		r.fire(rec)

		if r.Interval > 0 {
			target := time.Duration(float64(r.Interval) / speed)
			if elapsed := time.Since(start); elapsed < target {
				sleep(ctx, target-elapsed)
			}
		}
	}

	sum := r.Sim.Summary()
	if r.OnFinish != nil {
		r.OnFinish(sum)
	}
	slog.Info("runner finished", "rounds", sum.Rounds)
	return nil
}

func (r *Runner) fire(rec RoundRecord) {
	if r.OnRound != nil {
		r.OnRound(rec)
	}
	if rec.Adapted && r.OnUpdate != nil {
		r.OnUpdate(rec)
	}
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

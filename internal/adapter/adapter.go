// Package adapter applies small online corrections to registered units
// between full retrains. Steps are error-weighted and hard-bounded, so
// a burst of bad labels cannot walk a unit arbitrarily far; drift above
// the boost trigger temporarily raises the learning rate.
package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-driftd/driftd/internal/logging"
	"github.com/go-driftd/driftd/internal/metric/model"
)

// AdaptableUnit is implemented by units that accept online updates.
type AdaptableUnit interface {
	ID() string
	Adjust(step float64, features []float64) error
}

// NoopUnit registers a unit for monitoring without online adaptation.
type NoopUnit struct {
	UnitID string
}

func (u NoopUnit) ID() string { return u.UnitID }

func (u NoopUnit) Adjust(float64, []float64) error { return nil }

// PerformanceFn persists a performance audit row for the unit. Injected
// by the owner so the adapter stays free of storage concerns.
type PerformanceFn func(ctx context.Context, unitID string) error

type Options struct {
	learningRate     float64
	maxStep          float64
	boostTrigger     float64
	boostFactor      float64
	boostCooldown    int
	performanceEvery int
}

type Option func(*Adapter)

func WithLearningRate(rate float64) Option {
	return func(a *Adapter) {
		a.opts.learningRate = rate
	}
}

func WithMaxStep(step float64) Option {
	return func(a *Adapter) {
		a.opts.maxStep = step
	}
}

func WithBoostTrigger(score float64) Option {
	return func(a *Adapter) {
		a.opts.boostTrigger = score
	}
}

func WithBoostFactor(factor float64) Option {
	return func(a *Adapter) {
		a.opts.boostFactor = factor
	}
}

func WithBoostCooldown(updates int) Option {
	return func(a *Adapter) {
		a.opts.boostCooldown = updates
	}
}

func WithPerformanceEvery(updates int) Option {
	return func(a *Adapter) {
		a.opts.performanceEvery = updates
	}
}

func WithPerformanceFn(fn PerformanceFn) Option {
	return func(a *Adapter) {
		a.performanceFn = fn
	}
}

func New(opts ...Option) *Adapter {
	a := &Adapter{
		opts: Options{
			learningRate:     0.01,
			maxStep:          0.1,
			boostTrigger:     0.3,
			boostFactor:      1.5,
			boostCooldown:    50,
			performanceEvery: 10,
		},
		states: map[string]*unitState{},
	}
	for _, f := range opts {
		f(a)
	}
	return a
}

type Adapter struct {
	mtx           sync.Mutex
	opts          Options
	states        map[string]*unitState
	performanceFn PerformanceFn
}

type unitState struct {
	updates  uint64
	cooldown int
}

// Apply computes one bounded correction step from the outcome and feeds
// it to the unit. A drift score at or above the boost trigger re-arms
// the boosted learning rate for the cooldown length.
func (a *Adapter) Apply(ctx context.Context, unit AdaptableUnit, outcome model.Outcome, driftScore float64) error {
	a.mtx.Lock()
	s, ok := a.states[unit.ID()]
	if !ok {
		s = &unitState{}
		a.states[unit.ID()] = s
	}
	if driftScore >= a.opts.boostTrigger {
		s.cooldown = a.opts.boostCooldown
	}
	rate := a.opts.learningRate
	if s.cooldown > 0 {
		rate *= a.opts.boostFactor
		s.cooldown--
	}
	s.updates++
	updates := s.updates
	a.mtx.Unlock()

	step := clamp(rate*(outcome.Actual-outcome.Predicted), a.opts.maxStep)
	if err := unit.Adjust(step, outcome.Features); err != nil {
		return fmt.Errorf("unable adjust unit %s: %w", unit.ID(), err)
	}

	if a.performanceFn != nil && updates%uint64(a.opts.performanceEvery) == 0 {
		if err := a.performanceFn(ctx, unit.ID()); err != nil {
			logging.FromContext(ctx).Errorf("unable store performance row for %s: %v", unit.ID(), err)
		}
	}
	return nil
}

// LearningRate reports the rate the next update would use.
func (a *Adapter) LearningRate(unitID string) float64 {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if s, ok := a.states[unitID]; ok && s.cooldown > 0 {
		return a.opts.learningRate * a.opts.boostFactor
	}
	return a.opts.learningRate
}

// ResetLearningRate drops any active boost for the unit.
func (a *Adapter) ResetLearningRate(unitID string) {
	a.mtx.Lock()
	if s, ok := a.states[unitID]; ok {
		s.cooldown = 0
	}
	a.mtx.Unlock()
}

func (a *Adapter) Updates(unitID string) uint64 {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if s, ok := a.states[unitID]; ok {
		return s.updates
	}
	return 0
}

func clamp(step, bound float64) float64 {
	if step > bound {
		return bound
	}
	if step < -bound {
		return -bound
	}
	return step
}

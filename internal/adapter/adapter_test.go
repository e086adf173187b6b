package adapter

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-driftd/driftd/internal/metric/model"
)

type recordingUnit struct {
	id    string
	steps []float64
	err   error
}

func (u *recordingUnit) ID() string { return u.id }

func (u *recordingUnit) Adjust(step float64, _ []float64) error {
	u.steps = append(u.steps, step)
	return u.err
}

func outcome(predicted, actual float64) model.Outcome {
	return model.NewOutcome("unit-1", predicted, actual, 0.8, 50, nil, time.Now().UTC())
}

func TestApplyStepDirectionAndScale(t *testing.T) {
	ctx := context.Background()
	unit := &recordingUnit{id: "unit-1"}
	a := New(WithLearningRate(0.1))

	if err := a.Apply(ctx, unit, outcome(0.4, 0.9), 0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := a.Apply(ctx, unit, outcome(0.9, 0.4), 0); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(unit.steps) != 2 {
		t.Fatalf("steps got: %v, expected: 2", len(unit.steps))
	}
	if math.Abs(unit.steps[0]-0.05) > 1e-9 {
		t.Errorf("under-prediction step got: %v, expected: 0.05", unit.steps[0])
	}
	if math.Abs(unit.steps[1]+0.05) > 1e-9 {
		t.Errorf("over-prediction step got: %v, expected: -0.05", unit.steps[1])
	}
}

func TestApplyClampsStep(t *testing.T) {
	unit := &recordingUnit{id: "unit-1"}
	a := New(WithLearningRate(1), WithMaxStep(0.1))

	if err := a.Apply(context.Background(), unit, outcome(0, 1), 0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if unit.steps[0] != 0.1 {
		t.Errorf("clamped step got: %v, expected: 0.1", unit.steps[0])
	}
}

func TestBoostAndCooldown(t *testing.T) {
	ctx := context.Background()
	unit := &recordingUnit{id: "unit-1"}
	a := New(WithLearningRate(0.1), WithBoostCooldown(2))

	if got := a.LearningRate("unit-1"); got != 0.1 {
		t.Fatalf("base rate got: %v, expected: 0.1", got)
	}

	// Drift at the trigger arms the boost for two updates.
	if err := a.Apply(ctx, unit, outcome(0.5, 1), 0.3); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if math.Abs(unit.steps[0]-0.075) > 1e-9 {
		t.Errorf("boosted step got: %v, expected: 0.075", unit.steps[0])
	}
	if got := a.LearningRate("unit-1"); math.Abs(got-0.15) > 1e-9 {
		t.Errorf("boosted rate got: %v, expected: 0.15", got)
	}

	if err := a.Apply(ctx, unit, outcome(0.5, 1), 0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := a.Apply(ctx, unit, outcome(0.5, 1), 0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if math.Abs(unit.steps[2]-0.05) > 1e-9 {
		t.Errorf("post-cooldown step got: %v, expected: 0.05", unit.steps[2])
	}
}

func TestResetLearningRate(t *testing.T) {
	unit := &recordingUnit{id: "unit-1"}
	a := New(WithLearningRate(0.1))

	if err := a.Apply(context.Background(), unit, outcome(0.5, 1), 0.9); err != nil {
		t.Fatalf("apply: %v", err)
	}
	a.ResetLearningRate("unit-1")
	if got := a.LearningRate("unit-1"); got != 0.1 {
		t.Errorf("rate after reset got: %v, expected: 0.1", got)
	}
}

func TestPerformanceRowCadence(t *testing.T) {
	unit := &recordingUnit{id: "unit-1"}
	rows := 0
	a := New(
		WithPerformanceEvery(3),
		WithPerformanceFn(func(context.Context, string) error {
			rows++
			return nil
		}),
	)

	for i := 0; i < 7; i++ {
		if err := a.Apply(context.Background(), unit, outcome(0.5, 0.5), 0); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if rows != 2 {
		t.Errorf("performance rows got: %v, expected: 2", rows)
	}
	if a.Updates("unit-1") != 7 {
		t.Errorf("updates got: %v, expected: 7", a.Updates("unit-1"))
	}
}

func TestAdjustErrorPropagates(t *testing.T) {
	unit := &recordingUnit{id: "unit-1", err: errors.New("weights busy")}
	a := New()

	if err := a.Apply(context.Background(), unit, outcome(0.5, 1), 0); err == nil {
		t.Fatalf("apply with failing unit got nil error")
	}
}

func TestNoopUnit(t *testing.T) {
	unit := NoopUnit{UnitID: "unit-1"}
	if unit.ID() != "unit-1" {
		t.Errorf("id got: %v", unit.ID())
	}
	if err := unit.Adjust(0.5, nil); err != nil {
		t.Errorf("noop adjust got: %v", err)
	}
}

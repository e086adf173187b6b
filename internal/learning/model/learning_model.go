package model

import (
	"time"

	"github.com/go-driftd/driftd/internal/drift"
	metricModel "github.com/go-driftd/driftd/internal/metric/model"
	"github.com/google/uuid"
)

// State is the per-unit learning lifecycle.
type State string

const (
	StateTracking          State = "tracking"
	StateAdapting          State = "adapting"
	StateRetrainingFlagged State = "retraining_flagged"
)

func NewEvent(unitID string, result drift.Result) Event {
	return Event{
		ID:              uuid.New(),
		UnitID:          unitID,
		Score:           result.Score,
		Type:            result.Type,
		AffectedSignals: result.AffectedSignals,
		Recommendation:  result.Recommendation,
		Confidence:      result.Confidence,
		CreatedAt:       time.Now().UTC(),
	}
}

// Event is one persisted drift detection, written only on the edge
// where a unit crosses from stable into drift.
type Event struct {
	ID              uuid.UUID  `json:"id"`
	UnitID          string     `json:"unitId"`
	Score           float64    `json:"score"`
	Type            drift.Type `json:"type"`
	AffectedSignals []string   `json:"affectedSignals,omitempty"`
	Recommendation  string     `json:"recommendation"`
	Confidence      float64    `json:"confidence"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func NewRetrainFlag(unitID, reason string, score float64, performance metricModel.Performance) RetrainFlag {
	return RetrainFlag{
		UnitID:      unitID,
		Reason:      reason,
		DriftScore:  score,
		Performance: performance,
		CreatedAt:   time.Now().UTC(),
	}
}

// RetrainFlag marks a unit as needing full retraining. At most one
// flag per unit; re-flagging refreshes it.
type RetrainFlag struct {
	UnitID      string                  `json:"unitId"`
	Reason      string                  `json:"reason"`
	DriftScore  float64                 `json:"driftScore"`
	Performance metricModel.Performance `json:"performance"`
	CreatedAt   time.Time               `json:"createdAt"`
}

package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeAccuracy              Type = "accuracy"
	TypeConfidenceCalibration Type = "confidence_calibration"
	TypeErrorRate             Type = "error_rate"
	TypeDriftScore            Type = "drift_score"
	TypeResponseTime          Type = "response_time"
	TypePredictionVolume      Type = "prediction_volume"
)

// SystemUnit marks a snapshot as a system-wide aggregate.
const SystemUnit = ""

// Correct is the single correctness predicate for probability-style
// predictions: a prediction counts as correct when it lands within 0.5
// of the realized value.
func Correct(predicted, actual float64) bool {
	return math.Abs(predicted-actual) < 0.5
}

func NewOutcome(unitID string, predicted, actual, confidence, responseTime float64, features []float64, createdAt time.Time) Outcome {
	return Outcome{
		UnitID:       unitID,
		Predicted:    predicted,
		Actual:       actual,
		Confidence:   confidence,
		ResponseTime: responseTime,
		Features:     features,
		CreatedAt:    createdAt,
	}
}

// Outcome is one observed prediction-result pair for a unit. Immutable
// once recorded.
type Outcome struct {
	UnitID       string    `json:"unitId"`
	Predicted    float64   `json:"predicted"`
	Actual       float64   `json:"actual"`
	Confidence   float64   `json:"confidence"`
	ResponseTime float64   `json:"responseTime"`
	Features     []float64 `json:"features,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (o Outcome) Correct() bool {
	return Correct(o.Predicted, o.Actual)
}

func (o Outcome) AbsError() float64 {
	return math.Abs(o.Predicted - o.Actual)
}

func NewSnapshot(unitID string, metricType Type, value float64, context map[string]interface{}) Snapshot {
	return Snapshot{
		ID:         uuid.New(),
		UnitID:     unitID,
		MetricType: metricType,
		Value:      value,
		Context:    context,
		CreatedAt:  time.Now().UTC(),
	}
}

// Snapshot is one append-only metric observation. An empty UnitID means
// the value is a system-wide aggregate.
type Snapshot struct {
	ID         uuid.UUID              `json:"id"`
	UnitID     string                 `json:"unitId"`
	MetricType Type                   `json:"metricType"`
	Value      float64                `json:"value"`
	Context    map[string]interface{} `json:"context,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

func (s Snapshot) IsSystem() bool {
	return s.UnitID == SystemUnit
}

func NewPerformance(unitID string) Performance {
	return Performance{
		ID:        uuid.New(),
		UnitID:    unitID,
		CreatedAt: time.Now().UTC(),
	}
}

// Performance is an append-only audit row written per evaluation cycle.
type Performance struct {
	ID              uuid.UUID `json:"id"`
	UnitID          string    `json:"unitId"`
	Accuracy        float64   `json:"accuracy"`
	LogLoss         float64   `json:"logLoss"`
	BrierScore      float64   `json:"brierScore"`
	PredictionCount uint64    `json:"predictionCount"`
	CorrectCount    uint64    `json:"correctCount"`
	Calibration     float64   `json:"calibration"`
	DriftScore      float64   `json:"driftScore"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
)

// Dashboard is the derived point-in-time view recomputed every monitor
// cycle. The previous value is overwritten, not appended.
type Dashboard struct {
	CreatedAt        time.Time          `json:"createdAt"`
	OverallAccuracy  float64            `json:"overallAccuracy"`
	UnitAccuracy     map[string]float64 `json:"unitAccuracy"`
	ActiveAlertCount int                `json:"activeAlertCount"`
	UnitDriftScores  map[string]float64 `json:"unitDriftScores"`
	Calibration      float64            `json:"calibration"`
	VolumeTrend      float64            `json:"volumeTrend"`
	Health           Health             `json:"health"`
}

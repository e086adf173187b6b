// Package threshold implements the pure metric-to-severity lookup the
// monitor evaluates every cycle. Two polarities exist: quality metrics
// alert when the value falls to or below a trigger, cost metrics alert
// when it rises to or above one.
package threshold

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/go-driftd/driftd/internal/metric/model"
)

type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// severityOrder walks from most to least severe so Check returns the
// worst triggered level.
var severityOrder = []Severity{SeverityEmergency, SeverityCritical, SeverityWarning, SeverityInfo}

func Rank(s Severity) int {
	switch s {
	case SeverityEmergency:
		return 3
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 0
	default:
		return -1
	}
}

type Polarity uint8

const (
	// LowerIsWorse triggers when value <= threshold (accuracy, calibration)
	LowerIsWorse Polarity = iota
	// HigherIsWorse triggers when value >= threshold (error rate, drift, latency)
	HigherIsWorse
)

type rule struct {
	polarity Polarity
	levels   map[Severity]float64
}

func NewTable() *Table {
	return &Table{
		rules: map[model.Type]rule{
			model.TypeAccuracy: {
				polarity: LowerIsWorse,
				levels: map[Severity]float64{
					SeverityWarning:   0.6,
					SeverityCritical:  0.5,
					SeverityEmergency: 0.35,
				},
			},
			model.TypeConfidenceCalibration: {
				polarity: LowerIsWorse,
				levels: map[Severity]float64{
					SeverityWarning:  0.75,
					SeverityCritical: 0.6,
				},
			},
			model.TypeErrorRate: {
				polarity: HigherIsWorse,
				levels: map[Severity]float64{
					SeverityWarning:  0.4,
					SeverityCritical: 0.55,
				},
			},
			model.TypeDriftScore: {
				polarity: HigherIsWorse,
				levels: map[Severity]float64{
					SeverityWarning:  0.25,
					SeverityCritical: 0.5,
				},
			},
			model.TypeResponseTime: {
				polarity: HigherIsWorse,
				levels: map[Severity]float64{
					SeverityWarning:  2.0,
					SeverityCritical: 5.0,
				},
			},
		},
	}
}

type Table struct {
	mtx   sync.RWMutex
	rules map[model.Type]rule
}

// Check returns the worst severity the value triggers, or false when
// the value is inside every bound or the metric carries no thresholds.
func (t *Table) Check(metricType model.Type, value float64) (Severity, float64, bool) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	r, ok := t.rules[metricType]
	if !ok {
		return "", 0, false
	}
	for _, severity := range severityOrder {
		trigger, ok := r.levels[severity]
		if !ok {
			continue
		}
		if r.polarity == LowerIsWorse && value <= trigger {
			return severity, trigger, true
		}
		if r.polarity == HigherIsWorse && value >= trigger {
			return severity, trigger, true
		}
	}
	return "", 0, false
}

// Update changes a single trigger at runtime. It takes effect on the
// next evaluation cycle.
func (t *Table) Update(metricType model.Type, severity Severity, value float64) error {
	if Rank(severity) < 0 {
		return fmt.Errorf("unknown severity %q", severity)
	}
	t.mtx.Lock()
	defer t.mtx.Unlock()

	r, ok := t.rules[metricType]
	if !ok {
		return fmt.Errorf("unknown metric type %q", metricType)
	}
	r.levels[severity] = value
	return nil
}

// Levels returns a copy of the trigger map for one metric.
func (t *Table) Levels(metricType model.Type) map[Severity]float64 {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	r, ok := t.rules[metricType]
	if !ok {
		return nil
	}
	out := make(map[Severity]float64, len(r.levels))
	for severity, trigger := range r.levels {
		out[severity] = trigger
	}
	return out
}

// LoadFile overlays thresholds from a TOML file shaped as
//
//	[accuracy]
//	warning = 0.65
//	critical = 0.5
func (t *Table) LoadFile(path string) error {
	overrides := map[string]map[string]float64{}
	if _, err := toml.DecodeFile(path, &overrides); err != nil {
		return fmt.Errorf("unable decode thresholds file: %w", err)
	}
	for metric, levels := range overrides {
		for severity, value := range levels {
			if err := t.Update(model.Type(metric), Severity(severity), value); err != nil {
				return fmt.Errorf("thresholds file %s: %w", path, err)
			}
		}
	}
	return nil
}

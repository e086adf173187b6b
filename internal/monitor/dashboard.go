package monitor

import (
	"time"

	alertModel "github.com/go-driftd/driftd/internal/alert/model"
	metricModel "github.com/go-driftd/driftd/internal/metric/model"
)

// healthWarningAlerts is the active-alert count above which an
// otherwise healthy system degrades to warning.
const healthWarningAlerts = 5

// deriveHealth folds the active alert population into one overall
// status. Any emergency dominates, then any critical, then sheer alert
// volume.
func deriveHealth(counts map[alertModel.Level]int) metricModel.Health {
	if counts[alertModel.LevelEmergency] > 0 {
		return metricModel.HealthCritical
	}
	if counts[alertModel.LevelCritical] > 0 {
		return metricModel.HealthDegraded
	}
	var active int
	for _, n := range counts {
		active += n
	}
	if active > healthWarningAlerts {
		return metricModel.HealthWarning
	}
	return metricModel.HealthHealthy
}

// buildDashboard snapshots the current state of every unit into the
// point-in-time view. volumeDelta is the number of outcomes observed
// since the previous cycle.
func (s *Service) buildDashboard(volumeDelta uint64) metricModel.Dashboard {
	counts := s.ledger.Counts()
	var active int
	for _, n := range counts {
		active += n
	}

	dashboard := metricModel.Dashboard{
		CreatedAt:        time.Now().UTC(),
		OverallAccuracy:  s.buf.Accuracy(metricModel.SystemUnit),
		UnitAccuracy:     map[string]float64{},
		ActiveAlertCount: active,
		UnitDriftScores:  map[string]float64{},
		Calibration:      s.buf.Calibration(metricModel.SystemUnit),
		VolumeTrend:      float64(volumeDelta),
		Health:           deriveHealth(counts),
	}
	for _, unitID := range s.engine.Units() {
		dashboard.UnitAccuracy[unitID] = s.buf.Accuracy(unitID)
		if score, ok := s.engine.DriftScore(unitID); ok {
			dashboard.UnitDriftScores[unitID] = score
		}
	}
	return dashboard
}

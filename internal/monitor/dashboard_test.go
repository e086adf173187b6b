package monitor

import (
	"testing"

	alertModel "github.com/go-driftd/driftd/internal/alert/model"
	metricModel "github.com/go-driftd/driftd/internal/metric/model"
)

func TestDeriveHealth(t *testing.T) {
	tt := []struct {
		name   string
		counts map[alertModel.Level]int
		want   metricModel.Health
	}{
		{
			name:   "no alerts",
			counts: map[alertModel.Level]int{},
			want:   metricModel.HealthHealthy,
		},
		{
			name:   "few warnings",
			counts: map[alertModel.Level]int{alertModel.LevelWarning: 3},
			want:   metricModel.HealthHealthy,
		},
		{
			name:   "many warnings",
			counts: map[alertModel.Level]int{alertModel.LevelWarning: 6},
			want:   metricModel.HealthWarning,
		},
		{
			name:   "one critical",
			counts: map[alertModel.Level]int{alertModel.LevelCritical: 1},
			want:   metricModel.HealthDegraded,
		},
		{
			name: "emergency dominates",
			counts: map[alertModel.Level]int{
				alertModel.LevelCritical:  2,
				alertModel.LevelEmergency: 1,
			},
			want: metricModel.HealthCritical,
		},
	}
	for _, tc := range tt {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := deriveHealth(tc.counts); got != tc.want {
				t.Errorf("deriveHealth(%v) got: %v, expected: %v", tc.counts, got, tc.want)
			}
		})
	}
}

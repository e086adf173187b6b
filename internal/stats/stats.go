// Package stats holds the opencensus measures and views exported to
// prometheus.
package stats

import (
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	MOutcomes        = stats.Int64("driftd/outcomes", "recorded prediction outcomes", stats.UnitDimensionless)
	MAlerts          = stats.Int64("driftd/alerts", "created alerts", stats.UnitDimensionless)
	MDriftDetections = stats.Int64("driftd/drift_detections", "drift detection events", stats.UnitDimensionless)
	MTickLatency     = stats.Float64("driftd/tick_latency", "monitor cycle latency", stats.UnitMilliseconds)
)

var (
	KeyUnit  = tag.MustNewKey("unit")
	KeyLevel = tag.MustNewKey("level")
)

func Views() []*view.View {
	return []*view.View{
		{
			Name:        "driftd/outcomes_count",
			Description: "count of recorded prediction outcomes",
			Measure:     MOutcomes,
			TagKeys:     []tag.Key{KeyUnit},
			Aggregation: view.Count(),
		},
		{
			Name:        "driftd/alerts_count",
			Description: "count of created alerts",
			Measure:     MAlerts,
			TagKeys:     []tag.Key{KeyLevel},
			Aggregation: view.Count(),
		},
		{
			Name:        "driftd/drift_detections_count",
			Description: "count of drift detection events",
			Measure:     MDriftDetections,
			TagKeys:     []tag.Key{KeyUnit},
			Aggregation: view.Count(),
		},
		{
			Name:        "driftd/tick_latency",
			Description: "distribution of monitor cycle latency",
			Measure:     MTickLatency,
			Aggregation: view.Distribution(1, 5, 10, 50, 100, 500, 1000, 5000),
		},
	}
}

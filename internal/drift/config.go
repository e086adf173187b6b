package drift

type Config struct {
	// Composite score above which a unit is considered drifting
	Threshold float64 `envconfig:"DRIFTD_DRIFT_THRESHOLD" default:"0.1"`
	// Half-window size; scoring needs at least twice this many observations
	Window int `envconfig:"DRIFTD_DRIFT_WINDOW" default:"25"`
	// Observations required before type classification is attempted
	ClassifyMin int `envconfig:"DRIFTD_DRIFT_CLASSIFY_MIN" default:"40"`
	// MAE ratio boundaries for sudden/gradual classification. Heuristic
	// tunables, not derived from labeled data.
	SuddenRatio  float64 `envconfig:"DRIFTD_DRIFT_SUDDEN_RATIO" default:"1.5"`
	GradualRatio float64 `envconfig:"DRIFTD_DRIFT_GRADUAL_RATIO" default:"1.2"`
}

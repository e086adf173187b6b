package adapter

type Config struct {
	LearningRate     float64 `envconfig:"DRIFTD_ADAPTER_LEARNING_RATE" default:"0.01"`
	MaxStep          float64 `envconfig:"DRIFTD_ADAPTER_MAX_STEP" default:"0.1"`
	BoostTrigger     float64 `envconfig:"DRIFTD_ADAPTER_BOOST_TRIGGER" default:"0.3"`
	BoostFactor      float64 `envconfig:"DRIFTD_ADAPTER_BOOST_FACTOR" default:"1.5"`
	BoostCooldown    int     `envconfig:"DRIFTD_ADAPTER_BOOST_COOLDOWN" default:"50"`
	PerformanceEvery int     `envconfig:"DRIFTD_ADAPTER_PERFORMANCE_EVERY" default:"10"`
}

package monitor

import "time"

type Config struct {
	TickInterval        time.Duration `envconfig:"DRIFTD_MONITOR_TICK" default:"10s"`
	PersistTimeout      time.Duration `envconfig:"DRIFTD_MONITOR_PERSIST_TIMEOUT" default:"5s"`
	RetentionTime       time.Duration `envconfig:"DRIFTD_MONITOR_RETENTION_TIME" default:"168h"`
	RetentionEvery      time.Duration `envconfig:"DRIFTD_MONITOR_RETENTION_EVERY" default:"1h"`
	MinEvaluations      int           `envconfig:"DRIFTD_MONITOR_MIN_EVALUATIONS" default:"10"`
	MaxConcurrentChecks int           `envconfig:"DRIFTD_MONITOR_MAX_CONCURRENT_CHECKS" default:"16"`
}

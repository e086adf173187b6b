package publish

import "time"

type Config struct {
	// Empty RedisAddr disables the cache
	RedisAddr     string        `envconfig:"DRIFTD_REDIS_ADDR"`
	RedisPassword string        `envconfig:"DRIFTD_REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"DRIFTD_REDIS_DB" default:"0"`
	DashboardKey  string        `envconfig:"DRIFTD_REDIS_DASHBOARD_KEY" default:"driftd:dashboard"`
	TTL           time.Duration `envconfig:"DRIFTD_REDIS_TTL" default:"1m"`
}

func (c Config) Enabled() bool {
	return c.RedisAddr != ""
}

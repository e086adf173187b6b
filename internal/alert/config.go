package alert

import (
	"encoding/json"
	"time"
)

type Config struct {
	AllowAlerts bool `envconfig:"DRIFTD_ALLOW_ALERTS" default:"true"`
	// Alerts for the same metric/unit inside one bucket share an ID
	BucketDuration       time.Duration `envconfig:"DRIFTD_ALERT_BUCKET" default:"10m"`
	Targets              Targets       `envconfig:"DRIFTD_ALERT_TARGETS"`
	RequestTimeout       time.Duration `envconfig:"DRIFTD_ALERT_REQUEST_TIMEOUT" default:"30s"`
	MaxConcurrentRequest int           `envconfig:"DRIFTD_ALERT_MAX_CONCURRENT_REQUEST" default:"64"`
}

type Targets []Target

func (ts *Targets) Decode(value string) error {
	targets := []Target{}
	if err := json.Unmarshal([]byte(value), &targets); err != nil {
		return err
	}
	*ts = targets
	return nil
}

type Target struct {
	URL string `json:"url"`
	// MinLevel filters deliveries; empty means everything
	MinLevel string `json:"minLevel,omitempty"`
}

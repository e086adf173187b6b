package ingest

import "time"

type Config struct {
	RequestTimeout time.Duration `envconfig:"DRIFTD_INGEST_REQUEST_TIMEOUT" default:"30s"`
}

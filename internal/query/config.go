package query

import "time"

type Config struct {
	RequestTimeout time.Duration `envconfig:"DRIFTD_QUERY_REQUEST_TIMEOUT" default:"15s"`
	// Default lookback for /v1/history when since is omitted
	DefaultLookback time.Duration `envconfig:"DRIFTD_QUERY_DEFAULT_LOOKBACK" default:"24h"`
}

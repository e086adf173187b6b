// Package driftd holds the top-level service configuration, assembled
// from the per-package sections and loaded from the environment.
package driftd

import (
	"github.com/go-driftd/driftd/internal/adapter"
	"github.com/go-driftd/driftd/internal/alert"
	"github.com/go-driftd/driftd/internal/buffer"
	"github.com/go-driftd/driftd/internal/database"
	"github.com/go-driftd/driftd/internal/drift"
	"github.com/go-driftd/driftd/internal/ingest"
	"github.com/go-driftd/driftd/internal/learning"
	"github.com/go-driftd/driftd/internal/monitor"
	"github.com/go-driftd/driftd/internal/publish"
	"github.com/go-driftd/driftd/internal/query"
	"github.com/go-driftd/driftd/internal/threshold"
)

type Config struct {
	SrvAddr   string `envconfig:"DRIFTD_SRV_ADDR" default:":8787"`
	DebugAddr string `envconfig:"DRIFTD_DEBUG_ADDR" default:"0.0.0.0:8080"`

	Database  database.Config
	Buffer    buffer.Config
	Drift     drift.Config
	Threshold threshold.Config
	Adapter   adapter.Config
	Learning  learning.Config
	Monitor   monitor.Config
	Alert     alert.Config
	Ingest    ingest.Config
	Query     query.Config
	Publish   publish.Config
}

func (c *Config) DatabaseConfig() *database.Config {
	return &c.Database
}

func (c *Config) BufferConfig() *buffer.Config {
	return &c.Buffer
}

func (c *Config) DriftConfig() *drift.Config {
	return &c.Drift
}

func (c *Config) ThresholdConfig() *threshold.Config {
	return &c.Threshold
}

func (c *Config) AdapterConfig() *adapter.Config {
	return &c.Adapter
}

func (c *Config) LearningConfig() *learning.Config {
	return &c.Learning
}

func (c *Config) MonitorConfig() *monitor.Config {
	return &c.Monitor
}

func (c *Config) AlertConfig() *alert.Config {
	return &c.Alert
}

func (c *Config) PublishConfig() *publish.Config {
	return &c.Publish
}

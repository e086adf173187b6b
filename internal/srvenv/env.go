package srvenv

import (
	"context"
	"net/http"

	"github.com/go-driftd/driftd/internal/alert"
	"github.com/go-driftd/driftd/internal/buffer"
	"github.com/go-driftd/driftd/internal/database"
	"github.com/go-driftd/driftd/internal/learning"
	"github.com/go-driftd/driftd/internal/monitor"
	"github.com/go-driftd/driftd/internal/threshold"
)

type Option func(*SrvEnv) *SrvEnv

func New(opts ...Option) *SrvEnv {
	env := &SrvEnv{}
	for _, f := range opts {
		env = f(env)
	}

	return env
}

type SrvEnv struct {
	database       *database.DB
	buffer         *buffer.Buffer
	table          *threshold.Table
	metricsHandler http.Handler
	ledger         alert.ProvideFn
	engine         learning.ProvideFn
	monitor        monitor.ProvideFn
}

func (s *SrvEnv) Database() *database.DB {
	return s.database
}

func (s *SrvEnv) Buffer() *buffer.Buffer {
	return s.buffer
}

func (s *SrvEnv) Thresholds() *threshold.Table {
	return s.table
}

func (s *SrvEnv) MetricsHandler() http.Handler {
	return s.metricsHandler
}

func (s *SrvEnv) ProvideLedger() alert.ProvideFn {
	return s.ledger
}

func (s *SrvEnv) ProvideEngine() learning.ProvideFn {
	return s.engine
}

func (s *SrvEnv) ProvideMonitor() monitor.ProvideFn {
	return s.monitor
}

func WithDatabase(db *database.DB) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.database = db
		return s
	}
}

func WithBuffer(buf *buffer.Buffer) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.buffer = buf
		return s
	}
}

func WithThresholds(table *threshold.Table) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.table = table
		return s
	}
}

func WithMetricsHandler(h http.Handler) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.metricsHandler = h
		return s
	}
}

func WithLedger(fn alert.ProvideFn) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.ledger = fn
		return s
	}
}

func WithEngine(fn learning.ProvideFn) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.engine = fn
		return s
	}
}

func WithMonitor(fn monitor.ProvideFn) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.monitor = fn
		return s
	}
}

func (s *SrvEnv) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}

	if s.database != nil {
		return s.database.Close(ctx)
	}
	return nil
}

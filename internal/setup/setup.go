// Package setup assembles the service environment from configuration:
// storage, rolling buffer, threshold table, metrics exporter and the
// provide functions for the long-running actors.
package setup

import (
	"context"
	"fmt"

	"contrib.go.opencensus.io/exporter/prometheus"
	"github.com/go-driftd/driftd/internal/adapter"
	"github.com/go-driftd/driftd/internal/alert"
	"github.com/go-driftd/driftd/internal/buffer"
	"github.com/go-driftd/driftd/internal/database"
	"github.com/go-driftd/driftd/internal/drift"
	"github.com/go-driftd/driftd/internal/learning"
	"github.com/go-driftd/driftd/internal/logging"
	"github.com/go-driftd/driftd/internal/monitor"
	"github.com/go-driftd/driftd/internal/publish"
	"github.com/go-driftd/driftd/internal/srvenv"
	"github.com/go-driftd/driftd/internal/stats"
	"github.com/go-driftd/driftd/internal/threshold"
	"github.com/kelseyhightower/envconfig"
	"go.opencensus.io/stats/view"
)

type DatabaseConfigProvider interface {
	DatabaseConfig() *database.Config
}

type BufferConfigProvider interface {
	BufferConfig() *buffer.Config
}

type DriftConfigProvider interface {
	DriftConfig() *drift.Config
}

type ThresholdConfigProvider interface {
	ThresholdConfig() *threshold.Config
}

type AdapterConfigProvider interface {
	AdapterConfig() *adapter.Config
}

type LearningConfigProvider interface {
	LearningConfig() *learning.Config
}

type MonitorConfigProvider interface {
	MonitorConfig() *monitor.Config
}

type AlertConfigProvider interface {
	AlertConfig() *alert.Config
}

type PublishConfigProvider interface {
	PublishConfig() *publish.Config
}

func Setup(ctx context.Context, config interface{}) (*srvenv.SrvEnv, error) {
	logger := logging.FromContext(ctx)
	var serverEnvOpts []srvenv.Option
	if err := envconfig.Process("", config); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	var (
		db     *database.DB
		buf    *buffer.Buffer
		scorer *drift.Scorer
		table  *threshold.Table
	)
	if dbConfigProvider, ok := config.(DatabaseConfigProvider); ok {
		logger.Info("Configuring db")
		dbFromEnv, err := database.NewFromEnv(ctx, dbConfigProvider.DatabaseConfig())
		if err != nil {
			return nil, fmt.Errorf("unable to connect to database: %v", err)
		}
		db = dbFromEnv
		serverEnvOpts = append(serverEnvOpts, srvenv.WithDatabase(db))
	}

	if bufferConfigProvider, ok := config.(BufferConfigProvider); ok {
		cfg := bufferConfigProvider.BufferConfig()
		buf = buffer.New(
			buffer.WithWindowSize(cfg.WindowSize),
			buffer.WithMinCalibrationSamples(cfg.MinCalibrationSamples),
		)
		serverEnvOpts = append(serverEnvOpts, srvenv.WithBuffer(buf))
	}

	if driftConfigProvider, ok := config.(DriftConfigProvider); ok {
		cfg := driftConfigProvider.DriftConfig()
		scorer = drift.NewScorer(
			drift.WithThreshold(cfg.Threshold),
			drift.WithWindow(cfg.Window),
			drift.WithClassifyMin(cfg.ClassifyMin),
			drift.WithRatios(cfg.SuddenRatio, cfg.GradualRatio),
		)
	}

	if thresholdConfigProvider, ok := config.(ThresholdConfigProvider); ok {
		cfg := thresholdConfigProvider.ThresholdConfig()
		table = threshold.NewTable()
		if cfg.File != "" {
			logger.Infof("Loading threshold overrides from %s", cfg.File)
			if err := table.LoadFile(cfg.File); err != nil {
				return nil, fmt.Errorf("unable load thresholds: %w", err)
			}
		}
		serverEnvOpts = append(serverEnvOpts, srvenv.WithThresholds(table))
	}

	exporter, err := prometheus.NewExporter(prometheus.Options{Namespace: "driftd"})
	if err != nil {
		return nil, fmt.Errorf("unable create metrics exporter: %w", err)
	}
	view.RegisterExporter(exporter)
	if err := view.Register(stats.Views()...); err != nil {
		return nil, fmt.Errorf("unable register metric views: %w", err)
	}
	serverEnvOpts = append(serverEnvOpts, srvenv.WithMetricsHandler(exporter))

	if alertConfigProvider, ok := config.(AlertConfigProvider); ok {
		provideFn, err := ProvideLedgerFor(alertConfigProvider, db)
		if err != nil {
			return nil, fmt.Errorf("unable create ledger provide function: %v", err)
		}
		serverEnvOpts = append(serverEnvOpts, srvenv.WithLedger(provideFn))
	}

	if learningConfigProvider, ok := config.(LearningConfigProvider); ok {
		adapterConfigProvider, ok := config.(AdapterConfigProvider)
		if !ok {
			return nil, fmt.Errorf("unable read adapter config")
		}
		provideFn, err := ProvideEngineFor(learningConfigProvider, adapterConfigProvider, db, buf, scorer)
		if err != nil {
			return nil, fmt.Errorf("unable create engine provide function: %v", err)
		}
		serverEnvOpts = append(serverEnvOpts, srvenv.WithEngine(provideFn))
	}

	if monitorConfigProvider, ok := config.(MonitorConfigProvider); ok {
		var publisher monitor.Publisher
		if publishConfigProvider, ok := config.(PublishConfigProvider); ok && publishConfigProvider.PublishConfig().Enabled() {
			logger.Info("Configuring dashboard cache")
			publisher = publish.NewRedis(publishConfigProvider.PublishConfig())
		}
		provideFn, err := ProvideMonitorFor(monitorConfigProvider, db, buf, table, publisher)
		if err != nil {
			return nil, fmt.Errorf("unable create monitor provide function: %v", err)
		}
		serverEnvOpts = append(serverEnvOpts, srvenv.WithMonitor(provideFn))
	}

	return srvenv.New(serverEnvOpts...), nil
}

func ProvideLedgerFor(provider AlertConfigProvider, db *database.DB) (alert.ProvideFn, error) {
	cfg := provider.AlertConfig()
	return func(ctx context.Context) (*alert.Ledger, error) {
		ledger := alert.NewLedger(
			db,
			alert.WithBucketDuration(cfg.BucketDuration),
			alert.WithAllowNotify(cfg.AllowAlerts),
		)
		if len(cfg.Targets) > 0 {
			ledger.AddSink(alert.NewWebhook(
				ctx,
				cfg.Targets,
				alert.WithRequestTimeout(cfg.RequestTimeout),
				alert.WithMaxConcurrentRequest(cfg.MaxConcurrentRequest),
			))
		}
		return ledger, nil
	}, nil
}

func ProvideEngineFor(
	provider LearningConfigProvider,
	adapterProvider AdapterConfigProvider,
	db *database.DB,
	buf *buffer.Buffer,
	scorer *drift.Scorer,
) (learning.ProvideFn, error) {
	cfg := provider.LearningConfig()
	adapterCfg := adapterProvider.AdapterConfig()
	return func(shutdownCh chan<- error) (*learning.Engine, error) {
		return learning.New(
			db,
			buf,
			scorer,
			shutdownCh,
			learning.WithEvalEvery(cfg.EvalEvery),
			learning.WithSevereScore(cfg.SevereScore),
			learning.WithWorkerNum(cfg.WorkerNum),
			learning.WithAdapterOptions(
				adapter.WithLearningRate(adapterCfg.LearningRate),
				adapter.WithMaxStep(adapterCfg.MaxStep),
				adapter.WithBoostTrigger(adapterCfg.BoostTrigger),
				adapter.WithBoostFactor(adapterCfg.BoostFactor),
				adapter.WithBoostCooldown(adapterCfg.BoostCooldown),
				adapter.WithPerformanceEvery(adapterCfg.PerformanceEvery),
			),
		)
	}, nil
}

func ProvideMonitorFor(
	provider MonitorConfigProvider,
	db *database.DB,
	buf *buffer.Buffer,
	table *threshold.Table,
	publisher monitor.Publisher,
) (monitor.ProvideFn, error) {
	cfg := provider.MonitorConfig()
	return func(engine *learning.Engine, ledger *alert.Ledger, shutdownCh chan<- error) (*monitor.Service, error) {
		opts := []monitor.Option{
			monitor.WithTickInterval(cfg.TickInterval),
			monitor.WithPersistTimeout(cfg.PersistTimeout),
			monitor.WithRetentionTime(cfg.RetentionTime),
			monitor.WithRetentionEvery(cfg.RetentionEvery),
			monitor.WithMinEvaluations(cfg.MinEvaluations),
			monitor.WithMaxConcurrentChecks(cfg.MaxConcurrentChecks),
		}
		if publisher != nil {
			opts = append(opts, monitor.WithPublisher(publisher))
		}
		return monitor.New(db, buf, engine, ledger, table, shutdownCh, opts...)
	}, nil
}

package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-driftd/driftd/internal/buildinfo"
	"github.com/go-driftd/driftd/internal/driftd"
	"github.com/go-driftd/driftd/internal/ingest"
	"github.com/go-driftd/driftd/internal/logging"
	"github.com/go-driftd/driftd/internal/query"
	"github.com/go-driftd/driftd/internal/server"
	"github.com/go-driftd/driftd/internal/setup"
	"github.com/go-driftd/driftd/internal/shutdown"
)

func main() {
	_, _ = fmt.Fprintf(
		os.Stdout,
		"%s: %s, %s\n",
		buildinfo.Info.Name(),
		buildinfo.Info.Time(),
		buildinfo.Info.Tag(),
	)

	ctx, done := shutdown.New()
	logger := logging.FromContext(ctx)
	if err := run(ctx, done); err != nil {
		logger.Fatal(err)
	}

	defer done()
}

func run(ctx context.Context, cancel func()) error {
	// One slot for the learning engine collector, one for the monitor
	// loop.
	shutdownCh := make(chan error, 2)

	config := driftd.Config{}
	env, err := setup.Setup(ctx, &config)
	if err != nil {
		return fmt.Errorf("setup.Setup: %w", err)
	}
	defer env.Close(context.Background())

	ledger, err := env.ProvideLedger()(ctx)
	if err != nil {
		return fmt.Errorf("ledger provider function error: %w", err)
	}
	engine, err := env.ProvideEngine()(shutdownCh)
	if err != nil {
		return fmt.Errorf("engine provider function error: %w", err)
	}
	mon, err := env.ProvideMonitor()(engine, ledger, shutdownCh)
	if err != nil {
		return fmt.Errorf("monitor provider function error: %w", err)
	}

	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("engine.Run: %w", err)
	}
	if err := mon.Run(ctx); err != nil {
		return fmt.Errorf("monitor.Run: %w", err)
	}

	srv, err := server.New(config.SrvAddr)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	mux := http.NewServeMux()

	unitsHandler, err := ingest.NewUnitsHandler(&config.Ingest, mon)
	if err != nil {
		return fmt.Errorf("ingest.NewUnitsHandler: %w", err)
	}
	outcomesHandler, err := ingest.NewOutcomesHandler(&config.Ingest, mon)
	if err != nil {
		return fmt.Errorf("ingest.NewOutcomesHandler: %w", err)
	}
	dashboardHandler, err := query.NewDashboardHandler(&config.Query, mon)
	if err != nil {
		return fmt.Errorf("query.NewDashboardHandler: %w", err)
	}
	unitHandler, err := query.NewUnitHandler(&config.Query, mon)
	if err != nil {
		return fmt.Errorf("query.NewUnitHandler: %w", err)
	}
	alertsHandler, err := query.NewAlertsHandler(&config.Query, mon)
	if err != nil {
		return fmt.Errorf("query.NewAlertsHandler: %w", err)
	}
	historyHandler, err := query.NewHistoryHandler(&config.Query, mon)
	if err != nil {
		return fmt.Errorf("query.NewHistoryHandler: %w", err)
	}
	thresholdsHandler, err := query.NewThresholdsHandler(&config.Query, mon)
	if err != nil {
		return fmt.Errorf("query.NewThresholdsHandler: %w", err)
	}
	retrainHandler, err := query.NewRetrainHandler(&config.Query, mon)
	if err != nil {
		return fmt.Errorf("query.NewRetrainHandler: %w", err)
	}
	driftEventsHandler, err := query.NewDriftEventsHandler(&config.Query, mon)
	if err != nil {
		return fmt.Errorf("query.NewDriftEventsHandler: %w", err)
	}

	mux.Handle("/v1/units", unitsHandler)
	mux.Handle("/v1/outcomes", outcomesHandler)
	mux.Handle("/v1/dashboard", dashboardHandler)
	mux.Handle("/v1/unit", unitHandler)
	mux.Handle("/v1/alerts", alertsHandler)
	mux.Handle("/v1/history", historyHandler)
	mux.Handle("/v1/thresholds", thresholdsHandler)
	mux.Handle("/v1/retrain", retrainHandler)
	mux.Handle("/v1/drift", driftEventsHandler)
	mux.Handle("/health", server.HandleHealth(ctx))

	go func() {
		if err := srv.ServeHTTPHandler(ctx, mux); err != nil {
			cancel()
		}
	}()

	// pprof and the metrics exporter share the side listener.
	if h := env.MetricsHandler(); h != nil {
		http.Handle("/metrics", h)
	}
	go func() {
		if err := http.ListenAndServe(config.DebugAddr, nil); err != nil {
			cancel()
		}
	}()

	return <-shutdownCh
}

package monitor

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-driftd/driftd/internal/adapter"
	"github.com/go-driftd/driftd/internal/alert"
	alertModel "github.com/go-driftd/driftd/internal/alert/model"
	"github.com/go-driftd/driftd/internal/buffer"
	"github.com/go-driftd/driftd/internal/database"
	"github.com/go-driftd/driftd/internal/drift"
	"github.com/go-driftd/driftd/internal/learning"
	metricModel "github.com/go-driftd/driftd/internal/metric/model"
	"github.com/go-driftd/driftd/internal/threshold"
)

func testService(t *testing.T) *Service {
	t.Helper()
	dir, err := ioutil.TempDir("", "monitor")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := database.NewFromEnv(context.Background(), &database.Config{
		FileName: filepath.Join(dir, "driftd.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(context.Background()) })

	buf := buffer.New()
	shutdownCh := make(chan error, 8)
	engine, err := learning.New(db, buf, drift.NewScorer(), shutdownCh)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := engine.Run(ctx); err != nil {
		t.Fatalf("run engine: %v", err)
	}
	t.Cleanup(cancel)

	svc, err := New(db, buf, engine, alert.NewLedger(db), threshold.NewTable(), shutdownCh)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func record(t *testing.T, svc *Service, unitID string, predicted, actual, confidence float64) {
	t.Helper()
	outcome := metricModel.NewOutcome(unitID, predicted, actual, confidence, 0.05, nil, time.Now().UTC())
	if err := svc.RecordOutcome(context.Background(), outcome); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
}

func TestRecordOutcomeUnregistered(t *testing.T) {
	svc := testService(t)
	outcome := metricModel.NewOutcome("ghost", 0.5, 0.5, 0.8, 0.05, nil, time.Now().UTC())

	err := svc.RecordOutcome(context.Background(), outcome)
	var unregistered *UnregisteredUnitError
	if !errors.As(err, &unregistered) {
		t.Fatalf("error got: %v, expected UnregisteredUnitError", err)
	}
	if unregistered.UnitID != "ghost" {
		t.Errorf("error unit got: %v, expected: ghost", unregistered.UnitID)
	}
}

func TestDashboardNotReady(t *testing.T) {
	svc := testService(t)
	if _, err := svc.Dashboard(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("error got: %v, expected: %v", err, ErrNotReady)
	}
}

func TestTickBuildsHealthyDashboard(t *testing.T) {
	ctx := context.Background()
	svc := testService(t)
	if err := svc.RegisterUnit(adapter.NoopUnit{UnitID: "expert_7"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 20; i++ {
		record(t, svc, "expert_7", 0.7, 0.7, 0.9)
	}

	svc.tick(ctx)

	dashboard, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dashboard.Health != metricModel.HealthHealthy {
		t.Errorf("health got: %v, expected: %v", dashboard.Health, metricModel.HealthHealthy)
	}
	if dashboard.OverallAccuracy != 1 {
		t.Errorf("overall accuracy got: %v, expected: 1", dashboard.OverallAccuracy)
	}
	if dashboard.UnitAccuracy["expert_7"] != 1 {
		t.Errorf("unit accuracy got: %v, expected: 1", dashboard.UnitAccuracy["expert_7"])
	}
	if dashboard.ActiveAlertCount != 0 {
		t.Errorf("active alerts got: %v, expected: 0", dashboard.ActiveAlertCount)
	}
	if dashboard.VolumeTrend != 20 {
		t.Errorf("volume trend got: %v, expected: 20", dashboard.VolumeTrend)
	}
}

// An overconfident unit trips the calibration threshold: confidence
// 0.9 against realized accuracy 0.5 calibrates to 0.6.
func TestTickOverconfidenceAlert(t *testing.T) {
	ctx := context.Background()
	svc := testService(t)
	if err := svc.RegisterUnit(adapter.NoopUnit{UnitID: "expert_7"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 20; i++ {
		actual := 0.7
		if i%2 == 1 {
			actual = 0.1
		}
		record(t, svc, "expert_7", 0.7, actual, 0.9)
	}

	svc.tick(ctx)

	var calibration *alertModel.Alert
	for _, active := range svc.ActiveAlerts("") {
		if active.MetricType == metricModel.TypeConfidenceCalibration {
			a := active
			calibration = &a
		}
	}
	if calibration == nil {
		t.Fatalf("no calibration alert among: %+v", svc.ActiveAlerts(""))
	}
	if calibration.UnitID != "expert_7" {
		t.Errorf("alert unit got: %v, expected: expert_7", calibration.UnitID)
	}
	if calibration.Level != alertModel.LevelCritical {
		t.Errorf("alert level got: %v, expected: %v", calibration.Level, alertModel.LevelCritical)
	}

	dashboard, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dashboard.Health != metricModel.HealthDegraded {
		t.Errorf("health got: %v, expected: %v", dashboard.Health, metricModel.HealthDegraded)
	}
}

func TestTickSkipsColdUnits(t *testing.T) {
	ctx := context.Background()
	svc := testService(t)
	if err := svc.RegisterUnit(adapter.NoopUnit{UnitID: "expert_7"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 5; i++ {
		record(t, svc, "expert_7", 0.7, 0.1, 0.9)
	}

	svc.tick(ctx)

	if got := len(svc.ActiveAlerts("")); got != 0 {
		t.Errorf("alerts for cold unit got: %v, expected: 0", got)
	}
}

func TestRecoveredAlertResolves(t *testing.T) {
	ctx := context.Background()
	svc := testService(t)
	if err := svc.RegisterUnit(adapter.NoopUnit{UnitID: "expert_7"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	for i := 0; i < 20; i++ {
		record(t, svc, "expert_7", 0.7, 0.1, 0.9)
	}
	svc.tick(ctx)
	active := svc.ActiveAlerts("")
	if len(active) == 0 {
		t.Fatalf("degraded unit produced no alerts")
	}
	alertID := active[0].ID

	// The window holds 100 entries; fill it with healthy outcomes.
	for i := 0; i < 100; i++ {
		record(t, svc, "expert_7", 0.7, 0.7, 1.0)
	}
	svc.tick(ctx)

	if got := len(svc.ActiveAlerts("")); got != 0 {
		t.Fatalf("active alerts after recovery got: %v, expected: 0", got)
	}
	resolved, err := svc.ledger.FindByID(ctx, alertID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if resolved == nil || !resolved.Resolved || resolved.ResolvedAt == nil {
		t.Errorf("historical alert got: %+v, expected resolved with timestamp", resolved)
	}
}

func TestUnitMetrics(t *testing.T) {
	svc := testService(t)
	if err := svc.RegisterUnit(adapter.NoopUnit{UnitID: "expert_7"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 10; i++ {
		record(t, svc, "expert_7", 0.7, 0.7, 0.9)
	}

	metrics, err := svc.UnitMetrics(context.Background(), "expert_7")
	if err != nil {
		t.Fatalf("unit metrics: %v", err)
	}
	if metrics.Accuracy != 1 {
		t.Errorf("accuracy got: %v, expected: 1", metrics.Accuracy)
	}
	if metrics.PredictionVolume != 10 {
		t.Errorf("volume got: %v, expected: 10", metrics.PredictionVolume)
	}
	if metrics.Observations != 10 {
		t.Errorf("observations got: %v, expected: 10", metrics.Observations)
	}

	if _, err := svc.UnitMetrics(context.Background(), "ghost"); err == nil {
		t.Errorf("unit metrics for unregistered unit got nil error")
	}
}

func TestHistoricalMetrics(t *testing.T) {
	ctx := context.Background()
	svc := testService(t)
	if err := svc.RegisterUnit(adapter.NoopUnit{UnitID: "expert_7"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 10; i++ {
		record(t, svc, "expert_7", 0.7, 0.7, 0.9)
	}
	svc.tick(ctx)

	since := time.Now().UTC().Add(-time.Minute)
	accuracySeries, err := svc.HistoricalMetrics(ctx, metricModel.TypeAccuracy, "expert_7", since)
	if err != nil {
		t.Fatalf("historical metrics: %v", err)
	}
	if len(accuracySeries) != 1 {
		t.Fatalf("accuracy series got: %v, expected: 1", len(accuracySeries))
	}
	if accuracySeries[0].Value != 1 {
		t.Errorf("accuracy snapshot got: %v, expected: 1", accuracySeries[0].Value)
	}

	merged, err := svc.HistoricalMetrics(ctx, "", "expert_7", since)
	if err != nil {
		t.Fatalf("merged historical metrics: %v", err)
	}
	if len(merged) < len(accuracySeries) {
		t.Errorf("merged series got: %v entries, expected at least %v", len(merged), len(accuracySeries))
	}
	for i := 1; i < len(merged); i++ {
		if merged[i].CreatedAt.Before(merged[i-1].CreatedAt) {
			t.Fatalf("merged series out of time order at %d", i)
		}
	}
}

func TestUpdateThreshold(t *testing.T) {
	svc := testService(t)
	if err := svc.UpdateThreshold(metricModel.TypeAccuracy, threshold.SeverityWarning, 0.9); err != nil {
		t.Fatalf("update threshold: %v", err)
	}
	if got := svc.ThresholdLevels(metricModel.TypeAccuracy)[threshold.SeverityWarning]; got != 0.9 {
		t.Errorf("warning trigger got: %v, expected: 0.9", got)
	}
	if err := svc.UpdateThreshold("bogus", threshold.SeverityWarning, 0.5); err == nil {
		t.Errorf("update for unknown metric got nil error")
	}
}

func TestRunStopLifecycle(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := svc.Run(ctx); err == nil {
		t.Errorf("second run got nil error")
	}
	svc.Stop()
	svc.Stop() // idempotent
}

func TestRunAfterStopRestarts(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	svc.Stop()

	if err := svc.Run(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	svc.Stop()
}

// A fleet-wide degradation no single unit trips alone still raises a
// system-scoped alert from the pooled windows.
func TestTickSystemWideAlert(t *testing.T) {
	ctx := context.Background()
	svc := testService(t)
	units := []string{"expert_7", "expert_9"}
	for _, unitID := range units {
		if err := svc.RegisterUnit(adapter.NoopUnit{UnitID: unitID}); err != nil {
			t.Fatalf("register: %v", err)
		}
		// Each unit alone sits below the evaluation floor.
		for i := 0; i < 6; i++ {
			record(t, svc, unitID, 0.7, 0.1, 0.9)
		}
	}

	svc.tick(ctx)

	var system *alertModel.Alert
	for _, active := range svc.ActiveAlerts("") {
		if active.UnitID != metricModel.SystemUnit {
			t.Fatalf("unexpected per-unit alert below the evaluation floor: %+v", active)
		}
		if active.MetricType == metricModel.TypeAccuracy {
			a := active
			system = &a
		}
	}
	if system == nil {
		t.Fatalf("no system accuracy alert among: %+v", svc.ActiveAlerts(""))
	}
	if system.Level != alertModel.LevelEmergency {
		t.Errorf("alert level got: %v, expected: %v", system.Level, alertModel.LevelEmergency)
	}

	// Flush every window with healthy outcomes; the pooled values
	// recover and the system alert resolves.
	for _, unitID := range units {
		for i := 0; i < 100; i++ {
			record(t, svc, unitID, 0.7, 0.7, 1.0)
		}
	}
	svc.tick(ctx)
	if got := len(svc.ActiveAlerts("")); got != 0 {
		t.Errorf("active alerts after recovery got: %v, expected: 0", got)
	}
}

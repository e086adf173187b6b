package learning

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-driftd/driftd/internal/adapter"
	"github.com/go-driftd/driftd/internal/buffer"
	"github.com/go-driftd/driftd/internal/database"
	"github.com/go-driftd/driftd/internal/drift"
	"github.com/go-driftd/driftd/internal/learning/model"
	metricModel "github.com/go-driftd/driftd/internal/metric/model"
	"github.com/go-driftd/driftd/internal/stats"
	"go.opencensus.io/stats/view"
)

type recordingUnit struct {
	mtx   sync.Mutex
	id    string
	steps []float64
}

func (u *recordingUnit) ID() string { return u.id }

func (u *recordingUnit) Adjust(step float64, _ []float64) error {
	u.mtx.Lock()
	u.steps = append(u.steps, step)
	u.mtx.Unlock()
	return nil
}

func (u *recordingUnit) Steps() int {
	u.mtx.Lock()
	defer u.mtx.Unlock()
	return len(u.steps)
}

func testDB(t *testing.T) *database.DB {
	t.Helper()
	dir, err := ioutil.TempDir("", "learning")
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
	return db
}

func testEngine(t *testing.T, db *database.DB, buf *buffer.Buffer, opts ...Option) *Engine {
	t.Helper()
	e, err := New(db, buf, drift.NewScorer(), make(chan error, 8), opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func outcome(unitID string, predicted, actual float64) metricModel.Outcome {
	return metricModel.NewOutcome(unitID, predicted, actual, 0.8, 50, nil, time.Now().UTC())
}

// fillStable fills the window with predictions that track their actuals.
func fillStable(buf *buffer.Buffer, unitID string, n int) {
	for i := 0; i < n; i++ {
		p := 0.4
		if i%2 == 1 {
			p = 0.6
		}
		buf.Record(outcome(unitID, p, p))
	}
}

// fillShifted fills the second half of the window with a shifted
// prediction distribution and uniformly wrong results.
func fillShifted(buf *buffer.Buffer, unitID string) {
	fillStable(buf, unitID, 50)
	for i := 0; i < 50; i++ {
		p := 2.4
		if i%2 == 1 {
			p = 2.6
		}
		buf.Record(outcome(unitID, p, p-1))
	}
}

func TestRegisterUnit(t *testing.T) {
	e := testEngine(t, testDB(t), buffer.New())

	if e.Registered("unit-1") {
		t.Fatalf("unit registered before RegisterUnit")
	}
	if err := e.RegisterUnit(adapter.NoopUnit{UnitID: "unit-1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !e.Registered("unit-1") {
		t.Errorf("unit not registered")
	}
	if got := e.State("unit-1"); got != model.StateTracking {
		t.Errorf("initial state got: %v, expected: %v", got, model.StateTracking)
	}
}

func TestProcessUnregisteredUnit(t *testing.T) {
	e := testEngine(t, testDB(t), buffer.New())
	if err := e.process(context.Background(), outcome("ghost", 0.5, 0.5)); err == nil {
		t.Fatalf("process for unregistered unit got nil error")
	}
}

func TestProcessAppliesOnlineUpdate(t *testing.T) {
	buf := buffer.New()
	unit := &recordingUnit{id: "unit-1"}
	e := testEngine(t, testDB(t), buf,
		WithEvalEvery(1000),
		WithAdapter(adapter.New(adapter.WithLearningRate(0.1))),
	)
	if err := e.RegisterUnit(unit); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := e.process(context.Background(), outcome("unit-1", 0.4, 0.9)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if unit.Steps() != 1 {
		t.Fatalf("adjust calls got: %v, expected: 1", unit.Steps())
	}
}

func TestEvaluateStableUnit(t *testing.T) {
	ctx := context.Background()
	buf := buffer.New()
	e := testEngine(t, testDB(t), buf)
	fillStable(buf, "unit-1", 100)

	result := e.evaluate(ctx, "unit-1")
	if result.Drift {
		t.Fatalf("stable unit reported drift: %+v", result)
	}
	if score, ok := e.DriftScore("unit-1"); !ok || score != result.Score {
		t.Errorf("drift score got: %v/%v, expected stored result", score, ok)
	}
	events, err := e.Events(ctx, "unit-1", 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events for stable unit got: %v, expected: 0", len(events))
	}
}

func TestEvaluateSevereDriftFlagsRetraining(t *testing.T) {
	ctx := context.Background()
	buf := buffer.New()
	e := testEngine(t, testDB(t), buf)
	fillShifted(buf, "unit-1")

	result := e.evaluate(ctx, "unit-1")
	if !result.Drift {
		t.Fatalf("shifted unit reported no drift: %+v", result)
	}
	if result.Score < 0.5 {
		t.Fatalf("score got: %v, expected severe (>= 0.5)", result.Score)
	}
	if result.Type != drift.TypeSudden {
		t.Errorf("drift type got: %v, expected: %v", result.Type, drift.TypeSudden)
	}
	if got := e.State("unit-1"); got != model.StateRetrainingFlagged {
		t.Errorf("state got: %v, expected: %v", got, model.StateRetrainingFlagged)
	}

	flags, err := e.Flags(ctx)
	if err != nil {
		t.Fatalf("flags: %v", err)
	}
	if len(flags) != 1 || flags[0].UnitID != "unit-1" {
		t.Fatalf("flags got: %+v, expected one for unit-1", flags)
	}
	if flags[0].Performance.PredictionCount != 100 {
		t.Errorf("flag performance count got: %v, expected: 100", flags[0].Performance.PredictionCount)
	}
}

func TestEvaluatePersistsEventOnEdgeOnly(t *testing.T) {
	ctx := context.Background()
	buf := buffer.New()
	e := testEngine(t, testDB(t), buf)
	fillShifted(buf, "unit-1")

	e.evaluate(ctx, "unit-1")
	e.evaluate(ctx, "unit-1")

	events, err := e.Events(ctx, "unit-1", 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("events got: %v, expected: 1 (edge-triggered)", len(events))
	}
}

func TestEvaluateCountsDriftDetections(t *testing.T) {
	views := stats.Views()
	if err := view.Register(views...); err != nil {
		t.Fatalf("register views: %v", err)
	}
	defer view.Unregister(views...)

	ctx := context.Background()
	buf := buffer.New()
	e := testEngine(t, testDB(t), buf)
	fillShifted(buf, "unit-1")

	e.evaluate(ctx, "unit-1")
	e.evaluate(ctx, "unit-1") // still drifting, no second edge

	rows, err := view.RetrieveData("driftd/drift_detections_count")
	if err != nil {
		t.Fatalf("retrieve view data: %v", err)
	}
	var total int64
	for _, row := range rows {
		total += row.Data.(*view.CountData).Value
	}
	if total != 1 {
		t.Errorf("drift detections got: %v, expected: 1 (edge-triggered)", total)
	}
}

func TestClearRetrainFlag(t *testing.T) {
	ctx := context.Background()
	buf := buffer.New()
	e := testEngine(t, testDB(t), buf)
	fillShifted(buf, "unit-1")

	e.evaluate(ctx, "unit-1")
	if got := e.State("unit-1"); got != model.StateRetrainingFlagged {
		t.Fatalf("state got: %v, expected flagged", got)
	}

	if err := e.ClearRetrainFlag(ctx, "unit-1"); err != nil {
		t.Fatalf("clear flag: %v", err)
	}
	if got := e.State("unit-1"); got != model.StateAdapting {
		t.Errorf("state after clear got: %v, expected: %v (drift still present)", got, model.StateAdapting)
	}
	flags, err := e.Flags(ctx)
	if err != nil {
		t.Fatalf("flags: %v", err)
	}
	if len(flags) != 0 {
		t.Errorf("flags after clear got: %v, expected: 0", len(flags))
	}
}

func TestHydrateRestoresFlaggedState(t *testing.T) {
	ctx := context.Background()
	buf := buffer.New()
	db := testDB(t)
	e := testEngine(t, db, buf)
	fillShifted(buf, "unit-1")
	e.evaluate(ctx, "unit-1")

	restored, err := New(db, buf, drift.NewScorer(), make(chan error, 1))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := restored.hydrate(ctx); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if got := restored.State("unit-1"); got != model.StateRetrainingFlagged {
		t.Errorf("restored state got: %v, expected flagged", got)
	}
}

func TestCollectProcessesThroughQueues(t *testing.T) {
	buf := buffer.New()
	unit := &recordingUnit{id: "unit-1"}
	e := testEngine(t, testDB(t), buf, WithEvalEvery(1000))
	if err := e.RegisterUnit(unit); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer e.Stop()

	for i := 0; i < 5; i++ {
		if err := e.Collect(outcome("unit-1", 0.5, 0.7)); err != nil {
			t.Fatalf("collect: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		if unit.Steps() == 5 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("adjust calls got: %v, expected: 5", unit.Steps())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Package learning runs the per-unit continuous learning loop: outcomes
// are fanned out to one queue per unit, each consumed by workers that
// apply online corrections, re-evaluate drift on a fixed cadence and
// escalate severe drift into a retrain flag.
package learning

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/go-driftd/driftd/internal/adapter"
	"github.com/go-driftd/driftd/internal/buffer"
	"github.com/go-driftd/driftd/internal/database"
	"github.com/go-driftd/driftd/internal/drift"
	learningDb "github.com/go-driftd/driftd/internal/learning/database"
	"github.com/go-driftd/driftd/internal/learning/model"
	"github.com/go-driftd/driftd/internal/logging"
	metricDb "github.com/go-driftd/driftd/internal/metric/database"
	metricModel "github.com/go-driftd/driftd/internal/metric/model"
	"github.com/go-driftd/driftd/internal/stats"
	"github.com/go-driftd/driftd/pkg/iqueue"
	ocstats "go.opencensus.io/stats"
	"go.opencensus.io/tag"
)

// ProvideFn is the contract for returning the Engine instance.
type ProvideFn func(chan<- error) (*Engine, error)

type Options struct {
	evalEvery   int
	severeScore float64
	workerNum   int
}

type Option func(*Engine)

func WithEvalEvery(n int) Option {
	return func(e *Engine) {
		e.opts.evalEvery = n
	}
}

func WithSevereScore(score float64) Option {
	return func(e *Engine) {
		e.opts.severeScore = score
	}
}

func WithWorkerNum(n int) Option {
	return func(e *Engine) {
		e.opts.workerNum = n
	}
}

func WithAdapter(a *adapter.Adapter) Option {
	return func(e *Engine) {
		e.adapter = a
	}
}

// WithAdapterOptions configures the engine-owned adapter. Ignored when
// a full adapter is injected with WithAdapter.
func WithAdapterOptions(opts ...adapter.Option) Option {
	return func(e *Engine) {
		e.adapterOpts = append(e.adapterOpts, opts...)
	}
}

func New(
	db *database.DB,
	buf *buffer.Buffer,
	scorer *drift.Scorer,
	shutdownCh chan<- error,
	opts ...Option,
) (*Engine, error) {
	if buf == nil {
		return nil, fmt.Errorf("buffer instance is not created")
	}
	if scorer == nil {
		return nil, fmt.Errorf("scorer instance is not created")
	}

	e := &Engine{
		opts:       Options{evalEvery: 10, severeScore: 0.5, workerNum: 1},
		learningDb: learningDb.New(db),
		metricDb:   metricDb.New(db),
		buf:        buf,
		scorer:     scorer,
		shutDownCh: shutdownCh,
		collectCh:  make(chan metricModel.Outcome, 1),
		queue:      map[string]*iqueue.Queue{},
		units:      map[string]adapter.AdaptableUnit{},
		states:     map[string]model.State{},
		scores:     map[string]float64{},
		drifting:   map[string]bool{},
		counters:   map[string]uint64{},
	}
	for _, f := range opts {
		f(e)
	}
	if e.adapter == nil {
		e.adapter = adapter.New(append(e.adapterOpts, adapter.WithPerformanceFn(e.appendPerformance))...)
	}
	return e, nil
}

type Engine struct {
	mtx sync.RWMutex

	opts       Options
	learningDb *learningDb.DB
	metricDb   *metricDb.DB
	buf         *buffer.Buffer
	scorer      *drift.Scorer
	adapter     *adapter.Adapter
	adapterOpts []adapter.Option

	// One queue per unit so outcomes stay ordered within a unit
	queue      map[string]*iqueue.Queue
	collectCh  chan metricModel.Outcome
	shutDownCh chan<- error

	units    map[string]adapter.AdaptableUnit
	states   map[string]model.State
	scores   map[string]float64
	drifting map[string]bool
	counters map[string]uint64

	closed bool
	cancel func()
}

// Run starts the collector and reloads persisted retrain flags.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	go e.collector(ctx)

	if err := e.hydrate(ctx); err != nil {
		return fmt.Errorf("can not start learning engine: %w", err)
	}
	return nil
}

func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// RegisterUnit makes the unit known to the engine. Registering an
// existing ID replaces its adaptable handle and keeps its state.
func (e *Engine) RegisterUnit(unit adapter.AdaptableUnit) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.closed {
		return fmt.Errorf("error register unit, shutting down")
	}
	e.units[unit.ID()] = unit
	if _, ok := e.states[unit.ID()]; !ok {
		e.states[unit.ID()] = model.StateTracking
	}
	return nil
}

func (e *Engine) Registered(unitID string) bool {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	_, ok := e.units[unitID]
	return ok
}

func (e *Engine) Units() []string {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	units := make([]string, 0, len(e.units))
	for unitID := range e.units {
		units = append(units, unitID)
	}
	return units
}

// Collect feeds outcomes into the per-unit processing queues.
func (e *Engine) Collect(outcomes ...metricModel.Outcome) error {
	e.mtx.RLock()
	if e.closed {
		e.mtx.RUnlock()
		return fmt.Errorf("error send to collect, shutting down")
	}
	for i := range outcomes {
		e.collectCh <- outcomes[i]
	}
	e.mtx.RUnlock()
	return nil
}

// DriftScore returns the last evaluated score for the unit; false until
// the first evaluation.
func (e *Engine) DriftScore(unitID string) (float64, bool) {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	score, ok := e.scores[unitID]
	return score, ok
}

func (e *Engine) State(unitID string) model.State {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	if state, ok := e.states[unitID]; ok {
		return state
	}
	return model.StateTracking
}

func (e *Engine) LearningRate(unitID string) float64 {
	return e.adapter.LearningRate(unitID)
}

func (e *Engine) Events(ctx context.Context, unitID string, limit int) ([]model.Event, error) {
	return e.learningDb.FindEventsByUnit(ctx, unitID, limit)
}

func (e *Engine) Flags(ctx context.Context) ([]model.RetrainFlag, error) {
	return e.learningDb.FindFlags(ctx)
}

// ClearRetrainFlag acknowledges a completed retrain: the flag is
// removed, the state drops back to tracking and any boosted learning
// rate is reset.
func (e *Engine) ClearRetrainFlag(ctx context.Context, unitID string) error {
	if err := e.learningDb.DeleteFlag(ctx, unitID); err != nil {
		return fmt.Errorf("unable delete retrain flag for %s: %w", unitID, err)
	}
	e.mtx.Lock()
	if e.drifting[unitID] {
		e.states[unitID] = model.StateAdapting
	} else {
		e.states[unitID] = model.StateTracking
	}
	e.mtx.Unlock()
	e.adapter.ResetLearningRate(unitID)
	return nil
}

// hydrate restores flagged states after a restart.
func (e *Engine) hydrate(ctx context.Context) error {
	flags, err := e.learningDb.FindFlags(ctx)
	if err != nil {
		return fmt.Errorf("error fetching retrain flags: %w", err)
	}
	e.mtx.Lock()
	for _, flag := range flags {
		e.states[flag.UnitID] = model.StateRetrainingFlagged
	}
	e.mtx.Unlock()
	return nil
}

func (e *Engine) process(ctx context.Context, outcome metricModel.Outcome) error {
	e.mtx.RLock()
	unit, ok := e.units[outcome.UnitID]
	e.mtx.RUnlock()
	if !ok {
		return fmt.Errorf("outcome for unregistered unit %q", outcome.UnitID)
	}

	e.mtx.Lock()
	e.counters[outcome.UnitID]++
	evalDue := e.counters[outcome.UnitID]%uint64(e.opts.evalEvery) == 0
	score := e.scores[outcome.UnitID]
	e.mtx.Unlock()

	if evalDue {
		score = e.evaluate(ctx, outcome.UnitID).Score
	}

	if err := e.adapter.Apply(ctx, unit, outcome, score); err != nil {
		return fmt.Errorf("unable apply online update: %w", err)
	}
	return nil
}

// evaluate rescores the unit's window and advances the state machine.
// Detection events persist only on the stable-to-drift edge; severe
// scores raise a retrain flag with a performance snapshot attached.
func (e *Engine) evaluate(ctx context.Context, unitID string) drift.Result {
	logger := logging.FromContext(ctx)

	predictions, actuals, features := e.buf.Window(unitID)
	result := e.scorer.Score(predictions, actuals, features)

	e.mtx.Lock()
	previous := e.drifting[unitID]
	e.drifting[unitID] = result.Drift
	e.scores[unitID] = result.Score
	flagged := e.states[unitID] == model.StateRetrainingFlagged
	if !flagged {
		if result.Drift {
			e.states[unitID] = model.StateAdapting
		} else {
			e.states[unitID] = model.StateTracking
		}
	}
	e.mtx.Unlock()

	if result.Drift && !previous {
		logger.Infof("drift detected for %s: score=%.3f type=%s", unitID, result.Score, result.Type)
		_ = ocstats.RecordWithTags(ctx,
			[]tag.Mutator{tag.Upsert(stats.KeyUnit, unitID)},
			stats.MDriftDetections.M(1),
		)
		if err := e.learningDb.AppendEvent(ctx, model.NewEvent(unitID, result)); err != nil {
			logger.Errorf("unable store drift event for %s: %v", unitID, err)
		}
	}

	if result.Score >= e.opts.severeScore && !flagged {
		flag := model.NewRetrainFlag(unitID, result.Recommendation, result.Score, e.performance(unitID))
		if err := e.learningDb.StoreFlag(ctx, flag); err != nil {
			logger.Errorf("unable store retrain flag for %s: %v", unitID, err)
		} else {
			e.mtx.Lock()
			e.states[unitID] = model.StateRetrainingFlagged
			e.mtx.Unlock()
			logger.Infof("unit %s flagged for retraining: score=%.3f", unitID, result.Score)
		}
	}

	return result
}

// performance snapshots the unit's rolling window into an audit row.
func (e *Engine) performance(unitID string) metricModel.Performance {
	perf := metricModel.NewPerformance(unitID)
	perf.Accuracy = e.buf.Accuracy(unitID)
	perf.Calibration = e.buf.Calibration(unitID)
	perf.PredictionCount = e.buf.Count(unitID)
	perf.CorrectCount = uint64(perf.Accuracy * float64(e.buf.Len(unitID)))

	predictions, actuals, _ := e.buf.Window(unitID)
	perf.BrierScore = brierScore(predictions, actuals)
	perf.LogLoss = logLoss(predictions, actuals)

	e.mtx.RLock()
	perf.DriftScore = e.scores[unitID]
	e.mtx.RUnlock()
	return perf
}

func (e *Engine) appendPerformance(ctx context.Context, unitID string) error {
	return e.metricDb.AppendPerformance(ctx, e.performance(unitID))
}

func (e *Engine) collector(ctx context.Context) {
	defer func() {
		e.shutDownCh <- e.drain(context.Background())
	}()
	for {
		select {
		case in := <-e.collectCh:
			q, ok := e.queue[in.UnitID]
			if !ok {
				queue := iqueue.New()
				go queue.Loop()
				e.worker(ctx, queue, e.opts.workerNum)
				e.queue[in.UnitID] = queue
				q = queue
			}
			q.Send(in)
		case <-ctx.Done():
			e.mtx.Lock()
			e.closed = true
			e.mtx.Unlock()
			return
		}
	}
}

func (e *Engine) worker(ctx context.Context, queue *iqueue.Queue, num int) {
	for i := 0; i < num; i++ {
		go e.receive(ctx, queue)
	}
}

func (e *Engine) receive(ctx context.Context, q *iqueue.Queue) {
	logger := logging.FromContext(ctx)
	for {
		select {
		case recv := <-q.Receive():
			if err := e.process(ctx, recv.(metricModel.Outcome)); err != nil {
				logger.Errorf("unable processed outcome: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// drain empties every per-unit queue before shutdown completes.
func (e *Engine) drain(ctx context.Context) error {
	for unitID, q := range e.queue {
		for {
			front := q.Queue().Front()
			if front == nil {
				break
			}
			if err := e.process(ctx, front.Value.(metricModel.Outcome)); err != nil {
				return fmt.Errorf("learning shutdown: unable processed outcome for %s: %w", unitID, err)
			}
			q.Queue().Remove(front)
		}
	}
	return nil
}

func brierScore(predictions, actuals []float64) float64 {
	if len(predictions) == 0 {
		return 0
	}
	var sum float64
	for i := range predictions {
		d := predictions[i] - actuals[i]
		sum += d * d
	}
	return sum / float64(len(predictions))
}

const probEpsilon = 1e-9

func logLoss(predictions, actuals []float64) float64 {
	if len(predictions) == 0 {
		return 0
	}
	var sum float64
	for i := range predictions {
		p := math.Min(1-probEpsilon, math.Max(probEpsilon, predictions[i]))
		sum += actuals[i]*math.Log(p) + (1-actuals[i])*math.Log(1-p)
	}
	return -sum / float64(len(predictions))
}

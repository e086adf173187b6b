// Package monitor owns the evaluation loop: every tick it snapshots the
// rolling windows into persistent series, walks the threshold table,
// opens and resolves alerts and rebuilds the dashboard.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-driftd/driftd/internal/adapter"
	"github.com/go-driftd/driftd/internal/alert"
	alertModel "github.com/go-driftd/driftd/internal/alert/model"
	"github.com/go-driftd/driftd/internal/buffer"
	"github.com/go-driftd/driftd/internal/database"
	"github.com/go-driftd/driftd/internal/learning"
	learningModel "github.com/go-driftd/driftd/internal/learning/model"
	"github.com/go-driftd/driftd/internal/logging"
	metricDb "github.com/go-driftd/driftd/internal/metric/database"
	metricModel "github.com/go-driftd/driftd/internal/metric/model"
	"github.com/go-driftd/driftd/internal/stats"
	"github.com/go-driftd/driftd/internal/threshold"
	"github.com/go-driftd/driftd/pkg/rworker"
	"github.com/valyala/fastrand"
	ocstats "go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/sync/errgroup"
)

// ProvideFn is the contract for returning the Service instance.
type ProvideFn func(*learning.Engine, *alert.Ledger, chan<- error) (*Service, error)

// Publisher pushes the freshly built dashboard to an external cache.
type Publisher interface {
	Publish(ctx context.Context, dashboard metricModel.Dashboard) error
}

// checkedMetrics are evaluated against the threshold table each cycle.
var checkedMetrics = []metricModel.Type{
	metricModel.TypeAccuracy,
	metricModel.TypeConfidenceCalibration,
	metricModel.TypeErrorRate,
	metricModel.TypeResponseTime,
}

type Options struct {
	tickInterval   time.Duration
	persistTimeout time.Duration
	retentionTime  time.Duration
	retentionEvery time.Duration
	minEvaluations int
	maxChecks      int
}

type Option func(*Service)

func WithTickInterval(d time.Duration) Option {
	return func(s *Service) {
		s.opts.tickInterval = d
	}
}

func WithPersistTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.opts.persistTimeout = d
	}
}

func WithRetentionTime(d time.Duration) Option {
	return func(s *Service) {
		s.opts.retentionTime = d
	}
}

func WithRetentionEvery(d time.Duration) Option {
	return func(s *Service) {
		s.opts.retentionEvery = d
	}
}

func WithMinEvaluations(n int) Option {
	return func(s *Service) {
		s.opts.minEvaluations = n
	}
}

func WithMaxConcurrentChecks(n int) Option {
	return func(s *Service) {
		s.opts.maxChecks = n
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func New(
	db *database.DB,
	buf *buffer.Buffer,
	engine *learning.Engine,
	ledger *alert.Ledger,
	table *threshold.Table,
	shutdownCh chan<- error,
	opts ...Option,
) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("learning engine instance is not created")
	}
	if ledger == nil {
		return nil, fmt.Errorf("alert ledger instance is not created")
	}

	s := &Service{
		opts: Options{
			tickInterval:   10 * time.Second,
			persistTimeout: 5 * time.Second,
			retentionTime:  7 * 24 * time.Hour,
			retentionEvery: time.Hour,
			minEvaluations: 10,
			maxChecks:      16,
		},
		metricDb:   metricDb.New(db),
		buf:        buf,
		engine:     engine,
		ledger:     ledger,
		table:      table,
		shutDownCh: shutdownCh,
	}
	for _, f := range opts {
		f(s)
	}
	return s, nil
}

type Service struct {
	mtx sync.RWMutex

	opts       Options
	metricDb   *metricDb.DB
	buf        *buffer.Buffer
	engine     *learning.Engine
	ledger     *alert.Ledger
	table      *threshold.Table
	publisher  Publisher
	shutDownCh chan<- error

	dashboard  *metricModel.Dashboard
	lastVolume uint64
	running    bool
	cancel     func()
	doneCh     chan struct{}
}

// Run starts the evaluation loop. Calling Run on a running service is
// an error; a stopped service can be started again.
func (s *Service) Run(ctx context.Context) error {
	s.mtx.Lock()
	if s.running {
		s.mtx.Unlock()
		return fmt.Errorf("monitor already running")
	}
	s.running = true
	s.mtx.Unlock()

	if err := s.ledger.Hydrate(ctx); err != nil {
		s.mtx.Lock()
		s.running = false
		s.mtx.Unlock()
		return fmt.Errorf("can not start monitor: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	doneCh := make(chan struct{})
	s.mtx.Lock()
	s.cancel = cancel
	s.doneCh = doneCh
	s.mtx.Unlock()
	go s.loop(ctx, doneCh)
	return nil
}

// Stop cancels the loop and waits for the final cycle, giving up after
// one tick interval plus the persistence timeout so a stuck store
// cannot wedge shutdown.
func (s *Service) Stop() {
	s.mtx.Lock()
	if !s.running {
		s.mtx.Unlock()
		return
	}
	s.running = false
	cancel, doneCh := s.cancel, s.doneCh
	s.mtx.Unlock()

	cancel()
	select {
	case <-doneCh:
	case <-time.After(s.opts.tickInterval + s.opts.persistTimeout):
	}
}

// RegisterUnit makes a unit known to the monitor and the learning
// engine.
func (s *Service) RegisterUnit(unit adapter.AdaptableUnit) error {
	return s.engine.RegisterUnit(unit)
}

// RecordOutcome appends one prediction outcome to the rolling window
// and hands it to the learning engine. The caller must have registered
// the unit first.
func (s *Service) RecordOutcome(ctx context.Context, outcome metricModel.Outcome) error {
	if !s.engine.Registered(outcome.UnitID) {
		return &UnregisteredUnitError{UnitID: outcome.UnitID}
	}
	if outcome.CreatedAt.IsZero() {
		outcome.CreatedAt = time.Now().UTC()
	}

	s.buf.Record(outcome)
	_ = ocstats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(stats.KeyUnit, outcome.UnitID)},
		stats.MOutcomes.M(1),
	)
	if err := s.engine.Collect(outcome); err != nil {
		return fmt.Errorf("unable collect outcome: %w", err)
	}
	return nil
}

// Dashboard returns the last computed view. Before the first completed
// cycle it falls back to the persisted dashboard from a previous run,
// then to ErrNotReady.
func (s *Service) Dashboard(ctx context.Context) (metricModel.Dashboard, error) {
	s.mtx.RLock()
	dashboard := s.dashboard
	s.mtx.RUnlock()
	if dashboard != nil {
		return *dashboard, nil
	}

	stored, err := s.metricDb.LatestDashboard(ctx)
	if err != nil {
		return metricModel.Dashboard{}, fmt.Errorf("unable fetch dashboard: %w", err)
	}
	if stored == nil {
		return metricModel.Dashboard{}, ErrNotReady
	}
	return *stored, nil
}

// UnitMetrics is the current point-in-time view of one unit.
type UnitMetrics struct {
	UnitID           string              `json:"unitId"`
	Accuracy         float64             `json:"accuracy"`
	Calibration      float64             `json:"calibration"`
	ErrorRate        float64             `json:"errorRate"`
	ResponseTime     float64             `json:"responseTime"`
	PredictionVolume uint64              `json:"predictionVolume"`
	DriftScore       float64             `json:"driftScore"`
	State            learningModel.State `json:"state"`
	LearningRate     float64             `json:"learningRate"`
	Observations     int                 `json:"observations"`
}

func (s *Service) UnitMetrics(_ context.Context, unitID string) (UnitMetrics, error) {
	if !s.engine.Registered(unitID) {
		return UnitMetrics{}, &UnregisteredUnitError{UnitID: unitID}
	}
	metrics := UnitMetrics{
		UnitID:           unitID,
		Accuracy:         s.buf.Accuracy(unitID),
		Calibration:      s.buf.Calibration(unitID),
		ErrorRate:        s.buf.Average(metricModel.TypeErrorRate, unitID),
		ResponseTime:     s.buf.Average(metricModel.TypeResponseTime, unitID),
		PredictionVolume: s.buf.Count(unitID),
		State:            s.engine.State(unitID),
		LearningRate:     s.engine.LearningRate(unitID),
		Observations:     s.buf.Len(unitID),
	}
	if score, ok := s.engine.DriftScore(unitID); ok {
		metrics.DriftScore = score
	}
	return metrics, nil
}

func (s *Service) ActiveAlerts(level alertModel.Level) []alertModel.Alert {
	return s.ledger.Active(level)
}

// HistoricalMetrics returns persisted snapshots since the given time.
// An empty metric type fans out over every series and merges the
// results in time order.
func (s *Service) HistoricalMetrics(ctx context.Context, metricType metricModel.Type, unitID string, since time.Time) ([]metricModel.Snapshot, error) {
	if metricType != "" {
		return s.metricDb.FindSince(ctx, metricType, unitID, since)
	}

	types := []metricModel.Type{
		metricModel.TypeAccuracy,
		metricModel.TypeConfidenceCalibration,
		metricModel.TypeErrorRate,
		metricModel.TypeDriftScore,
		metricModel.TypeResponseTime,
		metricModel.TypePredictionVolume,
	}

	var mtx sync.Mutex
	var merged []metricModel.Snapshot
	group, groupCtx := errgroup.WithContext(ctx)
	for _, mt := range types {
		mt := mt
		group.Go(func() error {
			snapshots, err := s.metricDb.FindSince(groupCtx, mt, unitID, since)
			if err != nil {
				return fmt.Errorf("unable fetch %s series: %w", mt, err)
			}
			mtx.Lock()
			merged = append(merged, snapshots...)
			mtx.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged, nil
}

func (s *Service) UpdateThreshold(metricType metricModel.Type, severity threshold.Severity, value float64) error {
	return s.table.Update(metricType, severity, value)
}

func (s *Service) ThresholdLevels(metricType metricModel.Type) map[threshold.Severity]float64 {
	return s.table.Levels(metricType)
}

func (s *Service) AddAlertCallback(fn alert.CallbackFn) {
	s.ledger.AddCallback(fn)
}

func (s *Service) AddAlertSink(sink alert.Sink) {
	s.ledger.AddSink(sink)
}

func (s *Service) ClearRetrainFlag(ctx context.Context, unitID string) error {
	return s.engine.ClearRetrainFlag(ctx, unitID)
}

func (s *Service) RetrainFlags(ctx context.Context) ([]learningModel.RetrainFlag, error) {
	return s.engine.Flags(ctx)
}

func (s *Service) DriftEvents(ctx context.Context, unitID string, limit int) ([]learningModel.Event, error) {
	return s.engine.Events(ctx, unitID, limit)
}

func (s *Service) loop(ctx context.Context, doneCh chan struct{}) {
	defer close(doneCh)
	defer func() {
		s.shutDownCh <- nil
	}()

	ticker := time.NewTicker(s.opts.tickInterval)
	defer ticker.Stop()
	retention := time.NewTicker(s.opts.retentionEvery)
	defer retention.Stop()

	// Small random delay decorrelates persistence bursts across
	// instances sharing a host.
	jitterMax := uint32(s.opts.tickInterval / time.Millisecond / 10)

	for {
		select {
		case <-ticker.C:
			if jitterMax > 0 {
				time.Sleep(time.Duration(fastrand.Uint32n(jitterMax)) * time.Millisecond)
			}
			s.tick(ctx)
		case <-retention.C:
			s.sweep(ctx)
		case <-ctx.Done():
			// Final cycle so the freshest window state survives.
			s.tick(context.Background())
			return
		}
	}
}

// tick runs one full evaluation cycle. A panic in a cycle is contained
// so one poisoned evaluation cannot take the loop down.
func (s *Service) tick(ctx context.Context) {
	logger := logging.FromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("monitor cycle panic: %v", r)
		}
	}()
	started := time.Now()

	units := s.engine.Units()
	snapshots := s.collect(units)

	persistCtx, cancel := context.WithTimeout(ctx, s.opts.persistTimeout)
	if err := s.metricDb.AppendMany(persistCtx, snapshots); err != nil {
		logger.Errorf("unable persist snapshots: %v", err)
	}
	cancel()

	s.runChecks(ctx, units)
	s.resolveRecovered(ctx)

	volume := s.buf.Count(metricModel.SystemUnit)
	s.mtx.Lock()
	delta := volume - s.lastVolume
	s.lastVolume = volume
	s.mtx.Unlock()

	dashboard := s.buildDashboard(delta)
	if err := s.metricDb.StoreDashboard(ctx, dashboard); err != nil {
		logger.Errorf("unable persist dashboard: %v", err)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, dashboard); err != nil {
			logger.Errorf("unable publish dashboard: %v", err)
		}
	}
	s.mtx.Lock()
	s.dashboard = &dashboard
	s.mtx.Unlock()

	ocstats.Record(ctx, stats.MTickLatency.M(float64(time.Since(started))/float64(time.Millisecond)))
}

// collect snapshots every live series, per unit plus the system-wide
// aggregate.
func (s *Service) collect(units []string) []metricModel.Snapshot {
	var snapshots []metricModel.Snapshot
	scopes := append([]string{metricModel.SystemUnit}, units...)
	for _, unitID := range scopes {
		if unitID != metricModel.SystemUnit && s.buf.Len(unitID) == 0 {
			continue
		}
		for _, metricType := range checkedMetrics {
			snapshots = append(snapshots, metricModel.NewSnapshot(unitID, metricType, s.buf.Average(metricType, unitID), nil))
		}
		snapshots = append(snapshots, metricModel.NewSnapshot(unitID, metricModel.TypePredictionVolume, float64(s.buf.Count(unitID)), nil))
		if unitID == metricModel.SystemUnit {
			continue
		}
		if score, ok := s.engine.DriftScore(unitID); ok {
			snapshots = append(snapshots, metricModel.NewSnapshot(unitID, metricModel.TypeDriftScore, score, nil))
		}
	}
	return snapshots
}

// runChecks fans threshold evaluations out over a bounded worker pool,
// covering every unit plus the pooled system-wide aggregate. Scopes
// below the evaluation floor are skipped so cold-start neutral values
// never page anyone.
func (s *Service) runChecks(ctx context.Context, units []string) {
	logger := logging.FromContext(ctx)

	var wg sync.WaitGroup
	rate := make(chan struct{}, s.opts.maxChecks)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for err := range errCh {
			logger.Errorf("threshold check error: %v", err)
		}
	}()

	scopes := append([]string{metricModel.SystemUnit}, units...)
	for _, unitID := range scopes {
		if s.buf.Len(unitID) < s.opts.minEvaluations {
			continue
		}
		unitID := unitID
		for _, metricType := range checkedMetrics {
			metricType := metricType
			rworker.Job(&wg, func() error {
				return s.check(ctx, unitID, metricType, s.buf.Average(metricType, unitID))
			}, rate, errCh)
		}
		if unitID == metricModel.SystemUnit {
			continue
		}
		if score, ok := s.engine.DriftScore(unitID); ok {
			rworker.Job(&wg, func() error {
				return s.check(ctx, unitID, metricModel.TypeDriftScore, score)
			}, rate, errCh)
		}
	}
	wg.Wait()
	close(errCh)
	<-done
}

// check opens an alert when the value breaches its worst threshold.
func (s *Service) check(ctx context.Context, unitID string, metricType metricModel.Type, value float64) error {
	severity, trigger, breached := s.table.Check(metricType, value)
	if !breached || severity == threshold.SeverityInfo {
		return nil
	}

	scope := fmt.Sprintf("unit %s", unitID)
	if unitID == metricModel.SystemUnit {
		scope = "the system"
	}
	message := fmt.Sprintf("%s for %s at %.3f breaches the %s threshold %.3f", metricType, scope, value, severity, trigger)
	created, isNew := s.ledger.Create(ctx, severityLevel(severity), metricType, unitID, message, value, trigger)
	if isNew {
		_ = ocstats.RecordWithTags(ctx,
			[]tag.Mutator{tag.Upsert(stats.KeyLevel, string(created.Level))},
			stats.MAlerts.M(1),
		)
	}
	return nil
}

// resolveRecovered closes active alerts whose metric moved back inside
// its bounds.
func (s *Service) resolveRecovered(ctx context.Context) {
	logger := logging.FromContext(ctx)
	for _, active := range s.ledger.Active("") {
		if s.buf.Len(active.UnitID) < s.opts.minEvaluations {
			continue
		}
		var value float64
		if active.MetricType == metricModel.TypeDriftScore {
			score, ok := s.engine.DriftScore(active.UnitID)
			if !ok {
				continue
			}
			value = score
		} else {
			value = s.buf.Average(active.MetricType, active.UnitID)
		}
		if _, _, breached := s.table.Check(active.MetricType, value); breached {
			continue
		}
		if err := s.ledger.Resolve(ctx, active.ID); err != nil {
			logger.Errorf("unable resolve alert %s: %v", active.ID, err)
		}
	}
}

// sweep drops series rows past the retention horizon.
func (s *Service) sweep(ctx context.Context) {
	logger := logging.FromContext(ctx)
	if err := s.metricDb.DeleteOutdated(ctx, time.Now().UTC().Add(-s.opts.retentionTime)); err != nil {
		logger.Errorf("unable sweep outdated snapshots: %v", err)
	}
}

func severityLevel(severity threshold.Severity) alertModel.Level {
	switch severity {
	case threshold.SeverityEmergency:
		return alertModel.LevelEmergency
	case threshold.SeverityCritical:
		return alertModel.LevelCritical
	case threshold.SeverityWarning:
		return alertModel.LevelWarning
	default:
		return alertModel.LevelInfo
	}
}

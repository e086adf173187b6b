// Package alert tracks the open/resolved alert lifecycle and fans
// created alerts out to registered callbacks and sinks.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	alertDb "github.com/go-driftd/driftd/internal/alert/database"
	"github.com/go-driftd/driftd/internal/alert/model"
	"github.com/go-driftd/driftd/internal/database"
	"github.com/go-driftd/driftd/internal/logging"
	metricModel "github.com/go-driftd/driftd/internal/metric/model"
)

// ErrNoAlert is returned when resolving an ID that is not active.
var ErrNoAlert = errors.New("no active alert with that id")

// ProvideFn is the contract for returning the Ledger instance.
type ProvideFn func(ctx context.Context) (*Ledger, error)

// CallbackFn receives every newly created alert. Panics are contained.
type CallbackFn func(model.Alert)

// Sink is the explicit notification interface; a failing sink is logged
// and never aborts alert creation or the other sinks.
type Sink interface {
	Deliver(ctx context.Context, alert model.Alert) error
}

type Options struct {
	bucketDuration time.Duration
	allowNotify    bool
}

type Option func(*Ledger)

func WithBucketDuration(d time.Duration) Option {
	return func(l *Ledger) {
		l.opts.bucketDuration = d
	}
}

func WithAllowNotify(allow bool) Option {
	return func(l *Ledger) {
		l.opts.allowNotify = allow
	}
}

func NewLedger(db *database.DB, opts ...Option) *Ledger {
	l := &Ledger{
		opts:    Options{bucketDuration: 10 * time.Minute, allowNotify: true},
		alertDb: alertDb.New(db),
		active:  map[string]model.Alert{},
	}
	for _, f := range opts {
		f(l)
	}
	return l
}

type Ledger struct {
	mtx       sync.RWMutex
	opts      Options
	alertDb   *alertDb.DB
	active    map[string]model.Alert
	callbacks []CallbackFn
	sinks     []Sink
}

// Hydrate loads the persisted active set after a restart.
func (l *Ledger) Hydrate(ctx context.Context) error {
	alerts, err := l.alertDb.FindActive(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable fetch active alerts: %w", err)
	}
	l.mtx.Lock()
	for _, alert := range alerts {
		l.active[alert.ID] = alert
	}
	l.mtx.Unlock()
	return nil
}

// Create opens an alert, persists it and notifies every callback and
// sink. A second trip of the same (metric, unit, bucket) refreshes the
// stored value instead of opening a duplicate; the bool reports whether
// a new alert was created.
func (l *Ledger) Create(
	ctx context.Context,
	level model.Level,
	metricType metricModel.Type,
	unitID, message string,
	value, trigger float64,
) (model.Alert, bool) {
	logger := logging.FromContext(ctx)

	alert := model.NewAlert(level, metricType, unitID, message, value, trigger, l.opts.bucketDuration)

	l.mtx.Lock()
	if existing, ok := l.active[alert.ID]; ok {
		existing.Value = value
		l.active[alert.ID] = existing
		l.mtx.Unlock()
		if err := l.alertDb.StoreActive(ctx, existing); err != nil {
			logger.Errorf("unable refresh alert %s: %v", existing.ID, err)
		}
		return existing, false
	}
	l.active[alert.ID] = alert
	l.mtx.Unlock()

	if err := l.alertDb.StoreActive(ctx, alert); err != nil {
		logger.Errorf("unable store alert %s: %v", alert.ID, err)
	}

	l.notify(ctx, alert)
	return alert, true
}

// Resolve stamps the alert and moves it to the historical ledger.
func (l *Ledger) Resolve(ctx context.Context, alertID string) error {
	l.mtx.Lock()
	alert, ok := l.active[alertID]
	if !ok {
		l.mtx.Unlock()
		return ErrNoAlert
	}
	delete(l.active, alertID)
	l.mtx.Unlock()

	if err := l.alertDb.Resolve(ctx, alert, time.Now().UTC()); err != nil {
		return fmt.Errorf("unable resolve alert %s: %w", alertID, err)
	}
	return nil
}

// Active returns open alerts most recent first, optionally filtered by
// level.
func (l *Ledger) Active(level model.Level) []model.Alert {
	l.mtx.RLock()
	alerts := make([]model.Alert, 0, len(l.active))
	for _, alert := range l.active {
		if level != "" && alert.Level != level {
			continue
		}
		alerts = append(alerts, alert)
	}
	l.mtx.RUnlock()

	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	return alerts
}

// Counts reports the number of active alerts per level.
func (l *Ledger) Counts() map[model.Level]int {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	counts := map[model.Level]int{}
	for _, alert := range l.active {
		counts[alert.Level]++
	}
	return counts
}

func (l *Ledger) History(ctx context.Context, filter alertDb.FilterFn) ([]model.Alert, error) {
	return l.alertDb.FindHistory(ctx, filter)
}

func (l *Ledger) FindByID(ctx context.Context, alertID string) (*model.Alert, error) {
	return l.alertDb.FindByID(ctx, alertID)
}

func (l *Ledger) AddCallback(fn CallbackFn) {
	l.mtx.Lock()
	l.callbacks = append(l.callbacks, fn)
	l.mtx.Unlock()
}

func (l *Ledger) AddSink(s Sink) {
	l.mtx.Lock()
	l.sinks = append(l.sinks, s)
	l.mtx.Unlock()
}

func (l *Ledger) notify(ctx context.Context, alert model.Alert) {
	if !l.opts.allowNotify {
		return
	}
	logger := logging.FromContext(ctx)

	l.mtx.RLock()
	callbacks := make([]CallbackFn, len(l.callbacks))
	copy(callbacks, l.callbacks)
	sinks := make([]Sink, len(l.sinks))
	copy(sinks, l.sinks)
	l.mtx.RUnlock()

	for _, fn := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("alert callback panic: %v", r)
				}
			}()
			fn(alert)
		}()
	}
	for _, sink := range sinks {
		if err := sink.Deliver(ctx, alert); err != nil {
			logger.Errorf("alert sink error: %v", err)
		}
	}
}

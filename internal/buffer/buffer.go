// Package buffer implements the in-memory rolling metrics store fed by
// the ingestion hot path. Appends happen under one short-held mutex;
// consumers copy windows out and compute outside the lock. The buffer
// never returns errors: queries over units with too little data degrade
// to neutral defaults.
package buffer

import (
	"sort"
	"sync"

	"github.com/go-driftd/driftd/internal/metric/model"
	"github.com/go-driftd/driftd/pkg/ring"
)

const (
	// NeutralAccuracy is returned for units with no observations yet.
	NeutralAccuracy = 0.5
	// NeutralCalibration is returned below the calibration sample floor.
	NeutralCalibration = 0.5
)

type Options struct {
	windowSize            int
	minCalibrationSamples int
}

type Option func(*Buffer)

func WithWindowSize(n int) Option {
	return func(b *Buffer) {
		b.opts.windowSize = n
	}
}

func WithMinCalibrationSamples(n int) Option {
	return func(b *Buffer) {
		b.opts.minCalibrationSamples = n
	}
}

func New(opts ...Option) *Buffer {
	b := &Buffer{
		opts:   Options{windowSize: 100, minCalibrationSamples: 10},
		series: map[string]*series{},
	}
	for _, f := range opts {
		f(b)
	}
	return b
}

type Buffer struct {
	mtx    sync.RWMutex
	opts   Options
	series map[string]*series
}

type series struct {
	predictions   *ring.Window
	actuals       *ring.Window
	correctness   *ring.Window
	confidences   *ring.Window
	responseTimes *ring.Window
	absErrors     *ring.Window
	features      *vecWindow
	total         uint64
}

func newSeries(size int) *series {
	return &series{
		predictions:   ring.New(size),
		actuals:       ring.New(size),
		correctness:   ring.New(size),
		confidences:   ring.New(size),
		responseTimes: ring.New(size),
		absErrors:     ring.New(size),
		features:      newVecWindow(size),
	}
}

// Record appends one outcome to the unit's streams. O(1), never blocks
// beyond the append and never fails.
func (b *Buffer) Record(o model.Outcome) {
	b.mtx.Lock()
	s, ok := b.series[o.UnitID]
	if !ok {
		s = newSeries(b.opts.windowSize)
		b.series[o.UnitID] = s
	}
	s.predictions.Add(o.Predicted)
	s.actuals.Add(o.Actual)
	if o.Correct() {
		s.correctness.Add(1)
	} else {
		s.correctness.Add(0)
	}
	s.confidences.Add(o.Confidence)
	s.responseTimes.Add(o.ResponseTime)
	s.absErrors.Add(o.AbsError())
	s.features.Add(o.Features)
	s.total++
	b.mtx.Unlock()
}

// Accuracy returns mean correctness over the window. An empty unit ID
// pools every unit. Cold units report the neutral default.
func (b *Buffer) Accuracy(unitID string) float64 {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	sum, n := b.pooled(unitID, func(s *series) *ring.Window { return s.correctness })
	if n == 0 {
		return NeutralAccuracy
	}
	return sum / float64(n)
}

// Calibration returns 1 - |mean confidence - accuracy|, neutral below
// the sample floor.
func (b *Buffer) Calibration(unitID string) float64 {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	confSum, confN := b.pooled(unitID, func(s *series) *ring.Window { return s.confidences })
	corrSum, corrN := b.pooled(unitID, func(s *series) *ring.Window { return s.correctness })
	if confN < b.opts.minCalibrationSamples || corrN == 0 {
		return NeutralCalibration
	}
	calibration := 1 - abs(confSum/float64(confN)-corrSum/float64(corrN))
	if calibration < 0 {
		return 0
	}
	return calibration
}

// Average returns the mean of the stream behind a metric type. Unknown
// or empty streams degrade to zero, except accuracy and calibration
// which keep their neutral defaults.
func (b *Buffer) Average(metricType model.Type, unitID string) float64 {
	switch metricType {
	case model.TypeAccuracy:
		return b.Accuracy(unitID)
	case model.TypeConfidenceCalibration:
		return b.Calibration(unitID)
	case model.TypeErrorRate:
		return b.mean(unitID, func(s *series) *ring.Window { return s.absErrors })
	case model.TypeResponseTime:
		return b.mean(unitID, func(s *series) *ring.Window { return s.responseTimes })
	case model.TypePredictionVolume:
		return float64(b.Count(unitID))
	default:
		return 0
	}
}

// Window copies the prediction/actual/feature history for one unit,
// oldest first, for drift scoring outside the lock.
func (b *Buffer) Window(unitID string) (predictions, actuals []float64, features [][]float64) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	s, ok := b.series[unitID]
	if !ok {
		return nil, nil, nil
	}
	return s.predictions.Values(), s.actuals.Values(), s.features.Values()
}

// Len returns the number of windowed observations, pooled over every
// unit for the system unit.
func (b *Buffer) Len(unitID string) int {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	if unitID != model.SystemUnit {
		s, ok := b.series[unitID]
		if !ok {
			return 0
		}
		return s.correctness.Len()
	}
	var n int
	for _, s := range b.series {
		n += s.correctness.Len()
	}
	return n
}

// Count returns the total number of outcomes ever recorded, pooled for
// an empty unit ID.
func (b *Buffer) Count(unitID string) uint64 {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	if unitID != model.SystemUnit {
		s, ok := b.series[unitID]
		if !ok {
			return 0
		}
		return s.total
	}
	var total uint64
	for _, s := range b.series {
		total += s.total
	}
	return total
}

func (b *Buffer) Units() []string {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	units := make([]string, 0, len(b.series))
	for unitID := range b.series {
		units = append(units, unitID)
	}
	sort.Strings(units)
	return units
}

func (b *Buffer) mean(unitID string, pick func(*series) *ring.Window) float64 {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	sum, n := b.pooled(unitID, pick)
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// pooled sums a stream over one unit or, for the system unit, over all
// of them. Callers hold the read lock.
func (b *Buffer) pooled(unitID string, pick func(*series) *ring.Window) (sum float64, n int) {
	if unitID != model.SystemUnit {
		s, ok := b.series[unitID]
		if !ok {
			return 0, 0
		}
		w := pick(s)
		return w.Mean() * float64(w.Len()), w.Len()
	}
	for _, s := range b.series {
		w := pick(s)
		sum += w.Mean() * float64(w.Len())
		n += w.Len()
	}
	return sum, n
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// vecWindow is the feature-vector counterpart of ring.Window.
type vecWindow struct {
	capacity int
	vecs     [][]float64
	index    int
	count    int
}

func newVecWindow(capacity int) *vecWindow {
	return &vecWindow{capacity: capacity, vecs: make([][]float64, capacity)}
}

func (w *vecWindow) Add(vec []float64) {
	if len(vec) == 0 {
		return
	}
	cp := make([]float64, len(vec))
	copy(cp, vec)
	w.vecs[w.index] = cp
	w.index = (w.index + 1) % w.capacity
	if w.count < w.capacity {
		w.count++
	}
}

func (w *vecWindow) Values() [][]float64 {
	out := make([][]float64, 0, w.count)
	if w.count < w.capacity {
		out = append(out, w.vecs[:w.count]...)
		return out
	}
	out = append(out, w.vecs[w.index:]...)
	out = append(out, w.vecs[:w.index]...)
	return out
}

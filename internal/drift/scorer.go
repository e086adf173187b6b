// Package drift scores how far a unit's recent behavior has moved from
// its older history. Three equal-weighted signals are compared between
// the two time-ordered halves of the window: realized accuracy, the
// feature distribution and the prediction distribution.
package drift

import (
	"math"

	"github.com/go-driftd/driftd/internal/metric/model"
	"gonum.org/v1/gonum/stat"
)

type Type string

const (
	TypeNone     Type = "none"
	TypeGradual  Type = "gradual"
	TypeSudden   Type = "sudden"
	TypeSeasonal Type = "seasonal"
)

const (
	SignalPerformance  = "performance"
	SignalFeatures     = "features"
	SignalPredictions  = "prediction_distribution"
	classifyTailLength = 20
)

const (
	RecommendationNone    = "no action required"
	RecommendationMonitor = "monitor closely; consider online update"
	RecommendationOnline  = "apply online weight update"
	RecommendationRetrain = "flag for full retraining"
)

// Result is recomputed fresh on every evaluation and never retained.
type Result struct {
	Drift           bool     `json:"drift"`
	Score           float64  `json:"score"`
	Type            Type     `json:"type"`
	AffectedSignals []string `json:"affectedSignals,omitempty"`
	Recommendation  string   `json:"recommendation"`
	Confidence      float64  `json:"confidence"`
}

type Options struct {
	threshold    float64
	window       int
	classifyMin  int
	suddenRatio  float64
	gradualRatio float64
}

type Option func(*Scorer)

func WithThreshold(v float64) Option {
	return func(s *Scorer) {
		s.opts.threshold = v
	}
}

func WithWindow(n int) Option {
	return func(s *Scorer) {
		s.opts.window = n
	}
}

func WithClassifyMin(n int) Option {
	return func(s *Scorer) {
		s.opts.classifyMin = n
	}
}

func WithRatios(sudden, gradual float64) Option {
	return func(s *Scorer) {
		s.opts.suddenRatio = sudden
		s.opts.gradualRatio = gradual
	}
}

func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		opts: Options{
			threshold:    0.1,
			window:       25,
			classifyMin:  40,
			suddenRatio:  1.5,
			gradualRatio: 1.2,
		},
	}
	for _, f := range opts {
		f(s)
	}
	return s
}

type Scorer struct {
	opts Options
}

func (s *Scorer) Threshold() float64 {
	return s.opts.threshold
}

// Score evaluates one unit's history, oldest first. Histories shorter
// than two half-windows produce a zero no-drift result rather than an
// error.
func (s *Scorer) Score(predictions, actuals []float64, features [][]float64) Result {
	n := len(predictions)
	if n > len(actuals) {
		n = len(actuals)
	}
	if n < 2*s.opts.window {
		return Result{Type: TypeNone, Recommendation: RecommendationNone}
	}

	half := n / 2
	signals := map[string]float64{
		SignalPerformance: performanceSignal(predictions[:half], actuals[:half], predictions[half:], actuals[half:]),
		SignalPredictions: distributionSignal(predictions[:half], predictions[half:]),
		SignalFeatures:    featureSignal(features),
	}

	score := (signals[SignalPerformance] + signals[SignalPredictions] + signals[SignalFeatures]) / 3

	result := Result{
		Score: score,
		Drift: score > s.opts.threshold,
	}
	for _, name := range []string{SignalPerformance, SignalFeatures, SignalPredictions} {
		if signals[name] > s.opts.threshold {
			result.AffectedSignals = append(result.AffectedSignals, name)
		}
	}
	result.Recommendation = s.recommend(score)
	if result.Drift {
		result.Type, result.Confidence = s.classify(predictions, actuals)
	} else {
		result.Type = TypeNone
		result.Confidence = math.Min(1, float64(n)/100)
	}

	return result
}

// recommend maps the score/threshold ratio onto the action ladder.
func (s *Scorer) recommend(score float64) string {
	ratio := score / s.opts.threshold
	switch {
	case ratio < 1:
		return RecommendationNone
	case ratio < 2:
		return RecommendationMonitor
	case ratio < 3:
		return RecommendationOnline
	default:
		return RecommendationRetrain
	}
}

// classify compares the MAE of the most recent tail against a
// same-sized tail of the older half. Short histories default to gradual
// with low confidence.
func (s *Scorer) classify(predictions, actuals []float64) (Type, float64) {
	n := len(predictions)
	if n < s.opts.classifyMin {
		return TypeGradual, 0.3
	}

	half := n / 2
	priorEnd := half
	if priorEnd < classifyTailLength {
		priorEnd = classifyTailLength
	}
	recent := meanAbsError(
		predictions[n-classifyTailLength:],
		actuals[n-classifyTailLength:],
	)
	prior := meanAbsError(
		predictions[priorEnd-classifyTailLength:priorEnd],
		actuals[priorEnd-classifyTailLength:priorEnd],
	)

	confidence := math.Min(0.9, float64(n)/100)
	if prior == 0 {
		if recent > 0 {
			return TypeSudden, confidence
		}
		return TypeSeasonal, confidence
	}

	switch ratio := recent / prior; {
	case ratio >= s.opts.suddenRatio:
		return TypeSudden, confidence
	case ratio >= s.opts.gradualRatio:
		return TypeGradual, confidence
	default:
		return TypeSeasonal, confidence
	}
}

// performanceSignal is the accuracy loss between the halves; an
// improving unit scores zero.
func performanceSignal(oldPreds, oldActs, newPreds, newActs []float64) float64 {
	older := accuracy(oldPreds, oldActs)
	recent := accuracy(newPreds, newActs)
	return math.Max(0, older-recent)
}

func accuracy(predictions, actuals []float64) float64 {
	if len(predictions) == 0 {
		return 0
	}
	correct := 0
	for i := range predictions {
		if model.Correct(predictions[i], actuals[i]) {
			correct++
		}
	}
	return float64(correct) / float64(len(predictions))
}

// distributionSignal measures the normalized mean and spread shift
// between two samples of a stream. A degenerate older half (zero
// deviation) contributes nothing.
func distributionSignal(older, recent []float64) float64 {
	if len(older) < 2 || len(recent) < 2 {
		return 0
	}
	oldMean, oldStd := stat.MeanStdDev(older, nil)
	newMean, newStd := stat.MeanStdDev(recent, nil)
	if oldStd <= 0 {
		return 0
	}
	meanShift := math.Abs(newMean-oldMean) / oldStd
	spreadShift := math.Abs(newStd-oldStd) / oldStd
	return clamp((meanShift + spreadShift) / 2)
}

// featureSignal averages the distribution shift across feature
// dimensions with nonzero deviation.
func featureSignal(features [][]float64) float64 {
	if len(features) < 4 {
		return 0
	}
	dims := len(features[0])
	if dims == 0 {
		return 0
	}
	half := len(features) / 2

	var sum float64
	var counted int
	older := make([]float64, 0, half)
	recent := make([]float64, 0, len(features)-half)
	for d := 0; d < dims; d++ {
		older = older[:0]
		recent = recent[:0]
		for i, vec := range features {
			if d >= len(vec) {
				continue
			}
			if i < half {
				older = append(older, vec[d])
			} else {
				recent = append(recent, vec[d])
			}
		}
		if len(older) < 2 {
			continue
		}
		if _, std := stat.MeanStdDev(older, nil); std <= 0 {
			continue
		}
		sum += distributionSignal(older, recent)
		counted++
	}
	if counted == 0 {
		return 0
	}
	return sum / float64(counted)
}

func meanAbsError(predictions, actuals []float64) float64 {
	if len(predictions) == 0 {
		return 0
	}
	var sum float64
	for i := range predictions {
		sum += math.Abs(predictions[i] - actuals[i])
	}
	return sum / float64(len(predictions))
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

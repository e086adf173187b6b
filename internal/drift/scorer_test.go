package drift

import (
	"math/rand"
	"testing"
)

func TestScoreInsufficientData(t *testing.T) {
	s := NewScorer(WithWindow(25))
	preds := make([]float64, 30)
	acts := make([]float64, 30)
	result := s.Score(preds, acts, nil)
	if result.Drift {
		t.Errorf("short history drift got: true, expected: false")
	}
	if result.Score != 0 {
		t.Errorf("short history score got: %v, expected: 0", result.Score)
	}
	if result.Type != TypeNone {
		t.Errorf("short history type got: %v, expected: %v", result.Type, TypeNone)
	}
	if result.Recommendation != RecommendationNone {
		t.Errorf("short history recommendation got: %q", result.Recommendation)
	}
}

func TestScoreStableUnit(t *testing.T) {
	// 200 identical outcomes must not read as drift
	s := NewScorer()
	preds := make([]float64, 200)
	acts := make([]float64, 200)
	for i := range preds {
		preds[i] = 0.7
		acts[i] = 1.0
	}
	result := s.Score(preds, acts, nil)
	if result.Drift {
		t.Errorf("stable unit drift got: true, expected: false")
	}
	if result.Score > 1e-9 {
		t.Errorf("stable unit score got: %v, expected: ~0", result.Score)
	}
}

func TestScoreDetectsAccuracyShift(t *testing.T) {
	// ~90% accuracy for 50 outcomes, then ~30% for 50 more
	rnd := rand.New(rand.NewSource(1))
	s := NewScorer()
	var preds, acts []float64
	for i := 0; i < 50; i++ {
		preds = append(preds, 0.65+0.1*rnd.Float64())
		if i%10 == 0 {
			acts = append(acts, 0.0)
		} else {
			acts = append(acts, 1.0)
		}
	}
	for i := 0; i < 50; i++ {
		preds = append(preds, 0.65+0.1*rnd.Float64())
		if i%10 < 7 {
			acts = append(acts, 0.0)
		} else {
			acts = append(acts, 1.0)
		}
	}

	result := s.Score(preds, acts, nil)
	if !result.Drift {
		t.Fatalf("accuracy shift drift got: false, expected: true (score %v)", result.Score)
	}
	if result.Type != TypeSudden {
		t.Errorf("accuracy shift type got: %v, expected: %v", result.Type, TypeSudden)
	}
	found := false
	for _, sig := range result.AffectedSignals {
		if sig == SignalPerformance {
			found = true
		}
	}
	if !found {
		t.Errorf("affected signals got: %v, expected to include %v", result.AffectedSignals, SignalPerformance)
	}
}

func TestScoreDetectsFeatureShift(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	s := NewScorer()
	var preds, acts []float64
	var feats [][]float64
	for i := 0; i < 100; i++ {
		preds = append(preds, 0.6+0.2*rnd.Float64())
		acts = append(acts, 1.0)
		base := 1.0
		if i >= 50 {
			base = 8.0 // feature regime moves hard in the second half
		}
		feats = append(feats, []float64{base + 0.2*rnd.Float64(), 0.5 + 0.1*rnd.Float64()})
	}

	result := s.Score(preds, acts, feats)
	if !result.Drift {
		t.Fatalf("feature shift drift got: false, expected: true (score %v)", result.Score)
	}
	found := false
	for _, sig := range result.AffectedSignals {
		if sig == SignalFeatures {
			found = true
		}
	}
	if !found {
		t.Errorf("affected signals got: %v, expected to include %v", result.AffectedSignals, SignalFeatures)
	}
}

func TestRecommendationLadder(t *testing.T) {
	s := NewScorer(WithThreshold(0.1))
	tests := []struct {
		name     string
		score    float64
		expected string
	}{
		{name: "below_threshold", score: 0.05, expected: RecommendationNone},
		{name: "monitor", score: 0.15, expected: RecommendationMonitor},
		{name: "online_update", score: 0.25, expected: RecommendationOnline},
		{name: "retrain", score: 0.45, expected: RecommendationRetrain},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := s.recommend(test.score); got != test.expected {
				t.Errorf("recommendation got: %q, expected: %q", got, test.expected)
			}
		})
	}
}

func TestClassifyShortHistory(t *testing.T) {
	s := NewScorer(WithClassifyMin(40))
	preds := make([]float64, 30)
	acts := make([]float64, 30)
	driftType, confidence := s.classify(preds, acts)
	if driftType != TypeGradual {
		t.Errorf("short classify type got: %v, expected: %v", driftType, TypeGradual)
	}
	if confidence >= 0.5 {
		t.Errorf("short classify confidence got: %v, expected low", confidence)
	}
}

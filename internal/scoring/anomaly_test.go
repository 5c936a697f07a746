package scoring

import (
	"math"
	"testing"
)

func TestAveragePathLength(t *testing.T) {
	tests := []struct {
		n    float64
		want float64
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{3, 2*(math.Log(2)+eulerGamma) - 4.0/3},
		{256, 2*(math.Log(255)+eulerGamma) - 2*255.0/256},
	}
	for _, tt := range tests {
		if got := averagePathLength(tt.n); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("c(%v): expected %v, got %v", tt.n, tt.want, got)
		}
	}
}

// The anomaly score is negative for outliers and positive for inliers.
func TestIsolationForestSignConvention(t *testing.T) {
	f := testForest()

	inlier := []float64{24, 0, 30000, 1, 2}
	outlier := []float64{24, 0, 250000, 1, 2}

	in := f.Score(inlier)
	out := f.Score(outlier)

	if out >= in {
		t.Errorf("expected outlier score %v below inlier score %v", out, in)
	}
	if out >= 0 {
		t.Errorf("expected outlier score to be negative, got %v", out)
	}
	if in <= 0 {
		t.Errorf("expected inlier score to be positive, got %v", in)
	}

	// inlier: depth 1 + c(3); outlier: depth 1 + c(1)
	c4 := averagePathLength(4)
	wantIn := -math.Pow(2, -(1+averagePathLength(3))/c4) + 0.5
	wantOut := -math.Pow(2, -1/c4) + 0.5
	if math.Abs(in-wantIn) > 1e-12 {
		t.Errorf("expected inlier score %v, got %v", wantIn, in)
	}
	if math.Abs(out-wantOut) > 1e-12 {
		t.Errorf("expected outlier score %v, got %v", wantOut, out)
	}
}

func TestIsolationForestScoreSamplesRange(t *testing.T) {
	f := testForest()
	for _, amount := range []float64{0, 50000, 100000, 100001, 1e9} {
		s := f.ScoreSamples([]float64{0, 0, amount, 0, 0})
		if s < -1 || s >= 0 {
			t.Errorf("amount %v: expected score_samples in [-1, 0), got %v", amount, s)
		}
	}
}

func TestIsolationForestThresholdInclusive(t *testing.T) {
	f := testForest()
	atThreshold := f.Score([]float64{0, 0, 100000, 0, 0})
	below := f.Score([]float64{0, 0, 99999, 0, 0})
	if atThreshold != below {
		t.Errorf("expected x == threshold to go left: %v vs %v", atThreshold, below)
	}
}

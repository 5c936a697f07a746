package scoring

import (
	"errors"
	"math"
	"testing"
)

// conditionalExpectation follows x for features in s and averages both
// branches by cover for the rest.
func conditionalExpectation(t *Tree, i int, x []float64, s map[int]bool) float64 {
	n := &t.Nodes[i]
	if n.IsLeaf {
		return n.Leaf
	}
	if s[n.Feature] {
		return conditionalExpectation(t, n.next(x), x, s)
	}
	yes, no := &t.Nodes[n.Yes], &t.Nodes[n.No]
	return (yes.Cover*conditionalExpectation(t, n.Yes, x, s) + no.Cover*conditionalExpectation(t, n.No, x, s)) / n.Cover
}

// bruteForceShapley enumerates every feature subset.
func bruteForceShapley(m *TreeEnsemble, x []float64) []float64 {
	features := len(x)
	value := func(mask int) float64 {
		s := make(map[int]bool)
		for f := 0; f < features; f++ {
			if mask&(1<<f) != 0 {
				s[f] = true
			}
		}
		sum := 0.0
		for i := range m.Trees {
			sum += conditionalExpectation(&m.Trees[i], 0, x, s)
		}
		return sum
	}

	fact := func(n int) float64 {
		r := 1.0
		for i := 2; i <= n; i++ {
			r *= float64(i)
		}
		return r
	}

	phi := make([]float64, features)
	for f := 0; f < features; f++ {
		for mask := 0; mask < 1<<features; mask++ {
			if mask&(1<<f) != 0 {
				continue
			}
			size := 0
			for g := 0; g < features; g++ {
				if mask&(1<<g) != 0 {
					size++
				}
			}
			w := fact(size) * fact(features-size-1) / fact(features)
			phi[f] += w * (value(mask|1<<f) - value(mask))
		}
	}
	return phi
}

func TestTreeExplainerMatchesShapley(t *testing.T) {
	clf := testClassifier()
	explainer, err := NewTreeExplainer(clf, len(testFeatures))
	if err != nil {
		t.Fatalf("failed to create explainer: %v", err)
	}

	inputs := map[string][]float64{
		"LargeTotalLoss": {3, 2, 61000, 2, 1},
		"SmallClaim":     {120, 0, 8000, 1, 2},
		"MidClaimShort":  {6, 1, 40000, 0, 0},
		"HugeClaim":      {48, 1, 95000, 3, 2},
		"MissingTenure":  {math.NaN(), 0, 25000, 1, 1},
	}

	for name, x := range inputs {
		t.Run(name, func(t *testing.T) {
			got, err := explainer.Explain(x)
			if err != nil {
				t.Fatalf("explain failed: %v", err)
			}
			want := bruteForceShapley(clf, x)
			for i := range want {
				if math.Abs(got[i]-want[i]) > 1e-9 {
					t.Errorf("feature %d: expected %.12f, got %.12f", i, want[i], got[i])
				}
			}
		})
	}
}

func TestTreeExplainerAdditivity(t *testing.T) {
	clf := testClassifier()
	explainer, err := NewTreeExplainer(clf, len(testFeatures))
	if err != nil {
		t.Fatal(err)
	}

	x := []float64{3, 2, 61000, 2, 1}
	phi, err := explainer.Explain(x)
	if err != nil {
		t.Fatal(err)
	}

	sum := explainer.ExpectedValue()
	for _, v := range phi {
		sum += v
	}
	if math.Abs(sum-clf.Margin(x)) > 1e-9 {
		t.Errorf("expected contributions to sum to margin %.9f, got %.9f", clf.Margin(x), sum)
	}
}

func TestTreeExplainerStump(t *testing.T) {
	// One split: phi = leaf(x) - E[leaf]
	clf := &TreeEnsemble{BaseScore: 0.5, Trees: []Tree{{Nodes: []TreeNode{
		{Feature: 0, Threshold: 1, Yes: 1, No: 2, Missing: 1, Cover: 10},
		{IsLeaf: true, Leaf: 2, Cover: 4},
		{IsLeaf: true, Leaf: -1, Cover: 6},
	}}}}
	explainer, err := NewTreeExplainer(clf, 2)
	if err != nil {
		t.Fatal(err)
	}

	phi, err := explainer.Explain([]float64{0, 7})
	if err != nil {
		t.Fatal(err)
	}
	expected := (4*2.0 + 6*-1.0) / 10
	if math.Abs(phi[0]-(2-expected)) > 1e-12 {
		t.Errorf("expected phi[0] = %v, got %v", 2-expected, phi[0])
	}
	if phi[1] != 0 {
		t.Errorf("expected unused feature to get 0, got %v", phi[1])
	}
}

func TestTreeExplainerUnavailable(t *testing.T) {
	t.Run("NoCover", func(t *testing.T) {
		clf := testClassifier()
		clf.Trees[1].Nodes[2].Cover = 0
		_, err := NewTreeExplainer(clf, len(testFeatures))
		if !errors.Is(err, ErrAttributionUnavailable) {
			t.Errorf("expected ErrAttributionUnavailable, got %v", err)
		}
	})

	t.Run("NonFiniteLeaf", func(t *testing.T) {
		clf := &TreeEnsemble{BaseScore: 0.5, Trees: []Tree{{Nodes: []TreeNode{
			{Feature: 0, Threshold: 1, Yes: 1, No: 2, Missing: 1, Cover: 10},
			{IsLeaf: true, Leaf: math.Inf(1), Cover: 4},
			{IsLeaf: true, Leaf: -1, Cover: 6},
		}}}}
		explainer, err := NewTreeExplainer(clf, 1)
		if err != nil {
			t.Fatal(err)
		}
		_, err = explainer.Explain([]float64{0})
		if !errors.Is(err, ErrAttributionUnavailable) {
			t.Errorf("expected ErrAttributionUnavailable, got %v", err)
		}
	})

	t.Run("WrongLength", func(t *testing.T) {
		explainer, _ := NewTreeExplainer(testClassifier(), len(testFeatures))
		_, err := explainer.Explain([]float64{1, 2})
		if !errors.Is(err, ErrAttributionUnavailable) {
			t.Errorf("expected ErrAttributionUnavailable, got %v", err)
		}
	})
}

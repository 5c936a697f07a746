package scoring

import (
	"fmt"
	"math"
)

const eulerGamma = 0.5772156649015329

// IsolationForest is an exported isolation forest.
//
// Score follows the decision_function convention of the library it was
// trained with: score_samples minus the fitted offset, where score_samples
// is -2^(-E[h(x)] / c(MaxSamples)). Negative scores are anomalous, positive
// scores are inliers, and the range is not bounded to [0,1].
type IsolationForest struct {
	MaxSamples float64         `json:"max_samples"`
	Offset     float64         `json:"offset"`
	Trees      []IsolationTree `json:"trees"`
}

// IsolationTree is a flat array of nodes rooted at index 0. Features, when
// set, maps the tree's local feature index to the global vector index.
type IsolationTree struct {
	Features []int           `json:"features,omitempty"`
	Nodes    []IsolationNode `json:"nodes"`
}

// IsolationNode splits on x[Feature] <= Threshold to Left. Leaves have Left < 0.
type IsolationNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Samples   float64 `json:"samples"`
}

func (f *IsolationForest) validate(features int) error {
	if f.MaxSamples < 1 {
		return fmt.Errorf("max_samples %v < 1", f.MaxSamples)
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("no trees")
	}
	for t, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d: no nodes", t)
		}
		for _, g := range tree.Features {
			if g < 0 || g >= features {
				return fmt.Errorf("tree %d: feature map entry %d out of range", t, g)
			}
		}
		for i, n := range tree.Nodes {
			if n.Left < 0 {
				continue
			}
			if n.Left <= i || n.Right <= i || n.Left >= len(tree.Nodes) || n.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d: child out of range", t, i)
			}
			g := n.Feature
			if tree.Features != nil {
				if g < 0 || g >= len(tree.Features) {
					return fmt.Errorf("tree %d node %d: local feature %d out of range", t, i, g)
				}
				g = tree.Features[g]
			}
			if g < 0 || g >= features {
				return fmt.Errorf("tree %d node %d: feature %d out of range", t, i, g)
			}
		}
	}
	return nil
}

// pathLength returns the leaf depth plus the expected remaining depth of
// the samples left unsplit at that leaf.
func (t *IsolationTree) pathLength(x []float64) float64 {
	i, depth := 0, 0
	for t.Nodes[i].Left >= 0 {
		n := &t.Nodes[i]
		g := n.Feature
		if t.Features != nil {
			g = t.Features[g]
		}
		if x[g] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
	return float64(depth) + averagePathLength(t.Nodes[i].Samples)
}

// ScoreSamples returns the raw isolation score in [-1, 0).
func (f *IsolationForest) ScoreSamples(x []float64) float64 {
	var depths float64
	for i := range f.Trees {
		depths += f.Trees[i].pathLength(x)
	}
	denom := float64(len(f.Trees)) * averagePathLength(f.MaxSamples)
	if denom == 0 {
		return -1
	}
	return -math.Pow(2, -depths/denom)
}

// Score returns the anomaly score for x. More negative is more anomalous.
func (f *IsolationForest) Score(x []float64) float64 {
	return f.ScoreSamples(x) - f.Offset
}

// averagePathLength is c(n), the mean unsuccessful search depth in a
// binary search tree of n points.
func averagePathLength(n float64) float64 {
	switch {
	case n <= 1:
		return 0
	case n <= 2:
		return 1
	}
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}

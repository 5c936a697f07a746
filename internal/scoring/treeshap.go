package scoring

import (
	"fmt"
	"math"
)

// TreeExplainer computes exact path-dependent Tree SHAP values for a
// TreeEnsemble. Values are in margin (log-odds) space and, together with
// ExpectedValue, sum to the model margin for the explained instance.
type TreeExplainer struct {
	model    *TreeEnsemble
	expected float64
	features int
}

// NewTreeExplainer prepares an explainer. Every node must carry a positive
// cover, otherwise ErrAttributionUnavailable is returned.
func NewTreeExplainer(model *TreeEnsemble, features int) (*TreeExplainer, error) {
	if model == nil || !model.hasCover() {
		return nil, fmt.Errorf("%w: classifier has no cover statistics", ErrAttributionUnavailable)
	}

	expected := model.BaseMargin()
	for i := range model.Trees {
		expected += expectedLeaf(&model.Trees[i], 0)
	}

	return &TreeExplainer{
		model:    model,
		expected: expected,
		features: features,
	}, nil
}

// ExpectedValue is the cover-weighted mean margin over the training data.
func (e *TreeExplainer) ExpectedValue() float64 {
	return e.expected
}

// Explain returns one contribution per feature for x. The result is checked
// for additivity against the model margin.
func (e *TreeExplainer) Explain(x []float64) ([]float64, error) {
	if len(x) != e.features {
		return nil, fmt.Errorf("%w: vector has %d features, model expects %d", ErrAttributionUnavailable, len(x), e.features)
	}

	phi := make([]float64, e.features)
	for i := range e.model.Trees {
		s := shapWalker{tree: &e.model.Trees[i], x: x, phi: phi}
		s.recurse(0, nil, 1, 1, -1)
	}

	sum := e.expected
	for _, v := range phi {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite contribution", ErrAttributionUnavailable)
		}
		sum += v
	}
	margin := e.model.Margin(x)
	if math.Abs(sum-margin) > 1e-6*math.Max(1, math.Abs(margin)) {
		return nil, fmt.Errorf("%w: contributions sum to %.6f, margin is %.6f", ErrAttributionUnavailable, sum, margin)
	}

	return phi, nil
}

func expectedLeaf(t *Tree, i int) float64 {
	n := &t.Nodes[i]
	if n.IsLeaf {
		return n.Leaf
	}
	yes, no := &t.Nodes[n.Yes], &t.Nodes[n.No]
	return (yes.Cover*expectedLeaf(t, n.Yes) + no.Cover*expectedLeaf(t, n.No)) / n.Cover
}

// pathElement tracks one feature on the unique path from the root.
// zero is the fraction of cover flowing down the path when the feature is
// unknown, one is 1 when x itself follows the path, weight is the
// permutation weight of subsets of the path's features.
type pathElement struct {
	feature int
	zero    float64
	one     float64
	weight  float64
}

type shapWalker struct {
	tree *Tree
	x    []float64
	phi  []float64
}

func (s *shapWalker) recurse(node int, parent []pathElement, zero, one float64, feature int) {
	path := make([]pathElement, len(parent), len(parent)+1)
	copy(path, parent)
	path = extendPath(path, zero, one, feature)

	n := &s.tree.Nodes[node]
	if n.IsLeaf {
		for i := 1; i < len(path); i++ {
			w := unwoundPathSum(path, i)
			el := path[i]
			s.phi[el.feature] += w * (el.one - el.zero) * n.Leaf
		}
		return
	}

	hot := n.next(s.x)
	cold := n.Yes
	if hot == n.Yes {
		cold = n.No
	}
	hotZero := s.tree.Nodes[hot].Cover / n.Cover
	coldZero := s.tree.Nodes[cold].Cover / n.Cover

	// A feature already split on higher up is undone and redone here.
	inZero, inOne := 1.0, 1.0
	for k := range path {
		if path[k].feature == n.Feature {
			inZero, inOne = path[k].zero, path[k].one
			path = unwindPath(path, k)
			break
		}
	}

	s.recurse(hot, path, hotZero*inZero, inOne, n.Feature)
	s.recurse(cold, path, coldZero*inZero, 0, n.Feature)
}

// extendPath appends a feature to the path and updates subset weights.
func extendPath(path []pathElement, zero, one float64, feature int) []pathElement {
	l := len(path)
	w := 0.0
	if l == 0 {
		w = 1
	}
	path = append(path, pathElement{feature: feature, zero: zero, one: one, weight: w})
	for i := l - 1; i >= 0; i-- {
		path[i+1].weight += one * path[i].weight * float64(i+1) / float64(l+1)
		path[i].weight = zero * path[i].weight * float64(l-i) / float64(l+1)
	}
	return path
}

// unwindPath removes element idx from the path, inverting extendPath.
func unwindPath(path []pathElement, idx int) []pathElement {
	n := len(path)
	one, zero := path[idx].one, path[idx].zero
	next := path[n-1].weight

	for i := n - 2; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * float64(n) / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(n-1-i)/float64(n)
		} else {
			path[i].weight = path[i].weight * float64(n) / (zero * float64(n-1-i))
		}
	}

	for i := idx; i < n-1; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
	return path[:n-1]
}

// unwoundPathSum is the total weight of the path with element idx removed,
// without modifying the path.
func unwoundPathSum(path []pathElement, idx int) float64 {
	n := len(path)
	one, zero := path[idx].one, path[idx].zero
	next := path[n-1].weight
	total := 0.0

	switch {
	case one != 0:
		for i := n - 2; i >= 0; i-- {
			tmp := next / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(n-1-i)
		}
	case zero != 0:
		for i := n - 2; i >= 0; i-- {
			total += path[i].weight / (zero * float64(n-1-i))
		}
	}
	return total * float64(n)
}

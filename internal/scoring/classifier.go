package scoring

import (
	"fmt"
	"math"
)

// TreeEnsemble is a gradient-boosted binary classifier exported from the
// training pipeline. The raw margin is logit(BaseScore) plus the sum of one
// leaf per tree; the fraud probability is its sigmoid.
type TreeEnsemble struct {
	BaseScore float64 `json:"base_score"`
	Trees     []Tree  `json:"trees"`
}

// Tree is a flat array of nodes rooted at index 0.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// TreeNode is a split (x[Feature] < Threshold goes to Yes) or a leaf.
// Cover is the training hessian mass reaching the node; attribution needs it.
type TreeNode struct {
	IsLeaf    bool    `json:"is_leaf,omitempty"`
	Leaf      float64 `json:"leaf,omitempty"`
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Yes       int     `json:"yes"`
	No        int     `json:"no"`
	Missing   int     `json:"missing"`
	Cover     float64 `json:"cover"`
}

func (m *TreeEnsemble) validate(features int) error {
	if !(m.BaseScore > 0 && m.BaseScore < 1) {
		return fmt.Errorf("base_score %v outside (0,1)", m.BaseScore)
	}
	if len(m.Trees) == 0 {
		return fmt.Errorf("no trees")
	}
	for t, tree := range m.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d: no nodes", t)
		}
		for i, n := range tree.Nodes {
			if n.IsLeaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= features {
				return fmt.Errorf("tree %d node %d: feature %d out of range", t, i, n.Feature)
			}
			// Children must come after their parent so evaluation terminates.
			for _, c := range []int{n.Yes, n.No, n.Missing} {
				if c <= i || c >= len(tree.Nodes) {
					return fmt.Errorf("tree %d node %d: child %d out of range", t, i, c)
				}
			}
			if n.Missing != n.Yes && n.Missing != n.No {
				return fmt.Errorf("tree %d node %d: missing branch must be yes or no", t, i)
			}
		}
	}
	return nil
}

// hasCover reports whether every node carries a positive cover.
func (m *TreeEnsemble) hasCover() bool {
	for _, tree := range m.Trees {
		for _, n := range tree.Nodes {
			if !(n.Cover > 0) {
				return false
			}
		}
	}
	return true
}

// next returns the child x follows at an internal node.
func (n *TreeNode) next(x []float64) int {
	v := x[n.Feature]
	switch {
	case math.IsNaN(v):
		return n.Missing
	case v < n.Threshold:
		return n.Yes
	default:
		return n.No
	}
}

// leaf walks x down the tree and returns the leaf index.
func (t *Tree) leaf(x []float64) int {
	i := 0
	for !t.Nodes[i].IsLeaf {
		i = t.Nodes[i].next(x)
	}
	return i
}

// BaseMargin is the margin before any tree contributes.
func (m *TreeEnsemble) BaseMargin() float64 {
	return math.Log(m.BaseScore / (1 - m.BaseScore))
}

// Margin returns the raw log-odds output for x.
func (m *TreeEnsemble) Margin(x []float64) float64 {
	sum := m.BaseMargin()
	for i := range m.Trees {
		t := &m.Trees[i]
		sum += t.Nodes[t.leaf(x)].Leaf
	}
	return sum
}

// Probability returns P(fraud) for x.
func (m *TreeEnsemble) Probability(x []float64) float64 {
	return sigmoid(m.Margin(x))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

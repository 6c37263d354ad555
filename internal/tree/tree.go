package tree

import (
	"fairlens/adapters/metrics"
	"fairlens/domain/population"
)

// Node is one arena entry. Parent is -1 at the root; Predicate is the edge
// condition that admitted a row into this node and is nil at the root.
//
// INVARIANTS:
//   - Children of a split node partition the node's rows.
//   - Every child's row count is at least the builder's MinLeafSize.
//   - Depth increases by exactly one along every parent/child edge.
type Node struct {
	Index     int
	Parent    int
	Depth     int
	Rows      int
	Score     float64
	Predicate *population.Predicate

	// Set on internal nodes only: the winning feature and the aggregated
	// child score that justified the split.
	Feature    string
	SplitScore float64
	Children   []int
}

// IsLeaf reports whether the node kept its subset whole.
func (n Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Tree is the immutable result of one guided build over one protected
// feature. Nodes are stored in pre-order: a node always precedes its
// children, and children appear in the order their splits were chosen.
// Callers must not modify the arena.
type Tree struct {
	Protected string
	Metric    metrics.Kind
	Conf      float64
	TrainRows int
	Nodes     []Node
}

// Root returns the whole-population node.
func (t *Tree) Root() Node {
	return t.Nodes[0]
}

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int {
	return len(t.Nodes)
}

// Node returns the arena entry at index i.
func (t *Tree) Node(i int) Node {
	return t.Nodes[i]
}

// Depth returns the depth of the deepest node.
func (t *Tree) Depth() int {
	max := 0
	for _, n := range t.Nodes {
		if n.Depth > max {
			max = n.Depth
		}
	}
	return max
}

// Leaves returns the indices of all leaf nodes in pre-order.
func (t *Tree) Leaves() []int {
	var out []int
	for _, n := range t.Nodes {
		if n.IsLeaf() {
			out = append(out, n.Index)
		}
	}
	return out
}

// Chain returns the predicate conjunction that defines node i, ordered from
// the root's first split down to the node's own edge. The root yields an
// empty chain.
func (t *Tree) Chain(i int) []population.Predicate {
	var preds []population.Predicate
	for idx := i; idx > 0; idx = t.Nodes[idx].Parent {
		preds = append(preds, *t.Nodes[idx].Predicate)
	}
	for lo, hi := 0, len(preds)-1; lo < hi; lo, hi = lo+1, hi-1 {
		preds[lo], preds[hi] = preds[hi], preds[lo]
	}
	return preds
}

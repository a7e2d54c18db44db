package store

import "github.com/pointlake/pointlake/model"

// Node is the decoded form of a page: the points retained at this octree
// cell plus the bogus overflow buffer that has not yet been promoted to
// children.
type Node struct {
	Points []model.Point
	Bogus  []model.Point
}

// NrPoints returns the total number of points held by the node, bogus
// included.
func (n *Node) NrPoints() int {
	return len(n.Points) + len(n.Bogus)
}

// IsEmpty reports whether the node holds no points at all.
func (n *Node) IsEmpty() bool {
	return len(n.Points) == 0 && len(n.Bogus) == 0
}

// Clone returns a deep-enough copy for snapshotting: the slices are copied,
// the points themselves are immutable values.
func (n *Node) Clone() *Node {
	out := &Node{
		Points: make([]model.Point, len(n.Points)),
		Bogus:  make([]model.Point, len(n.Bogus)),
	}
	copy(out.Points, n.Points)
	copy(out.Bogus, n.Bogus)
	return out
}

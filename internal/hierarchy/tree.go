// Package hierarchy holds the binary clustering trees used to reorder rows and
// columns of a heatmap for display (dendrograms).
//
// A tree is built from decoded clustering output, then BuildOrders assigns
// each leaf its left-to-right display position and memoizes the index range
// every internal node spans. SetDepth computes the layout height of each node.
package hierarchy

import (
	"cmp"
	"slices"

	"github.com/heatmap-tiles/server/internal/scheduler"
)

// Leaf is the payload carried by leaf nodes.
type Leaf struct {
	Name       string   `json:"name"`
	Annotation string   `json:"annotation,omitempty"`
	Weight     *float64 `json:"weight,omitempty"`
}

// IndexRange is the span of display orders below a node.
type IndexRange struct {
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Center float64 `json:"center"`
}

// Node is a tree node: either a leaf carrying data or an internal node with
// exactly two children.
type Node struct {
	Left  *Node
	Right *Node
	Leaf  *Leaf

	Order int
	Range IndexRange
	Depth int
}

// IsLeaf reports whether n carries leaf data.
func (n *Node) IsLeaf() bool { return n != nil && n.Leaf != nil }

func (n *Node) invalid() bool {
	return n == nil || (n.Leaf == nil && n.Left == nil && n.Right == nil)
}

// Tree is a hierarchy with its derived orders. It is not safe for concurrent use.
type Tree struct {
	root    *Node
	plain   []*Node
	byName  map[string]int
	byOrder []string
	ordered bool
}

// New wraps root. A nil or empty root yields an invalid tree.
func New(root *Node) *Tree {
	return &Tree{root: root}
}

// Root returns the root node, nil for an invalid tree.
func (t *Tree) Root() *Node {
	if t == nil || t.root.invalid() {
		return nil
	}
	return t.root
}

// Invalid reports a tree that has neither data nor children. Callers treat it
// as "dendrogram unavailable".
func (t *Tree) Invalid() bool { return t == nil || t.root.invalid() }

// postorder lists every node children-first without recursion.
func postorder(root *Node) []*Node {
	if root.invalid() {
		return nil
	}
	var out []*Node
	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n)
		if n.Left != nil {
			stack = append(stack, n.Left)
		}
		if n.Right != nil {
			stack = append(stack, n.Right)
		}
	}
	slices.Reverse(out)
	return out
}

func (t *Tree) collectLeaves() []*Node {
	var leaves []*Node
	if t.Invalid() {
		return leaves
	}
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.IsLeaf() {
			leaves = append(leaves, n)
			continue
		}
		if n.Right != nil {
			stack = append(stack, n.Right)
		}
		if n.Left != nil {
			stack = append(stack, n.Left)
		}
	}
	return leaves
}

func (t *Tree) resetOrders(capacity int) {
	t.plain = make([]*Node, 0, capacity)
	t.byName = make(map[string]int, capacity)
	t.byOrder = make([]string, 0, capacity)
}

func (t *Tree) assign(leaf *Node) {
	order := len(t.plain)
	leaf.Order = order
	leaf.Range = IndexRange{Start: order, End: order, Center: float64(order)}
	t.plain = append(t.plain, leaf)
	t.byOrder = append(t.byOrder, leaf.Leaf.Name)
	if _, dup := t.byName[leaf.Leaf.Name]; !dup {
		t.byName[leaf.Leaf.Name] = order
	}
}

func (t *Tree) buildRanges() {
	for _, n := range postorder(t.root) {
		if n.IsLeaf() {
			continue
		}
		l, r := n.Left, n.Right
		switch {
		case l != nil && r != nil:
			n.Range = IndexRange{
				Start:  min(l.Range.Start, r.Range.Start),
				End:    max(l.Range.End, r.Range.End),
				Center: (l.Range.Center + r.Range.Center) / 2,
			}
		case l != nil:
			n.Range = l.Range
		case r != nil:
			n.Range = r.Range
		}
	}
	t.ordered = true
}

// BuildOrders assigns display orders to leaves left to right, builds the
// name/order maps and recomputes every internal node's index range.
// A name occurring twice keeps its first order.
func (t *Tree) BuildOrders() {
	leaves := t.collectLeaves()
	t.resetOrders(len(leaves))
	for _, leaf := range leaves {
		t.assign(leaf)
	}
	t.buildRanges()
}

// BuildOrdersChunked is BuildOrders spread over frames of s, chunk leaves per
// frame. done reports false when token cancelled the run; the orders are then
// incomplete and Ordered stays false.
func (t *Tree) BuildOrdersChunked(s scheduler.Scheduler, token *scheduler.Token, chunk int, done func(completed bool)) {
	leaves := t.collectLeaves()
	t.ordered = false
	t.resetOrders(len(leaves))
	scheduler.RunChunked(s, token, slices.Values(leaves), chunk, t.assign, func(completed bool) {
		if completed {
			t.buildRanges()
		}
		if done != nil {
			done(completed)
		}
	})
}

// Ordered reports whether orders were built.
func (t *Tree) Ordered() bool { return t != nil && t.ordered }

// SetDepth stores on every node the height of its subtree: leaves are 0, an
// internal node is one more than its deepest child.
func (t *Tree) SetDepth() {
	if t.Invalid() {
		return
	}
	for _, n := range postorder(t.root) {
		d := -1
		if n.Left != nil {
			d = max(d, n.Left.Depth)
		}
		if n.Right != nil {
			d = max(d, n.Right.Depth)
		}
		n.Depth = d + 1
	}
}

// Depth returns the depth of the root.
func (t *Tree) Depth() int {
	if t.Invalid() {
		return 0
	}
	return t.root.Depth
}

// Leaves returns the leaves in display order. Valid after BuildOrders.
func (t *Tree) Leaves() []*Node { return t.plain }

// Len returns the number of ordered leaves.
func (t *Tree) Len() int { return len(t.plain) }

// Names returns leaf names in display order.
func (t *Tree) Names() []string { return t.byOrder }

// OrderOf returns the display order of the leaf called name.
func (t *Tree) OrderOf(name string) (int, bool) {
	o, ok := t.byName[name]
	return o, ok
}

// NameAt returns the leaf name at display order.
func (t *Tree) NameAt(order int) (string, bool) {
	if order < 0 || order >= len(t.byOrder) {
		return "", false
	}
	return t.byOrder[order], true
}

// Walk visits nodes parent-first, left before right, until fn returns false.
func (t *Tree) Walk(fn func(n *Node) bool) {
	if t.Invalid() {
		return
	}
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(n) {
			return
		}
		if n.Right != nil {
			stack = append(stack, n.Right)
		}
		if n.Left != nil {
			stack = append(stack, n.Left)
		}
	}
}

// OrderInfo places one external item in display order.
type OrderInfo[T any] struct {
	Item          T   `json:"item"`
	OriginalOrder int `json:"originalOrder"`
	Order         int `json:"order"`
}

// GetItemsOrderInfo translates items into display order using key to find
// each item's leaf. The result is sorted ascending by Order; ties keep their
// input order. Items whose key is not in the tree get order 0.
func GetItemsOrderInfo[T any](t *Tree, items []T, key func(T) string) []OrderInfo[T] {
	out := make([]OrderInfo[T], len(items))
	for i, item := range items {
		info := OrderInfo[T]{Item: item, OriginalOrder: i}
		if t != nil {
			info.Order, _ = t.OrderOf(key(item))
		}
		out[i] = info
	}
	slices.SortStableFunc(out, func(a, b OrderInfo[T]) int {
		return cmp.Compare(a.Order, b.Order)
	})
	return out
}

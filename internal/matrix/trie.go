package matrix

import (
	"math/bits"

	"github.com/heatmap-tiles/server/pkg/datatype"
)

const (
	nibbleBits  = 4
	nibbleMask  = 1<<nibbleBits - 1
	axisNibbles = 8 // 32-bit coordinates per axis
	keyDepth    = 2 * axisNibbles
	maxCoord    = 1<<32 - 1
)

// node is one level of the nibble trie. Internal nodes index their children
// with a 16-bit presence bitmap; the child for nibble n sits at position
// popcount(bitmap & (1<<n - 1)) of children. Only nodes at keyDepth hold an entry.
type node struct {
	bitmap   uint16
	children []*node
	count    int
	entry    *entry
}

type entry struct {
	outer      uint32
	inner      uint32
	value      datatype.Value
	annotation string
}

// nibbleAt returns the nibble used at level for the composite key (outer, inner).
// Levels 0..7 walk outer from its most significant nibble, 8..15 walk inner.
func nibbleAt(outer, inner uint32, level int) uint8 {
	if level < axisNibbles {
		return uint8(outer>>(nibbleBits*(axisNibbles-1-level))) & nibbleMask
	}
	level -= axisNibbles
	return uint8(inner>>(nibbleBits*(axisNibbles-1-level))) & nibbleMask
}

func (n *node) child(nib uint8) *node {
	bit := uint16(1) << nib
	if n.bitmap&bit == 0 {
		return nil
	}
	return n.children[bits.OnesCount16(n.bitmap&(bit-1))]
}

func (n *node) ensureChild(nib uint8) *node {
	bit := uint16(1) << nib
	idx := bits.OnesCount16(n.bitmap & (bit - 1))
	if n.bitmap&bit != 0 {
		return n.children[idx]
	}
	// A suspended walk may still range over the old slice, so the old
	// backing array must not change.
	c := &node{}
	children := make([]*node, len(n.children)+1)
	copy(children, n.children[:idx])
	children[idx] = c
	copy(children[idx+1:], n.children[idx:])
	n.children = children
	n.bitmap |= bit
	return c
}

// insert stores e and reports whether the key was new. Subtree counts along
// the path are bumped for new keys.
func (n *node) insert(e *entry) bool {
	var path [keyDepth + 1]*node
	cur := n
	path[0] = cur
	for level := 0; level < keyDepth; level++ {
		cur = cur.ensureChild(nibbleAt(e.outer, e.inner, level))
		path[level+1] = cur
	}
	fresh := cur.entry == nil
	cur.entry = e
	if fresh {
		for _, p := range path {
			p.count++
		}
	}
	return fresh
}

func (n *node) lookup(outer, inner uint32) *entry {
	cur := n
	for level := 0; level < keyDepth && cur != nil; level++ {
		cur = cur.child(nibbleAt(outer, inner, level))
	}
	if cur == nil {
		return nil
	}
	return cur.entry
}

// walk visits entries in ascending (outer, inner) order. It returns false
// when visit asked to stop.
func (n *node) walk(visit func(*entry) bool) bool {
	if n.entry != nil {
		return visit(n.entry)
	}
	for _, c := range n.children {
		if !c.walk(visit) {
			return false
		}
	}
	return true
}

// recount refreshes subtree counts bottom-up and returns this node's count.
func (n *node) recount() int {
	if n.entry != nil {
		n.count = 1
		return 1
	}
	total := 0
	for _, c := range n.children {
		total += c.recount()
	}
	n.count = total
	return total
}

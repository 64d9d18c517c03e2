// Package runmerge collapses equal-valued neighbouring cells into rectangles
// so a renderer issues one primitive per homogeneous region instead of one per
// cell.
//
// A Tree covers one square block. Inserting a unit cell splits quadrants down
// to 1x1 and then joins back upward: a node becomes a leaf once its four
// quadrants are leaves holding the same value. Values additionally merges two
// adjacent leaf quadrants sharing a value, which the quad rule alone misses.
package runmerge

import (
	"iter"

	"github.com/heatmap-tiles/server/pkg/datatype"
)

// Item is one unit cell to insert.
type Item struct {
	Column int
	Row    int
	Value  datatype.Value
}

// Rect is a merged rectangle of cells sharing Value.
type Rect struct {
	Column int            `json:"column"`
	Row    int            `json:"row"`
	Width  int            `json:"width"`
	Height int            `json:"height"`
	Value  datatype.Value `json:"-"`
}

// Contains reports whether the cell (column, row) lies inside r.
func (r Rect) Contains(column, row int) bool {
	return column >= r.Column && column < r.Column+r.Width &&
		row >= r.Row && row < r.Row+r.Height
}

// quad children: 0 top-left, 1 top-right, 2 bottom-left, 3 bottom-right.
// A quad with leaf=false and no children is empty.
type quad struct {
	leaf     bool
	value    datatype.Value
	children [4]*quad
}

type frame struct {
	q    *quad
	x, y int
	size int
}

// Tree is the quad structure of one block. It is not safe for concurrent use.
type Tree struct {
	column int
	row    int
	size   int
	root   *quad
	count  int
}

// NewTree returns an empty tree covering size x size cells from (column, row).
// size is rounded up to a power of two.
func NewTree(column, row, size int) *Tree {
	s := 1
	for s < size {
		s <<= 1
	}
	return &Tree{column: column, row: row, size: s, root: &quad{}}
}

// Origin returns the top-left cell covered by the tree.
func (t *Tree) Origin() (column, row int) { return t.column, t.row }

// Size returns the block edge length.
func (t *Tree) Size() int { return t.size }

// Count returns the number of distinct cells written.
func (t *Tree) Count() int { return t.count }

// HasValues reports whether any cell was written.
func (t *Tree) HasValues() bool { return t.count > 0 }

func (t *Tree) covers(column, row int) bool {
	return column >= t.column && column < t.column+t.size &&
		row >= t.row && row < t.row+t.size
}

func quadrant(column, row, x, y, half int) (idx, qx, qy int) {
	qx, qy = x, y
	if column >= x+half {
		idx |= 1
		qx += half
	}
	if row >= y+half {
		idx |= 2
		qy += half
	}
	return idx, qx, qy
}

func (q *quad) split() {
	v := q.value
	q.leaf = false
	q.value = datatype.Value{}
	for i := range q.children {
		q.children[i] = &quad{leaf: true, value: v}
	}
}

func (q *quad) joinable(v datatype.Value) bool {
	for _, c := range q.children {
		if c == nil || !c.leaf || !c.value.Equal(v) {
			return false
		}
	}
	return true
}

// Append inserts one unit cell and returns the largest merged rectangle that
// now contains it. ok is false when the cell lies outside the tree.
func (t *Tree) Append(item Item) (Rect, bool) {
	if !t.covers(item.Column, item.Row) {
		return Rect{}, false
	}

	path := make([]frame, 0, 16)
	cur := frame{q: t.root, x: t.column, y: t.row, size: t.size}
	for cur.size > 1 {
		if cur.q.leaf {
			if cur.q.value.Equal(item.Value) {
				return rectOf(cur), true
			}
			cur.q.split()
		}
		half := cur.size / 2
		idx, qx, qy := quadrant(item.Column, item.Row, cur.x, cur.y, half)
		if cur.q.children[idx] == nil {
			cur.q.children[idx] = &quad{}
		}
		path = append(path, cur)
		cur = frame{q: cur.q.children[idx], x: qx, y: qy, size: half}
	}

	if !cur.q.leaf {
		t.count++
	}
	cur.q.leaf = true
	cur.q.value = item.Value

	merged := cur
	for i := len(path) - 1; i >= 0; i-- {
		p := path[i]
		if !p.q.joinable(item.Value) {
			break
		}
		p.q.leaf = true
		p.q.value = item.Value
		p.q.children = [4]*quad{}
		merged = p
	}
	return rectOf(merged), true
}

func rectOf(f frame) Rect {
	return Rect{Column: f.x, Row: f.y, Width: f.size, Height: f.size, Value: f.q.value}
}

// At returns the value stored for one cell.
func (t *Tree) At(column, row int) (datatype.Value, bool) {
	if !t.covers(column, row) {
		return datatype.Value{}, false
	}
	cur := frame{q: t.root, x: t.column, y: t.row, size: t.size}
	for {
		if cur.q.leaf {
			return cur.q.value, true
		}
		if cur.size == 1 {
			return datatype.Value{}, false
		}
		half := cur.size / 2
		idx, qx, qy := quadrant(column, row, cur.x, cur.y, half)
		next := cur.q.children[idx]
		if next == nil {
			return datatype.Value{}, false
		}
		cur = frame{q: next, x: qx, y: qy, size: half}
	}
}

// Values yields non-overlapping rectangles covering exactly the written cells.
// Each call returns a fresh sequence.
func (t *Tree) Values() iter.Seq[Rect] {
	return func(yield func(Rect) bool) {
		emit(frame{q: t.root, x: t.column, y: t.row, size: t.size}, yield)
	}
}

func pairable(a, b *quad) bool {
	return a != nil && b != nil && a.leaf && b.leaf && a.value.Equal(b.value)
}

func emit(f frame, yield func(Rect) bool) bool {
	q := f.q
	if q == nil {
		return true
	}
	if q.leaf {
		return yield(rectOf(f))
	}
	if f.size == 1 {
		return true
	}

	h := f.size / 2
	c := q.children
	var used [4]bool
	if pairable(c[0], c[1]) {
		if !yield(Rect{Column: f.x, Row: f.y, Width: f.size, Height: h, Value: c[0].value}) {
			return false
		}
		used[0], used[1] = true, true
	}
	if pairable(c[2], c[3]) {
		if !yield(Rect{Column: f.x, Row: f.y + h, Width: f.size, Height: h, Value: c[2].value}) {
			return false
		}
		used[2], used[3] = true, true
	}
	if !used[0] && !used[2] && pairable(c[0], c[2]) {
		if !yield(Rect{Column: f.x, Row: f.y, Width: h, Height: f.size, Value: c[0].value}) {
			return false
		}
		used[0], used[2] = true, true
	}
	if !used[1] && !used[3] && pairable(c[1], c[3]) {
		if !yield(Rect{Column: f.x + h, Row: f.y, Width: h, Height: f.size, Value: c[1].value}) {
			return false
		}
		used[1], used[3] = true, true
	}

	offsets := [4][2]int{{0, 0}, {h, 0}, {0, h}, {h, h}}
	for i, child := range c {
		if used[i] || child == nil {
			continue
		}
		if !emit(frame{q: child, x: f.x + offsets[i][0], y: f.y + offsets[i][1], size: h}, yield) {
			return false
		}
	}
	return true
}

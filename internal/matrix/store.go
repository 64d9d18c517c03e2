// Package matrix provides the sparse 2D cell store backing a heatmap.
//
// Cells are kept in a nibble trie keyed by the composite index (outer, inner),
// where the outer axis is chosen by IndexOrder. Storage is always keyed by the
// original column and row; an optional display-order permutation per axis lets
// callers address cells by display position.
package matrix

import (
	"iter"
	"math"

	"github.com/heatmap-tiles/server/internal/scheduler"
	"github.com/heatmap-tiles/server/pkg/datatype"
)

// IndexOrder selects which axis forms the outer part of the trie key.
type IndexOrder uint8

const (
	RowMajor IndexOrder = iota
	ColumnMajor
)

// Cell is one matrix entry. Identity is (Column, Row).
type Cell struct {
	Column     int            `json:"column"`
	Row        int            `json:"row"`
	Value      datatype.Value `json:"value"`
	Annotation string         `json:"annotation,omitempty"`
}

// Bounds is the bounding range of stored keys, in storage coordinates.
type Bounds struct {
	MinOuter int
	MaxOuter int
	MinInner int
	MaxInner int
}

// Store is a sparse matrix. It is not safe for concurrent use.
type Store struct {
	order   IndexOrder
	root    *node
	bounds  Bounds
	empty   bool
	count   int
	inserts int

	columns *Permutation
	rows    *Permutation
}

// New returns an empty store.
func New(order IndexOrder) *Store {
	return &Store{order: order, root: &node{}, empty: true}
}

// Order returns the configured index order.
func (s *Store) Order() IndexOrder { return s.order }

func toKey(v int) (uint32, bool) {
	if v < 0 || int64(v) > maxCoord {
		return 0, false
	}
	return uint32(v), true
}

func (s *Store) split(column, row int) (outer, inner int) {
	if s.order == ColumnMajor {
		return column, row
	}
	return row, column
}

func (s *Store) join(outer, inner int) (column, row int) {
	if s.order == ColumnMajor {
		return outer, inner
	}
	return inner, outer
}

// SetItem writes value at storage key (outer, inner). A later write to the
// same key replaces the earlier one. Keys outside the 32-bit range are ignored.
func (s *Store) SetItem(outer, inner int, value datatype.Value, annotation string) {
	o, ok := toKey(outer)
	if !ok {
		return
	}
	i, ok := toKey(inner)
	if !ok {
		return
	}
	if s.root.insert(&entry{outer: o, inner: i, value: value, annotation: annotation}) {
		s.count++
	}
	s.inserts++
	if s.empty {
		s.bounds = Bounds{MinOuter: outer, MaxOuter: outer, MinInner: inner, MaxInner: inner}
		s.empty = false
		return
	}
	s.bounds.MinOuter = min(s.bounds.MinOuter, outer)
	s.bounds.MaxOuter = max(s.bounds.MaxOuter, outer)
	s.bounds.MinInner = min(s.bounds.MinInner, inner)
	s.bounds.MaxInner = max(s.bounds.MaxInner, inner)
}

// Set writes c, addressed by its original column and row.
func (s *Store) Set(c Cell) {
	outer, inner := s.split(c.Column, c.Row)
	s.SetItem(outer, inner, c.Value, c.Annotation)
}

// GetItem looks up the cell at display key (outer, inner). The returned cell
// carries display coordinates.
func (s *Store) GetItem(outer, inner int) (Cell, bool) {
	column, row := s.join(outer, inner)
	return s.Get(column, row)
}

// Get looks up the cell shown at display position (column, row).
func (s *Store) Get(column, row int) (Cell, bool) {
	origOuter, origInner := s.split(s.columns.Original(column), s.rows.Original(row))
	o, ok := toKey(origOuter)
	if !ok {
		return Cell{}, false
	}
	i, ok := toKey(origInner)
	if !ok {
		return Cell{}, false
	}
	e := s.root.lookup(o, i)
	if e == nil {
		return Cell{}, false
	}
	return Cell{Column: column, Row: row, Value: e.value, Annotation: e.annotation}, true
}

func (s *Store) cellOf(e *entry) Cell {
	column, row := s.join(int(e.outer), int(e.inner))
	return Cell{
		Column:     s.columns.Display(column),
		Row:        s.rows.Display(row),
		Value:      e.value,
		Annotation: e.annotation,
	}
}

// Entries yields every cell in storage order with display coordinates.
// Each call starts a fresh traversal.
func (s *Store) Entries() iter.Seq[Cell] {
	return func(yield func(Cell) bool) {
		s.root.walk(func(e *entry) bool {
			return yield(s.cellOf(e))
		})
	}
}

// SetDisplayOrder installs the display permutations for columns and rows.
// A nil permutation means identity.
func (s *Store) SetDisplayOrder(columns, rows *Permutation) {
	s.columns = columns
	s.rows = rows
}

// DisplayOrder returns the installed permutations.
func (s *Store) DisplayOrder() (columns, rows *Permutation) {
	return s.columns, s.rows
}

// BuildMetadata recomputes all subtree counts from scratch. SetItem keeps
// them current incrementally; this is the bulk-load consistency pass.
func (s *Store) BuildMetadata() {
	s.count = s.root.recount()
}

// Count returns the number of distinct cells.
func (s *Store) Count() int { return s.count }

// Inserts returns the number of accepted SetItem calls, overwrites included.
func (s *Store) Inserts() int { return s.inserts }

// Bounds returns the storage-space bounding range; ok is false for an empty store.
func (s *Store) Bounds() (Bounds, bool) {
	return s.bounds, !s.empty
}

// Ingest writes cells chunk by chunk on sched, then rebuilds metadata.
// done reports whether the whole sequence was consumed.
func (s *Store) Ingest(sched scheduler.Scheduler, token *scheduler.Token, cells iter.Seq[Cell], chunk int, done func(completed bool)) {
	scheduler.RunChunked(sched, token, cells, chunk, s.Set, func(completed bool) {
		s.BuildMetadata()
		if done != nil {
			done(completed)
		}
	})
}

// Point is a position in display data space; integer parts address cells.
type Point struct {
	Column float64
	Row    float64
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

package matrix

import (
	"iter"
	"math"
)

// sector s of ring r is side (r, k) for k in (-r, r], rotated by s*90 degrees.
// Sector 0 faces +column, 1 faces +row, 2 faces -column, 3 faces -row.
func rotate(a, b, sector int) (int, int) {
	for ; sector > 0; sector-- {
		a, b = -b, a
	}
	return a, b
}

// crossPattern lists the side offsets of ring r nearest-first:
// 0, 1, -1, 2, -2, ..., r-1, -(r-1), r.
func crossPattern(r int) []int {
	out := make([]int, 0, 2*r)
	out = append(out, 0)
	for k := 1; k < r; k++ {
		out = append(out, k, -k)
	}
	if r > 0 {
		out = append(out, r)
	}
	return out
}

// sectorOrder ranks the four sectors by how well they face the sub-cell offset.
func sectorOrder(dx, dy float64) [4]int {
	var best, next int
	if math.Abs(dx) >= math.Abs(dy) {
		best = 0
		if dx < 0 {
			best = 2
		}
		next = 1
		if dy < 0 {
			next = 3
		}
	} else {
		best = 1
		if dy < 0 {
			best = 3
		}
		next = 0
		if dx < 0 {
			next = 2
		}
	}
	return [4]int{best, next, (next + 2) % 4, (best + 2) % 4}
}

// EntriesWithinRadius yields stored cells around center, ring by ring, with
// approximately nearest cells first. Ring 0 is the cell containing center;
// rings up to ceil(radius) are probed. A negative or NaN radius falls back to
// Entries. The ordering is a heuristic for hover hit-testing, not an exact
// nearest-neighbour order.
func (s *Store) EntriesWithinRadius(center Point, radius float64) iter.Seq[Cell] {
	if math.IsNaN(radius) || radius < 0 {
		return s.Entries()
	}
	return func(yield func(Cell) bool) {
		if !finite(center.Column) || !finite(center.Row) ||
			math.Abs(center.Column) > maxCoord || math.Abs(center.Row) > maxCoord {
			return
		}
		cx := int(math.Floor(center.Column))
		cy := int(math.Floor(center.Row))
		order := sectorOrder(center.Column-float64(cx)-0.5, center.Row-float64(cy)-0.5)

		probe := func(column, row int) bool {
			if column < 0 || row < 0 {
				return true
			}
			if c, ok := s.Get(column, row); ok {
				return yield(c)
			}
			return true
		}

		if !probe(cx, cy) {
			return
		}
		rings := s.ringLimit(cx, cy, radius)
		for r := 1; r <= rings; r++ {
			for _, k := range crossPattern(r) {
				for _, sector := range order {
					dx, dy := rotate(r, k, sector)
					if !probe(cx+dx, cy+dy) {
						return
					}
				}
			}
		}
	}
}

// ringLimit caps the ring count at the distance to the farthest stored
// display coordinate, so oversized radii stay finite.
func (s *Store) ringLimit(cx, cy int, radius float64) int {
	b, ok := s.Bounds()
	if !ok {
		return 0
	}
	maxColumn, maxRow := s.join(b.MaxOuter, b.MaxInner)
	maxColumn = max(maxColumn, s.columns.Len()-1)
	maxRow = max(maxRow, s.rows.Len()-1)
	reach := max(abs(cx), abs(cx-maxColumn), abs(cy), abs(cy-maxRow))
	if radius >= float64(reach) {
		return reach
	}
	return int(math.Ceil(radius))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

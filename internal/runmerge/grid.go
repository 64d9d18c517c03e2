package runmerge

import (
	"iter"
	"math"
	"sync/atomic"

	"github.com/heatmap-tiles/server/internal/scheduler"
)

// DefaultBlockSize is the edge length of one RunBlock.
const DefaultBlockSize = 512

type blockKey struct{ x, y int }

// Block is one lazily created tile of the grid owning a Tree.
type Block struct {
	X    int
	Y    int
	tree *Tree
}

// Tree returns the block's run-merge tree.
func (b *Block) Tree() *Tree { return b.tree }

// blockSet is one complete generation of blocks. The grid swaps whole sets so
// readers never observe a half-built generation.
type blockSet struct {
	blocks map[blockKey]*Block
	minX   int
	maxX   int
	minY   int
	maxY   int
	count  int
}

func newBlockSet() *blockSet {
	return &blockSet{blocks: make(map[blockKey]*Block)}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func (s *blockSet) append(size int, item Item) (Rect, bool) {
	key := blockKey{x: floorDiv(item.Column, size), y: floorDiv(item.Row, size)}
	b, ok := s.blocks[key]
	if !ok {
		b = &Block{X: key.x, Y: key.y, tree: NewTree(key.x*size, key.y*size, size)}
		if len(s.blocks) == 0 {
			s.minX, s.maxX, s.minY, s.maxY = key.x, key.x, key.y, key.y
		} else {
			s.minX = min(s.minX, key.x)
			s.maxX = max(s.maxX, key.x)
			s.minY = min(s.minY, key.y)
			s.maxY = max(s.maxY, key.y)
		}
		s.blocks[key] = b
	}
	before := b.tree.Count()
	r, ok := b.tree.Append(item)
	s.count += b.tree.Count() - before
	return r, ok
}

// Window is a data-space rectangle, in display cells.
type Window struct {
	Column float64
	Row    float64
	Width  float64
	Height float64
}

// GridConfig configures a Grid.
type GridConfig struct {
	BlockSize int
	ChunkSize int
	Scheduler scheduler.Scheduler
}

type pendingRebuild struct {
	start func()
	done  func(bool)
}

// Grid partitions display space into RunBlocks and owns their rebuilds.
// It is driven from the scheduler's frame loop.
type Grid struct {
	blockSize int
	chunkSize int
	sched     scheduler.Scheduler

	set        atomic.Pointer[blockSet]
	generation int

	token   *scheduler.Token
	running bool
	live    []Item
	pending *pendingRebuild
}

// NewGrid returns an empty grid.
func NewGrid(cfg GridConfig) *Grid {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = scheduler.DefaultChunkSize
	}
	if cfg.Scheduler == nil {
		panic("runmerge: nil scheduler")
	}
	g := &Grid{blockSize: cfg.BlockSize, chunkSize: cfg.ChunkSize, sched: cfg.Scheduler}
	g.set.Store(newBlockSet())
	return g
}

// BlockSize returns the block edge length, rounded as the trees round it.
func (g *Grid) BlockSize() int { return g.blockSize }

// Generation counts completed rebuilds.
func (g *Grid) Generation() int { return g.generation }

// Rebuilding reports whether a rebuild is in flight.
func (g *Grid) Rebuilding() bool { return g.running }

// Count returns the number of distinct cells in the current generation.
func (g *Grid) Count() int { return g.set.Load().count }

// HasValues reports whether the current generation holds any cell.
func (g *Grid) HasValues() bool { return g.Count() > 0 }

// Blocks returns the number of blocks in the current generation.
func (g *Grid) Blocks() int { return len(g.set.Load().blocks) }

// Append writes one cell into the current generation and returns the merged
// rectangle to redraw. Cells appended while a rebuild runs are replayed into
// the rebuilt generation before it is swapped in.
func (g *Grid) Append(item Item) (Rect, bool) {
	if g.running {
		g.live = append(g.live, item)
	}
	return g.set.Load().append(g.blockSize, item)
}

// At returns the value of one cell in the current generation.
func (g *Grid) At(column, row int) (Rect, bool) {
	set := g.set.Load()
	b, ok := set.blocks[blockKey{x: floorDiv(column, g.blockSize), y: floorDiv(row, g.blockSize)}]
	if !ok {
		return Rect{}, false
	}
	v, ok := b.tree.At(column, row)
	if !ok {
		return Rect{}, false
	}
	return Rect{Column: column, Row: row, Width: 1, Height: 1, Value: v}, true
}

// Values yields the merged rectangles of every block intersecting w, in
// block row-major order.
func (g *Grid) Values(w Window) iter.Seq[Rect] {
	set := g.set.Load()
	return func(yield func(Rect) bool) {
		if len(set.blocks) == 0 || !(w.Width > 0) || !(w.Height > 0) {
			return
		}
		size := float64(g.blockSize)
		x0 := max(set.minX, clampInt(math.Floor(w.Column/size)))
		x1 := min(set.maxX, clampInt(math.Floor((w.Column+w.Width)/size)))
		y0 := max(set.minY, clampInt(math.Floor(w.Row/size)))
		y1 := min(set.maxY, clampInt(math.Floor((w.Row+w.Height)/size)))
		for by := y0; by <= y1; by++ {
			for bx := x0; bx <= x1; bx++ {
				b, ok := set.blocks[blockKey{x: bx, y: by}]
				if !ok {
					continue
				}
				for r := range b.tree.Values() {
					if !yield(r) {
						return
					}
				}
			}
		}
	}
}

// All yields the rectangles of every block.
func (g *Grid) All() iter.Seq[Rect] {
	set := g.set.Load()
	return func(yield func(Rect) bool) {
		for by := set.minY; by <= set.maxY && len(set.blocks) > 0; by++ {
			for bx := set.minX; bx <= set.maxX; bx++ {
				b, ok := set.blocks[blockKey{x: bx, y: by}]
				if !ok {
					continue
				}
				for r := range b.tree.Values() {
					if !yield(r) {
						return
					}
				}
			}
		}
	}
}

func clampInt(f float64) int {
	const limit = 1 << 40
	if math.IsNaN(f) {
		return 0
	}
	if f > limit {
		return limit
	}
	if f < -limit {
		return -limit
	}
	return int(f)
}

// Rebuild builds a new generation from items in chunks on the scheduler and
// swaps it in once complete. A rebuild started while another is in flight
// cancels the running one and starts after it acknowledged; only the newest
// waiting rebuild starts, superseded ones report done(false).
func (g *Grid) Rebuild(items iter.Seq[Item], done func(completed bool)) {
	start := func() { g.startRebuild(items, done) }
	if !g.running {
		start()
		return
	}

	if g.pending != nil && g.pending.done != nil {
		g.pending.done(false)
	}
	g.pending = &pendingRebuild{start: start, done: done}

	prev := g.token
	if prev.Cancelled() {
		return
	}
	prev.Cancel()
	prev.OnAcknowledge(func() {
		p := g.pending
		g.pending = nil
		g.running = false
		if p != nil {
			p.start()
		}
	})
}

func (g *Grid) startRebuild(items iter.Seq[Item], done func(bool)) {
	token := scheduler.NewToken()
	g.token = token
	g.running = true
	g.live = nil
	shadow := newBlockSet()

	scheduler.RunChunked(g.sched, token, items, g.chunkSize, func(it Item) {
		shadow.append(g.blockSize, it)
	}, func(completed bool) {
		if completed {
			for _, it := range g.live {
				shadow.append(g.blockSize, it)
			}
			g.live = nil
			g.set.Store(shadow)
			g.generation++
		}
		if g.token == token && completed {
			g.running = false
		}
		if done != nil {
			done(completed)
		}
	})
}

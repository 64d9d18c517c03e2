// Package heatmap binds the engine parts of one heatmap together: labels,
// the sparse store, dendrogram orders, the run-merge grid and the color
// scheme. A Dataset is owned by one scheduler and must only be used from
// its callbacks.
package heatmap

import (
	"iter"
	"math"
	"slices"
	"strconv"

	"github.com/heatmap-tiles/server/internal/data/payload"
	"github.com/heatmap-tiles/server/internal/event"
	"github.com/heatmap-tiles/server/internal/hierarchy"
	"github.com/heatmap-tiles/server/internal/matrix"
	"github.com/heatmap-tiles/server/internal/runmerge"
	"github.com/heatmap-tiles/server/internal/scheduler"
	"github.com/heatmap-tiles/server/pkg/colormap"
	"github.com/heatmap-tiles/server/pkg/datatype"
)

// Config configures a Dataset.
type Config struct {
	Scheduler       scheduler.Scheduler
	Order           matrix.IndexOrder
	BlockSize       int
	ChunkSize       int
	DefaultColormap string
	Missing         colormap.Color
}

// IngestReport summarizes one ingestion.
type IngestReport struct {
	Cells     int  `json:"cells"`
	Skipped   int  `json:"skipped"`
	Completed bool `json:"completed"`
}

// Dataset is one heatmap's data and derived state.
type Dataset struct {
	cfg Config

	store *matrix.Store
	grid  *runmerge.Grid

	columnLabels []string
	rowLabels    []string
	columnTree   *hierarchy.Tree
	rowTree      *hierarchy.Tree
	columnOrder  *matrix.Permutation
	rowOrder     *matrix.Permutation
	dendrogram   bool

	dataType   datatype.DataType
	minimum    float64
	maximum    float64
	ranged     bool
	categories []string
	scheme     *colormap.Scheme
	userScheme bool

	token     *scheduler.Token
	lifecycle event.Lifecycle
	changed   event.Dispatcher[struct{}]
}

// New returns an empty dataset.
func New(cfg Config) *Dataset {
	if cfg.Scheduler == nil {
		panic("heatmap: nil scheduler")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = scheduler.DefaultChunkSize
	}
	if cfg.DefaultColormap == "" {
		cfg.DefaultColormap = "viridis"
	}
	d := &Dataset{
		cfg:        cfg,
		store:      matrix.New(cfg.Order),
		dataType:   datatype.DataTypeNumber,
		dendrogram: true,
	}
	d.grid = runmerge.NewGrid(runmerge.GridConfig{
		BlockSize: cfg.BlockSize,
		ChunkSize: cfg.ChunkSize,
		Scheduler: cfg.Scheduler,
	})
	d.scheme = d.defaultScheme()
	return d
}

// Ready reports whether an ingestion completed.
func (d *Dataset) Ready() bool { return d.lifecycle.Ready() }

// OnReady calls fn once the dataset is ready.
func (d *Dataset) OnReady(fn func()) (off func()) { return d.lifecycle.OnReady(fn) }

// OnChange calls fn after the display changed: new data, new order or a new
// color scheme.
func (d *Dataset) OnChange(fn func()) (off func()) {
	return d.changed.On(func(struct{}) { fn() })
}

// Store returns the sparse store.
func (d *Dataset) Store() *matrix.Store { return d.store }

// Grid returns the run-merge grid in display coordinates.
func (d *Dataset) Grid() *runmerge.Grid { return d.grid }

// Columns returns the number of columns.
func (d *Dataset) Columns() int { return len(d.columnLabels) }

// Rows returns the number of rows.
func (d *Dataset) Rows() int { return len(d.rowLabels) }

// DataType returns the dataset classification.
func (d *Dataset) DataType() datatype.DataType { return d.dataType }

// Range returns the numeric value range.
func (d *Dataset) Range() (minimum, maximum float64) { return d.minimum, d.maximum }

// Ingest replaces the dataset with p, ordering rows and columns by
// clustering when given. Malformed entries are skipped and counted. Work is
// chunked on the scheduler; an ingestion started while another runs cancels
// it. done may be nil.
func (d *Dataset) Ingest(p *payload.Payload, clustering *payload.Clustering, done func(IngestReport)) {
	if p == nil {
		panic("heatmap: nil payload")
	}
	if d.token != nil {
		d.token.Cancel()
	}
	token := scheduler.NewToken()
	d.token = token
	d.lifecycle.Reset()

	dec := newDecoder()
	cells := dec.cellValues(p)
	if len(p.Cells) > 0 {
		cells = concat(cells, dec.rawCells(p.Cells))
	}

	store := matrix.New(d.cfg.Order)
	var columnTree, rowTree *hierarchy.Tree
	if clustering != nil {
		columnTree = hierarchy.Parse(clustering.Columns)
		rowTree = hierarchy.Parse(clustering.Rows)
	}

	finish := func(completed bool) {
		if done != nil {
			done(IngestReport{Cells: store.Count(), Skipped: dec.skipped, Completed: completed})
		}
	}

	store.Ingest(d.cfg.Scheduler, token, cells, d.cfg.ChunkSize, func(completed bool) {
		if !completed {
			finish(false)
			return
		}
		d.store = store
		d.columnLabels = labels(p.ColumnLabels, dec.maxColumn)
		d.rowLabels = labels(p.RowLabels, dec.maxRow)
		d.columnTree = orderedTree(columnTree)
		d.rowTree = orderedTree(rowTree)
		d.classify(p, dec)
		d.applyOrder(func(completed bool) {
			if completed {
				d.lifecycle.MarkReady()
			}
			finish(completed)
		})
	})
}

// IngestRows replaces the dataset with raw [column, row, value, annotation?]
// rows. Labels are the column and row indices.
func (d *Dataset) IngestRows(rows []any, done func(IngestReport)) {
	d.Ingest(&payload.Payload{Cells: rows}, nil, done)
}

func concat[T any](seqs ...iter.Seq[T]) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, seq := range seqs {
			for v := range seq {
				if !yield(v) {
					return
				}
			}
		}
	}
}

// labels pads given to cover index maxIndex with numeric labels.
func labels(given []string, maxIndex int) []string {
	out := append([]string(nil), given...)
	for i := len(out); i <= maxIndex; i++ {
		out = append(out, strconv.Itoa(i))
	}
	return out
}

func orderedTree(t *hierarchy.Tree) *hierarchy.Tree {
	if t == nil || t.Invalid() {
		return nil
	}
	t.BuildOrders()
	t.SetDepth()
	return t
}

func (d *Dataset) classify(p *payload.Payload, dec *decoder) {
	dt, ok := datatype.ParseDataType(p.CellValueType)
	if !ok {
		dt = dec.classifier.DataType()
	}
	d.dataType = dt
	d.categories = dec.categories

	lo, hi, ok := dec.classifier.Range()
	if !ok {
		lo, hi = 0, 0
	}
	if p.MinCellValue != nil {
		lo = *p.MinCellValue
	}
	if p.MaxCellValue != nil {
		hi = *p.MaxCellValue
	}
	d.minimum, d.maximum = lo, hi
	d.ranged = ok || p.MinCellValue != nil || p.MaxCellValue != nil
	d.refreshScheme()
}

// refreshScheme applies the current range to a user scheme of the matching
// data type and replaces any other scheme with the default one.
func (d *Dataset) refreshScheme() {
	if d.userScheme && d.scheme.DataType == d.dataType {
		d.scheme.SetRange(d.minimum, d.maximum)
		return
	}
	d.userScheme = false
	d.scheme = d.defaultScheme()
}

// observe folds a live edit into the range, categories and data type. It
// reports whether the color scheme changed.
func (d *Dataset) observe(v datatype.Value) bool {
	if f, ok := v.Float(); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		if d.ranged && f >= d.minimum && f <= d.maximum {
			return false
		}
		if !d.ranged {
			d.minimum, d.maximum, d.ranged = f, f, true
		} else {
			d.minimum, d.maximum = min(d.minimum, f), max(d.maximum, f)
		}
		if d.dataType != datatype.DataTypeNumber {
			return false
		}
		d.refreshScheme()
		return true
	}
	if v.Kind() != datatype.KindCategory {
		return false
	}
	name := v.String()
	if slices.Contains(d.categories, name) && d.dataType == datatype.DataTypeString {
		return false
	}
	if !slices.Contains(d.categories, name) {
		d.categories = append(d.categories, name)
	}
	// A single category makes the whole dataset categorical.
	d.dataType = datatype.DataTypeString
	if d.userScheme && d.scheme.DataType == d.dataType {
		return false
	}
	d.refreshScheme()
	return true
}

func (d *Dataset) defaultScheme() *colormap.Scheme {
	if d.dataType == datatype.DataTypeString {
		return colormap.DefaultCategorical(d.categories, d.cfg.Missing)
	}
	s, ok := colormap.Preset(d.cfg.DefaultColormap, d.minimum, d.maximum, d.cfg.Missing)
	if !ok {
		s, _ = colormap.Preset("viridis", d.minimum, d.maximum, d.cfg.Missing)
	}
	return s
}

// permutation places labels in tree order; labels missing from the tree keep
// their relative order at the front.
func permutation(t *hierarchy.Tree, names []string) *matrix.Permutation {
	if t == nil || len(names) == 0 {
		return nil
	}
	infos := hierarchy.GetItemsOrderInfo(t, names, func(s string) string { return s })
	display := make([]int, len(names))
	for pos, info := range infos {
		display[info.OriginalOrder] = pos
	}
	p, _ := matrix.NewPermutation(display)
	return p
}

// applyOrder installs the display permutations and rebuilds the grid.
func (d *Dataset) applyOrder(done func(completed bool)) {
	d.columnOrder, d.rowOrder = nil, nil
	if d.dendrogram {
		d.columnOrder = permutation(d.columnTree, d.columnLabels)
		d.rowOrder = permutation(d.rowTree, d.rowLabels)
	}
	d.store.SetDisplayOrder(d.columnOrder, d.rowOrder)
	d.grid.Rebuild(d.items(), func(completed bool) {
		if completed {
			d.changed.Emit(struct{}{})
		}
		if done != nil {
			done(completed)
		}
	})
}

func (d *Dataset) items() iter.Seq[runmerge.Item] {
	store := d.store
	return func(yield func(runmerge.Item) bool) {
		for c := range store.Entries() {
			if !yield(runmerge.Item{Column: c.Column, Row: c.Row, Value: c.Value}) {
				return
			}
		}
	}
}

// Set writes one cell, addressed by original column and row, and returns the
// merged display rectangle to redraw.
func (d *Dataset) Set(c matrix.Cell) (runmerge.Rect, bool) {
	if c.Column < 0 || c.Row < 0 {
		return runmerge.Rect{}, false
	}
	d.store.Set(c)
	if d.observe(c.Value) {
		d.changed.Emit(struct{}{})
	}
	for len(d.columnLabels) <= c.Column {
		d.columnLabels = append(d.columnLabels, strconv.Itoa(len(d.columnLabels)))
	}
	for len(d.rowLabels) <= c.Row {
		d.rowLabels = append(d.rowLabels, strconv.Itoa(len(d.rowLabels)))
	}
	return d.grid.Append(runmerge.Item{
		Column: d.columnOrder.Display(c.Column),
		Row:    d.rowOrder.Display(c.Row),
		Value:  c.Value,
	})
}

// DendrogramEnabled reports whether display order follows the hierarchies.
func (d *Dataset) DendrogramEnabled() bool { return d.dendrogram }

// DendrogramAvailable reports whether any axis has a valid hierarchy.
func (d *Dataset) DendrogramAvailable() bool { return d.columnTree != nil || d.rowTree != nil }

// SetDendrogramEnabled switches between hierarchy and original order and
// rebuilds the grid. done receives false when nothing changed or a newer
// rebuild superseded this one.
func (d *Dataset) SetDendrogramEnabled(enabled bool, done func(completed bool)) {
	if d.dendrogram == enabled {
		if done != nil {
			done(false)
		}
		return
	}
	d.dendrogram = enabled
	d.applyOrder(done)
}

// Cell returns the cell shown at display position (column, row).
func (d *Dataset) Cell(column, row int) (matrix.Cell, bool) {
	return d.store.Get(column, row)
}

// Hover returns up to limit cells around p, nearest first.
func (d *Dataset) Hover(p matrix.Point, radius float64, limit int) []matrix.Cell {
	var out []matrix.Cell
	for c := range d.store.EntriesWithinRadius(p, radius) {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, c)
	}
	return out
}

// Rects yields the merged rectangles intersecting w, in display coordinates.
func (d *Dataset) Rects(w runmerge.Window) iter.Seq[runmerge.Rect] {
	return d.grid.Values(w)
}

// Scheme returns the active color scheme.
func (d *Dataset) Scheme() *colormap.Scheme { return d.scheme }

// SetScheme replaces the color scheme. The dataset range is applied to it.
func (d *Dataset) SetScheme(s *colormap.Scheme) {
	if s == nil {
		panic("heatmap: nil scheme")
	}
	s.SetRange(d.minimum, d.maximum)
	d.scheme = s
	d.userScheme = true
	d.changed.Emit(struct{}{})
}

// Color resolves v through the active scheme.
func (d *Dataset) Color(v datatype.Value) (colormap.Color, bool) {
	return d.scheme.ColorForValue(v)
}

package heatmap

import (
	"iter"

	"github.com/heatmap-tiles/server/internal/data/payload"
	"github.com/heatmap-tiles/server/internal/matrix"
	"github.com/heatmap-tiles/server/pkg/datatype"
)

// decoder turns payload entries into cells and counts what it skipped.
type decoder struct {
	skipped    int
	classifier datatype.Classifier
	categories []string
	seen       map[string]struct{}
	maxColumn  int
	maxRow     int
}

func newDecoder() *decoder {
	return &decoder{seen: make(map[string]struct{}), maxColumn: -1, maxRow: -1}
}

func (d *decoder) observe(c matrix.Cell) {
	d.classifier.Add(c.Value)
	if !c.Value.IsNumber() {
		name := c.Value.String()
		if _, dup := d.seen[name]; !dup {
			d.seen[name] = struct{}{}
			d.categories = append(d.categories, name)
		}
	}
	d.maxColumn = max(d.maxColumn, c.Column)
	d.maxRow = max(d.maxRow, c.Row)
}

// cellValues yields the cells of the row-major CellValues array. Null
// entries are empty cells; entries that are not scalars are skipped.
func (d *decoder) cellValues(p *payload.Payload) iter.Seq[matrix.Cell] {
	columns := len(p.ColumnLabels)
	return func(yield func(matrix.Cell) bool) {
		emit := func(column, row int, raw any) bool {
			if raw == nil {
				return true
			}
			v, ok := datatype.FromAny(raw)
			if !ok {
				d.skipped++
				return true
			}
			c := matrix.Cell{Column: column, Row: row, Value: v}
			d.observe(c)
			return yield(c)
		}

		flat := 0
		for i, entry := range p.CellValues {
			if row, ok := entry.([]any); ok {
				for column, raw := range row {
					if !emit(column, i, raw) {
						return
					}
				}
				continue
			}
			if columns == 0 {
				d.skipped++
				continue
			}
			if !emit(flat%columns, flat/columns, entry) {
				return
			}
			flat++
		}
	}
}

// rawCells yields cells from [column, row, value, annotation?] tuples or
// {column, row, value, annotation} objects.
func (d *decoder) rawCells(rows []any) iter.Seq[matrix.Cell] {
	return func(yield func(matrix.Cell) bool) {
		for _, raw := range rows {
			c, ok := parseRawCell(raw)
			if !ok {
				d.skipped++
				continue
			}
			d.observe(c)
			if !yield(c) {
				return
			}
		}
	}
}

func parseRawCell(raw any) (matrix.Cell, bool) {
	var column, row, value, annotation any
	switch x := raw.(type) {
	case []any:
		if len(x) < 3 {
			return matrix.Cell{}, false
		}
		column, row, value = x[0], x[1], x[2]
		if len(x) > 3 {
			annotation = x[3]
		}
	case map[string]any:
		column, row, value, annotation = x["column"], x["row"], x["value"], x["annotation"]
	default:
		return matrix.Cell{}, false
	}

	c, ok1 := index(column)
	r, ok2 := index(row)
	v, ok3 := datatype.FromAny(value)
	if !ok1 || !ok2 || !ok3 {
		return matrix.Cell{}, false
	}
	cell := matrix.Cell{Column: c, Row: r, Value: v}
	if s, ok := annotation.(string); ok {
		cell.Annotation = s
	}
	return cell, true
}

func index(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f < 0 || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

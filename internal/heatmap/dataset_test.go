package heatmap

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatmap-tiles/server/internal/data/payload"
	"github.com/heatmap-tiles/server/internal/matrix"
	"github.com/heatmap-tiles/server/internal/runmerge"
	"github.com/heatmap-tiles/server/internal/scheduler"
	"github.com/heatmap-tiles/server/pkg/colormap"
	"github.com/heatmap-tiles/server/pkg/datatype"
)

func ptr(f float64) *float64 { return &f }

func testPayload() *payload.Payload {
	return &payload.Payload{
		ColumnLabels:  []string{"c0", "c1", "c2"},
		RowLabels:     []string{"r0", "r1"},
		CellValueType: "number",
		MinCellValue:  ptr(0),
		MaxCellValue:  ptr(5),
		CellValues:    []any{0.0, 1.0, map[string]any{"bad": 1.0}, 3.0, nil, 5.0},
	}
}

func testClustering() *payload.Clustering {
	return &payload.Clustering{
		Columns: []any{[]any{"c2", "c0"}, "c1"},
		Rows:    []any{"r1", "r0"},
	}
}

func ingest(t *testing.T, d *Dataset, m *scheduler.Manual, p *payload.Payload, c *payload.Clustering) IngestReport {
	t.Helper()
	var report IngestReport
	var called bool
	d.Ingest(p, c, func(r IngestReport) { report, called = r, true })
	m.Drain(100)
	require.True(t, called)
	return report
}

func newTestDataset(t *testing.T) (*Dataset, *scheduler.Manual) {
	t.Helper()
	m := scheduler.NewManual(time.Unix(0, 0), 16*time.Millisecond)
	return New(Config{Scheduler: m, BlockSize: 8, ChunkSize: 2, Missing: 0xffffff}), m
}

func TestIngestWithClustering(t *testing.T) {
	d, m := newTestDataset(t)
	report := ingest(t, d, m, testPayload(), testClustering())

	assert.Equal(t, IngestReport{Cells: 4, Skipped: 1, Completed: true}, report)
	assert.True(t, d.Ready())
	assert.Equal(t, datatype.DataTypeNumber, d.DataType())

	meta := d.Metadata()
	assert.Equal(t, []string{"c2", "c0", "c1"}, meta.ColumnLabels)
	assert.Equal(t, []string{"r1", "r0"}, meta.RowLabels)
	assert.Equal(t, 5.0, meta.Maximum)
	assert.True(t, meta.DendrogramAvailable)

	c, ok := d.Cell(0, 0)
	require.True(t, ok)
	assert.Equal(t, datatype.Number(5), c.Value)
	c, ok = d.Cell(1, 1)
	require.True(t, ok)
	assert.Equal(t, datatype.Number(0), c.Value)

	// Rectangles come out in display coordinates.
	r, ok := d.Grid().At(0, 0)
	require.True(t, ok)
	assert.Equal(t, datatype.Number(5), r.Value)
	assert.Equal(t, 4, d.Grid().Count())
}

func TestDendrogramLayout(t *testing.T) {
	d, m := newTestDataset(t)
	ingest(t, d, m, testPayload(), testClustering())

	dg, ok := d.Dendrogram(AxisColumns)
	require.True(t, ok)
	assert.Equal(t, 2, dg.Depth)
	require.Len(t, dg.Nodes, 5)
	root := dg.Nodes[0]
	assert.Equal(t, 0, root.Start)
	assert.Equal(t, 2, root.End)
	assert.Equal(t, 1.25, root.Center)
	assert.Equal(t, 1, root.Left)
	assert.Equal(t, 4, root.Right)
	assert.Equal(t, "c1", dg.Nodes[4].Leaf)
}

func TestSetDendrogramEnabled(t *testing.T) {
	d, m := newTestDataset(t)
	ingest(t, d, m, testPayload(), testClustering())

	var completed bool
	d.SetDendrogramEnabled(false, func(ok bool) { completed = ok })
	m.Drain(100)
	assert.True(t, completed)

	c, ok := d.Cell(0, 0)
	require.True(t, ok)
	assert.Equal(t, datatype.Number(0), c.Value)
	assert.Equal(t, []string{"c0", "c1", "c2"}, d.Metadata().ColumnLabels)
	_, ok = d.Dendrogram(AxisRows)
	assert.False(t, ok)
	r, ok := d.Grid().At(0, 0)
	require.True(t, ok)
	assert.Equal(t, datatype.Number(0), r.Value)
}

func TestLiveSetUsesDisplayOrder(t *testing.T) {
	d, m := newTestDataset(t)
	ingest(t, d, m, testPayload(), testClustering())

	rect, ok := d.Set(matrix.Cell{Column: 1, Row: 1, Value: datatype.Number(4)})
	require.True(t, ok)
	assert.Equal(t, 2, rect.Column)
	assert.Equal(t, 0, rect.Row)
	c, ok := d.Cell(2, 0)
	require.True(t, ok)
	assert.Equal(t, datatype.Number(4), c.Value)
	assert.Equal(t, 5, d.Metadata().Count)
}

func TestSetDuringRebuildKeepsEveryCell(t *testing.T) {
	d, m := newTestDataset(t)
	ingest(t, d, m, &payload.Payload{Cells: []any{
		[]any{1.0, 0.0, 1.0},
		[]any{2.0, 0.0, 2.0},
		[]any{3.0, 0.0, 3.0},
	}}, nil)

	var completed bool
	d.Grid().Rebuild(d.items(), func(ok bool) { completed = ok })
	m.Step()
	d.Set(matrix.Cell{Column: 0, Row: 0, Value: datatype.Number(9)})
	m.Drain(100)
	require.True(t, completed)

	for column := 0; column <= 3; column++ {
		stored, ok := d.Cell(column, 0)
		require.True(t, ok, "column %d not stored", column)
		r, ok := d.Grid().At(column, 0)
		require.True(t, ok, "column %d missing from rebuilt grid", column)
		assert.Equal(t, stored.Value, r.Value)
	}
	assert.Equal(t, 4, d.Grid().Count())
}

func TestIngestRowsAndCategories(t *testing.T) {
	d, m := newTestDataset(t)
	report := ingest(t, d, m, &payload.Payload{Cells: []any{
		[]any{0.0, 0.0, "a"},
		[]any{1.0, 0.0, "b", "note"},
		map[string]any{"column": 3.0, "row": 2.0, "value": "a"},
		[]any{-1.0, 0.0, "c"},
		"garbage",
	}}, nil)

	assert.Equal(t, 3, report.Cells)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, datatype.DataTypeString, d.DataType())
	assert.Equal(t, 4, d.Columns())
	assert.Equal(t, 3, d.Rows())
	assert.False(t, d.DendrogramAvailable())

	c, ok := d.Cell(1, 0)
	require.True(t, ok)
	assert.Equal(t, "note", c.Annotation)

	a, _ := d.Color(datatype.Category("a"))
	b, _ := d.Color(datatype.Category("b"))
	assert.NotEqual(t, a, b)
	missing, _ := d.Color(datatype.Category("zzz"))
	assert.Equal(t, colormap.Color(0xffffff), missing)
}

func TestLiveSetExtendsRangeAndCategories(t *testing.T) {
	d, m := newTestDataset(t)
	ingest(t, d, m, testPayload(), testClustering())
	var changes int
	d.OnChange(func() { changes++ })

	before, _ := d.Color(datatype.Number(9))
	require.Equal(t, colormap.Color(0xffffff), before, "9 is outside the ingested range")

	d.Set(matrix.Cell{Column: 0, Row: 0, Value: datatype.Number(9)})
	lo, hi := d.Range()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 9.0, hi)
	after, ok := d.Color(datatype.Number(9))
	require.True(t, ok)
	assert.NotEqual(t, colormap.Color(0xffffff), after)
	assert.Equal(t, 1, changes)

	// Values inside the range leave the scheme alone.
	d.Set(matrix.Cell{Column: 1, Row: 0, Value: datatype.Number(4)})
	assert.Equal(t, 1, changes)

	cats, m2 := newTestDataset(t)
	ingest(t, cats, m2, &payload.Payload{Cells: []any{
		[]any{0.0, 0.0, "a"},
		[]any{1.0, 0.0, "b"},
	}}, nil)
	cats.Set(matrix.Cell{Column: 2, Row: 0, Value: datatype.Category("c")})
	c, _ := cats.Color(datatype.Category("c"))
	a, _ := cats.Color(datatype.Category("a"))
	assert.NotEqual(t, colormap.Color(0xffffff), c)
	assert.NotEqual(t, a, c)
	assert.Equal(t, datatype.DataTypeString, cats.DataType())
}

func TestStateRoundTrip(t *testing.T) {
	d, m := newTestDataset(t)
	ingest(t, d, m, testPayload(), testClustering())

	scheme := colormap.NewDiscrete(datatype.DataTypeNumber, []colormap.ColorConfiguration{
		colormap.Range(0, 2, 0xff0000),
		colormap.Range(2, 5, 0x00ff00),
	}, 0x000000)
	d.SetScheme(scheme)
	state := d.State()
	assert.Equal(t, "1", state[len(state)-1:])

	other, m2 := newTestDataset(t)
	ingest(t, other, m2, testPayload(), testClustering())
	require.NoError(t, other.ApplyState(state[:len(state)-1]+"0", nil))
	m2.Drain(100)

	assert.False(t, other.DendrogramEnabled())
	c, _ := other.Color(datatype.Number(1))
	assert.Equal(t, colormap.Color(0xff0000), c)
	c, _ = other.Color(datatype.Number(4))
	assert.Equal(t, colormap.Color(0x00ff00), c)

	err := other.ApplyState("nonsense", nil)
	assert.True(t, errors.Is(err, colormap.ErrMalformedState))
	err = other.ApplyState("nonsense|1", nil)
	assert.True(t, errors.Is(err, colormap.ErrMalformedState))
}

func TestIngestSupersedes(t *testing.T) {
	d, m := newTestDataset(t)
	var first, second []IngestReport
	big := &payload.Payload{Cells: make([]any, 0, 100)}
	for i := 0; i < 100; i++ {
		big.Cells = append(big.Cells, []any{float64(i % 10), float64(i / 10), float64(i)})
	}
	d.Ingest(big, nil, func(r IngestReport) { first = append(first, r) })
	m.Step()
	d.Ingest(testPayload(), nil, func(r IngestReport) { second = append(second, r) })
	m.Drain(200)

	require.Len(t, first, 1)
	assert.False(t, first[0].Completed)
	require.Len(t, second, 1)
	assert.True(t, second[0].Completed)
	assert.Equal(t, 3, d.Columns())
	assert.Len(t, slices.Collect(d.Rects(runmerge.Window{Width: 10, Height: 10})), 4)
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatmap-tiles/server/internal/cache"
	"github.com/heatmap-tiles/server/internal/data/payload"
	"github.com/heatmap-tiles/server/internal/heatmap"
	"github.com/heatmap-tiles/server/internal/matrix"
	"github.com/heatmap-tiles/server/internal/render"
	"github.com/heatmap-tiles/server/internal/scheduler"
	"github.com/heatmap-tiles/server/internal/statestore"
	"github.com/heatmap-tiles/server/pkg/colormap"
	"github.com/heatmap-tiles/server/pkg/datatype"
)

const testPayloadJSON = `{
  "columnLabels": ["c0", "c1", "c2"],
  "rowLabels": ["r0", "r1"],
  "cellValueType": "number",
  "minCellValue": 0,
  "maxCellValue": 5,
  "cellValues": [0, 1, {"bad": 1}, 3, null, 5]
}`

const testClusteringJSON = `{"columns": [["c2", "c0"], "c1"], "rows": ["r1", "r0"]}`

type fixture struct {
	svc    *HeatmapService
	states *statestore.Store
	cache  *cache.Manager
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "heatmap.json"), []byte(testPayloadJSON), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clustering.json"), []byte(testClusteringJSON), 0644))

	loop := scheduler.NewLoop(time.Millisecond)
	loop.Start(context.Background())
	t.Cleanup(loop.Stop)

	reader, err := payload.NewReader()
	require.NoError(t, err)
	t.Cleanup(reader.Close)

	states, err := statestore.NewStore(filepath.Join(dir, "state.db"), log.New(nil))
	require.NoError(t, err)
	t.Cleanup(func() { states.Close() })

	cm, err := cache.NewManager(cache.Config{TileCacheSizeMB: 8, TileTTL: time.Minute, QueryCacheSize: 16})
	require.NoError(t, err)
	t.Cleanup(func() { cm.Close() })

	svc := NewHeatmapService(HeatmapServiceConfig{
		DatasetID:      "test",
		PayloadPath:    filepath.Join(dir, "heatmap.json"),
		ClusteringPath: filepath.Join(dir, "clustering.json"),
		Reader:         reader,
		Runner:         loop,
		Cache:          cm,
		Renderer:       render.NewTileRenderer(render.Config{TileSize: 64, Background: 0xffffff}),
		States:         states,
		Dataset:        heatmap.Config{BlockSize: 8, ChunkSize: 2, Missing: 0xffffff},
		Logger:         log.New(nil),
	})
	return &fixture{svc: svc, states: states, cache: cm, dir: dir}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNotReadyBeforeLoad(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	_, err := f.svc.Metadata(ctx)
	assert.ErrorIs(t, err, ErrDatasetNotReady)
	_, err = f.svc.Tile(ctx, 0, 0, 0)
	assert.ErrorIs(t, err, ErrDatasetNotReady)
	_, err = f.svc.Tile(ctx, 1, 2, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestLoadAndQuery(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	report, err := f.svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, heatmap.IngestReport{Cells: 4, Skipped: 1, Completed: true}, report)
	assert.True(t, f.svc.Ready())

	md, err := f.svc.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c0", "c1"}, md.ColumnLabels)

	c, ok, err := f.svc.Cell(ctx, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, datatype.Number(5), c.Value)

	cells, err := f.svc.Hover(ctx, matrix.Point{Column: 0.5, Row: 0.5}, 1, 1)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, datatype.Number(5), cells[0].Value)

	raw, err := f.svc.DendrogramJSON(ctx, heatmap.AxisColumns)
	require.NoError(t, err)
	var dg heatmap.Dendrogram
	require.NoError(t, json.Unmarshal(raw, &dg))
	assert.Equal(t, 2, dg.Depth)

	color, ok, err := f.svc.Color(ctx, datatype.Number(0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, colormap.RGB(68, 1, 84), color)
}

func TestTileAndViewRender(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)

	tile, err := f.svc.Tile(ctx, 0, 0, 0)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(tile))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	cached, ok := f.cache.GetTile(cache.TileKey("test", 0, 0, 0, f.svc.Version()))
	require.True(t, ok)
	assert.Equal(t, tile, cached)

	view, err := f.svc.View(ctx, ViewRequest{C1: 0, C2: 3, R1: 0, R2: 2, Width: 30, Height: 20})
	require.NoError(t, err)
	img, err = png.Decode(bytes.NewReader(view))
	require.NoError(t, err)
	assert.Equal(t, 30, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())

	_, err = f.svc.View(ctx, ViewRequest{Width: 0, Height: 10})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStatePersistsAcrossLoads(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)

	before := f.svc.Version()
	scheme := colormap.NewDiscrete(datatype.DataTypeNumber, []colormap.ColorConfiguration{
		colormap.Range(0, 2, 0x0000ff),
		colormap.Range(2, 5, 0xff0000),
	}, 0xffffff)
	state := scheme.Serialize() + "|0"

	rec, err := f.svc.SetState(ctx, state)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Revision)
	assert.NotEqual(t, before, f.svc.Version())

	got, err := f.svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, state, got)

	_, err = f.svc.SetState(ctx, "garbage")
	assert.ErrorIs(t, err, colormap.ErrMalformedState)

	// A fresh service over the same store restores the persisted state.
	other := NewHeatmapService(HeatmapServiceConfig{
		DatasetID:      "test",
		PayloadPath:    filepath.Join(f.dir, "heatmap.json"),
		ClusteringPath: filepath.Join(f.dir, "clustering.json"),
		Reader:         f.svc.reader,
		Runner:         f.svc.runner,
		States:         f.states,
		Dataset:        heatmap.Config{BlockSize: 8, ChunkSize: 2, Missing: 0xffffff},
		Logger:         log.New(nil),
	})
	_, err = other.Load(ctx)
	require.NoError(t, err)
	restored, err := other.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, state, restored)

	md, err := other.Metadata(ctx)
	require.NoError(t, err)
	assert.False(t, md.DendrogramEnabled)
	assert.Equal(t, []string{"c0", "c1", "c2"}, md.ColumnLabels)
}

func TestSetCellBumpsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)

	before := f.svc.Version()
	_, ok, err := f.svc.SetCell(ctx, matrix.Cell{Column: 1, Row: 1, Value: datatype.Number(2)})
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, before, f.svc.Version())

	md, err := f.svc.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, md.Count)
}

func TestSetDendrogramEnabled(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.SetDendrogramEnabled(ctx, false))
	md, err := f.svc.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r0", "r1"}, md.RowLabels)

	_, ok, err := f.svc.Dendrogram(ctx, heatmap.AxisRows)
	require.NoError(t, err)
	assert.False(t, ok)
}

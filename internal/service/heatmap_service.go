// Package service provides business logic for the heatmap tile server.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/heatmap-tiles/server/internal/cache"
	"github.com/heatmap-tiles/server/internal/data/payload"
	"github.com/heatmap-tiles/server/internal/heatmap"
	"github.com/heatmap-tiles/server/internal/matrix"
	"github.com/heatmap-tiles/server/internal/render"
	"github.com/heatmap-tiles/server/internal/runmerge"
	"github.com/heatmap-tiles/server/internal/scheduler"
	"github.com/heatmap-tiles/server/internal/statestore"
	"github.com/heatmap-tiles/server/internal/viewport"
	"github.com/heatmap-tiles/server/pkg/colormap"
	"github.com/heatmap-tiles/server/pkg/datatype"
)

// MaxZoom bounds the tile pyramid depth.
const MaxZoom = 24

var (
	// ErrDatasetNotReady is returned until the first ingestion completes.
	ErrDatasetNotReady = errors.New("dataset not ready")
	// ErrInvalidRequest is returned for out of range tiles and windows.
	ErrInvalidRequest = errors.New("invalid request")
)

// Runner runs callbacks on the goroutine that owns a dataset.
type Runner interface {
	scheduler.Scheduler
	Do(ctx context.Context, fn func(now time.Time)) error
}

// HeatmapServiceConfig contains heatmap service configuration.
type HeatmapServiceConfig struct {
	DatasetID      string
	PayloadPath    string
	ClusteringPath string
	Reader         *payload.Reader
	Runner         Runner
	Cache          *cache.Manager
	Renderer       *render.TileRenderer
	States         *statestore.Store
	Dataset        heatmap.Config
	Viewport       viewport.Config
	Logger         *log.Logger
}

// HeatmapService serves one dataset. The dataset is only touched from the
// runner; exported methods are safe for concurrent use.
type HeatmapService struct {
	datasetID      string
	payloadPath    string
	clusteringPath string
	reader         *payload.Reader
	runner         Runner
	cache          *cache.Manager
	renderer       *render.TileRenderer
	states         *statestore.Store
	viewportCfg    viewport.Config
	logger         *log.Logger

	dataset *heatmap.Dataset
	ready   atomic.Bool
	version atomic.Uint64
}

// NewHeatmapService creates a service. The dataset stays empty until Load
// or Ingest is called.
func NewHeatmapService(cfg HeatmapServiceConfig) *HeatmapService {
	if cfg.Runner == nil {
		panic("service: nil runner")
	}
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = render.NewTileRenderer(render.Config{Background: 0xffffff})
	}

	dsCfg := cfg.Dataset
	dsCfg.Scheduler = cfg.Runner
	vpCfg := cfg.Viewport
	vpCfg.Scheduler = cfg.Runner

	s := &HeatmapService{
		datasetID:      datasetID,
		payloadPath:    cfg.PayloadPath,
		clusteringPath: cfg.ClusteringPath,
		reader:         cfg.Reader,
		runner:         cfg.Runner,
		cache:          cfg.Cache,
		renderer:       renderer,
		states:         cfg.States,
		viewportCfg:    vpCfg,
		logger:         logger.WithPrefix("service").With("dataset", datasetID),
		dataset:        heatmap.New(dsCfg),
	}
	s.dataset.OnChange(func() { s.version.Add(1) })
	return s
}

// DatasetID returns the served dataset id.
func (s *HeatmapService) DatasetID() string { return s.datasetID }

// Ready reports whether the dataset can be queried.
func (s *HeatmapService) Ready() bool { return s.ready.Load() }

// Version changes whenever the displayed data, order or scheme changes.
func (s *HeatmapService) Version() string {
	return strconv.FormatUint(s.version.Load(), 10)
}

// do runs fn on the runner.
func (s *HeatmapService) do(ctx context.Context, fn func()) error {
	return s.runner.Do(ctx, func(time.Time) { fn() })
}

// doReady runs fn on the runner once the dataset is ready.
func (s *HeatmapService) doReady(ctx context.Context, fn func()) error {
	if !s.ready.Load() {
		return ErrDatasetNotReady
	}
	return s.do(ctx, fn)
}

// await starts asynchronous work on the runner and waits until it calls
// finish. Only the first finish counts.
func await[T any](ctx context.Context, s *HeatmapService, start func(finish func(T))) (T, error) {
	result := make(chan T, 1)
	var zero T
	if err := s.do(ctx, func() {
		start(func(v T) {
			select {
			case result <- v:
			default:
			}
		})
	}); err != nil {
		return zero, err
	}
	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Load reads the configured payload and clustering files, ingests them and
// restores the persisted view state.
func (s *HeatmapService) Load(ctx context.Context) (heatmap.IngestReport, error) {
	if s.reader == nil {
		return heatmap.IngestReport{}, fmt.Errorf("service: no payload reader")
	}
	start := time.Now()
	p, err := s.reader.Load(s.payloadPath)
	if err != nil {
		return heatmap.IngestReport{}, fmt.Errorf("failed to load payload: %w", err)
	}
	var clustering *payload.Clustering
	if s.clusteringPath != "" {
		clustering, err = s.reader.LoadClustering(s.clusteringPath)
		if err != nil {
			return heatmap.IngestReport{}, fmt.Errorf("failed to load clustering: %w", err)
		}
	}

	report, err := s.Ingest(ctx, p, clustering)
	if err != nil {
		return report, err
	}
	s.logger.Info("dataset loaded",
		"cells", report.Cells, "skipped", report.Skipped, "elapsed", time.Since(start).Round(time.Millisecond))

	if s.states != nil {
		rec, err := s.states.Get(s.datasetID)
		switch {
		case errors.Is(err, statestore.ErrNotFound):
		case err != nil:
			s.logger.Warn("failed to read persisted state", "err", err)
		default:
			if err := s.applyState(ctx, rec.State); err != nil {
				s.logger.Warn("ignoring persisted state", "revision", rec.Revision, "err", err)
			}
		}
	}
	return report, nil
}

// Ingest replaces the dataset and waits for the ingestion to finish. A
// superseded ingestion reports Completed false.
func (s *HeatmapService) Ingest(ctx context.Context, p *payload.Payload, clustering *payload.Clustering) (heatmap.IngestReport, error) {
	report, err := await(ctx, s, func(finish func(heatmap.IngestReport)) {
		s.dataset.Ingest(p, clustering, finish)
	})
	if err != nil {
		return report, err
	}
	if report.Skipped > 0 {
		s.logger.Warn("skipped malformed cells", "skipped", report.Skipped)
	}
	if report.Completed {
		s.ready.Store(true)
		s.version.Add(1)
	}
	return report, nil
}

// Metadata returns the dataset description.
func (s *HeatmapService) Metadata(ctx context.Context) (heatmap.Metadata, error) {
	var md heatmap.Metadata
	err := s.doReady(ctx, func() { md = s.dataset.Metadata() })
	return md, err
}

// MetadataJSON returns Metadata encoded as JSON, cached per version.
func (s *HeatmapService) MetadataJSON(ctx context.Context) ([]byte, error) {
	return s.cachedJSON(ctx, "metadata", "", func() (any, error) {
		return s.Metadata(ctx)
	})
}

// Dendrogram returns the layout of one axis; ok is false when the axis has
// no hierarchy or the dendrogram is disabled.
func (s *HeatmapService) Dendrogram(ctx context.Context, axis heatmap.Axis) (dg heatmap.Dendrogram, ok bool, err error) {
	err = s.doReady(ctx, func() { dg, ok = s.dataset.Dendrogram(axis) })
	return dg, ok, err
}

// DendrogramJSON returns the layout of axis encoded as JSON, or null.
func (s *HeatmapService) DendrogramJSON(ctx context.Context, axis heatmap.Axis) ([]byte, error) {
	return s.cachedJSON(ctx, "dendrogram", string(axis), func() (any, error) {
		dg, ok, err := s.Dendrogram(ctx, axis)
		if err != nil || !ok {
			return nil, err
		}
		return dg, nil
	})
}

func (s *HeatmapService) cachedJSON(ctx context.Context, kind, arg string, load func() (any, error)) ([]byte, error) {
	if !s.ready.Load() {
		return nil, ErrDatasetNotReady
	}
	key := cache.QueryKey(s.datasetID, kind, arg, s.Version())
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(key); ok {
			return data, nil
		}
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}

// DendrogramPNG renders the dendrogram of axis.
func (s *HeatmapService) DendrogramPNG(ctx context.Context, axis heatmap.Axis, length, thickness int) ([]byte, error) {
	if length <= 0 || thickness <= 0 || length > 8192 || thickness > 8192 {
		return nil, fmt.Errorf("%w: dendrogram size %dx%d", ErrInvalidRequest, length, thickness)
	}
	dg, ok, err := s.Dendrogram(ctx, axis)
	if err != nil {
		return nil, err
	}
	if !ok {
		dg = heatmap.Dendrogram{}
	}
	return s.renderer.RenderDendrogram(dg, axis, length, thickness)
}

// Tile returns the PNG of pyramid tile (z, x, y).
func (s *HeatmapService) Tile(ctx context.Context, z, x, y int) ([]byte, error) {
	if z < 0 || z > MaxZoom {
		return nil, fmt.Errorf("%w: zoom %d", ErrInvalidRequest, z)
	}
	if n := 1 << z; x < 0 || y < 0 || x >= n || y >= n {
		return nil, fmt.Errorf("%w: tile %d/%d/%d", ErrInvalidRequest, z, x, y)
	}
	if !s.ready.Load() {
		return nil, ErrDatasetNotReady
	}

	key := cache.TileKey(s.datasetID, z, x, y, s.Version())
	if s.cache != nil {
		if data, ok := s.cache.GetTile(key); ok {
			return data, nil
		}
	}

	var data []byte
	var renderErr error
	if err := s.do(ctx, func() {
		data, renderErr = s.renderer.RenderTile(s.dataset, z, x, y, s.dataset.Columns(), s.dataset.Rows())
	}); err != nil {
		return nil, err
	}
	if renderErr != nil {
		return nil, fmt.Errorf("failed to render tile: %w", renderErr)
	}
	if s.cache != nil {
		if err := s.cache.SetTile(key, data); err != nil {
			s.logger.Debug("tile not cached", "key", key, "err", err)
		}
	}
	return data, nil
}

// ViewRequest selects the data window [C1,C2] x [R1,R2] and the image size.
type ViewRequest struct {
	C1, C2, R1, R2 float64
	Width, Height  int
}

// View renders the requested data window fitted into Width x Height pixels
// using the viewport model.
func (s *HeatmapService) View(ctx context.Context, req ViewRequest) ([]byte, error) {
	if req.Width <= 0 || req.Height <= 0 || req.Width > 8192 || req.Height > 8192 {
		return nil, fmt.Errorf("%w: image size %dx%d", ErrInvalidRequest, req.Width, req.Height)
	}
	if !s.ready.Load() {
		return nil, ErrDatasetNotReady
	}
	key := cache.ViewKey(s.datasetID, req.C1, req.C2, req.R1, req.R2, req.Width, req.Height, s.Version())
	if s.cache != nil {
		if data, ok := s.cache.GetTile(key); ok {
			return data, nil
		}
	}

	var data []byte
	var renderErr error
	if err := s.do(ctx, func() {
		vp := s.viewport(float64(req.Width), float64(req.Height))
		if req.C1 != req.C2 || req.R1 != req.R2 {
			vp.ZoomToViewport(req.C1, req.C2, req.R1, req.R2, false)
		}
		data, renderErr = s.renderer.RenderView(s.dataset, vp)
	}); err != nil {
		return nil, err
	}
	if renderErr != nil {
		return nil, fmt.Errorf("failed to render view: %w", renderErr)
	}
	if s.cache != nil {
		if err := s.cache.SetTile(key, data); err != nil {
			s.logger.Debug("view not cached", "key", key, "err", err)
		}
	}
	return data, nil
}

// viewport returns a viewport over the whole dataset fitted to the device.
func (s *HeatmapService) viewport(width, height float64) *viewport.Viewport {
	vp := viewport.New(s.viewportCfg)
	vp.SetSize(float64(s.dataset.Columns()), float64(s.dataset.Rows()))
	vp.SetDeviceSize(width, height)
	vp.Fit(false)
	return vp
}

// Cell returns the cell at display position (column, row).
func (s *HeatmapService) Cell(ctx context.Context, column, row int) (c matrix.Cell, ok bool, err error) {
	err = s.doReady(ctx, func() { c, ok = s.dataset.Cell(column, row) })
	return c, ok, err
}

// Hover returns up to limit cells within radius of the display point,
// nearest first.
func (s *HeatmapService) Hover(ctx context.Context, p matrix.Point, radius float64, limit int) ([]matrix.Cell, error) {
	var cells []matrix.Cell
	err := s.doReady(ctx, func() { cells = s.dataset.Hover(p, radius, limit) })
	return cells, err
}

// SetCell writes one cell addressed by original indices and returns the
// display rectangle that changed.
func (s *HeatmapService) SetCell(ctx context.Context, c matrix.Cell) (rect runmerge.Rect, ok bool, err error) {
	err = s.doReady(ctx, func() {
		rect, ok = s.dataset.Set(c)
		if ok {
			s.version.Add(1)
		}
	})
	return rect, ok, err
}

// Color resolves v through the active scheme.
func (s *HeatmapService) Color(ctx context.Context, v datatype.Value) (c colormap.Color, ok bool, err error) {
	err = s.doReady(ctx, func() { c, ok = s.dataset.Color(v) })
	return c, ok, err
}

// ColorFor resolves a raw query value. Numeric text is a number unless the
// dataset is categorical.
func (s *HeatmapService) ColorFor(ctx context.Context, raw string) (c colormap.Color, ok bool, err error) {
	err = s.doReady(ctx, func() {
		v := datatype.Parse(raw)
		if s.dataset.DataType() == datatype.DataTypeString {
			v = datatype.Category(raw)
		}
		c, ok = s.dataset.Color(v)
	})
	return c, ok, err
}

// State returns the current view state string.
func (s *HeatmapService) State(ctx context.Context) (string, error) {
	var state string
	err := s.doReady(ctx, func() { state = s.dataset.State() })
	return state, err
}

// SetState applies and persists a view state string.
func (s *HeatmapService) SetState(ctx context.Context, state string) (*statestore.Record, error) {
	if !s.ready.Load() {
		return nil, ErrDatasetNotReady
	}
	if err := s.applyState(ctx, state); err != nil {
		return nil, err
	}
	if s.states == nil {
		return &statestore.Record{DatasetID: s.datasetID, State: state, UpdatedAt: time.Now().UTC()}, nil
	}
	rec, err := s.states.Put(s.datasetID, state)
	if err != nil {
		return nil, fmt.Errorf("failed to persist state: %w", err)
	}
	return rec, nil
}

func (s *HeatmapService) applyState(ctx context.Context, state string) error {
	type outcome struct {
		err error
	}
	res, err := await(ctx, s, func(finish func(outcome)) {
		if err := s.dataset.ApplyState(state, func(bool) { finish(outcome{}) }); err != nil {
			finish(outcome{err: err})
		}
	})
	if err != nil {
		return err
	}
	return res.err
}

// SetDendrogramEnabled switches between hierarchy and original order and
// waits for the rebuild.
func (s *HeatmapService) SetDendrogramEnabled(ctx context.Context, enabled bool) error {
	if !s.ready.Load() {
		return ErrDatasetNotReady
	}
	_, err := await(ctx, s, func(finish func(bool)) {
		s.dataset.SetDendrogramEnabled(enabled, finish)
	})
	return err
}

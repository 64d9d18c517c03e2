// Package render draws heatmap rectangles and dendrograms into PNGs using
// fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"iter"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/heatmap-tiles/server/internal/runmerge"
	"github.com/heatmap-tiles/server/internal/viewport"
	"github.com/heatmap-tiles/server/pkg/colormap"
	"github.com/heatmap-tiles/server/pkg/datatype"
)

// Config contains renderer configuration.
type Config struct {
	TileSize   int
	Background colormap.Color
}

// Source is what the renderer reads: merged rectangles in display
// coordinates and their colors.
type Source interface {
	Rects(w runmerge.Window) iter.Seq[runmerge.Rect]
	Color(v datatype.Value) (colormap.Color, bool)
}

// TileRenderer renders tiles and views of a Source.
type TileRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewTileRenderer creates a new tile renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 256
	}
	return &TileRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.TileSize, cfg.TileSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// TileSize returns the tile edge length in pixels.
func (r *TileRenderer) TileSize() int { return r.config.TileSize }

// TileWindow returns the data window covered by tile (z, x, y) of a matrix
// whose larger extent spans 2^z tiles.
func TileWindow(z, x, y, columns, rows int) runmerge.Window {
	extent := float64(max(columns, rows, 1))
	cells := extent / float64(int(1)<<z)
	return runmerge.Window{
		Column: float64(x) * cells,
		Row:    float64(y) * cells,
		Width:  cells,
		Height: cells,
	}
}

// RenderTile renders one pyramid tile.
func (r *TileRenderer) RenderTile(src Source, z, x, y, columns, rows int) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(r.config.Background.RGBA())
	dc.Clear()

	w := TileWindow(z, x, y, columns, rows)
	scale := float64(r.config.TileSize) / w.Width
	r.fill(dc, src, w, func(rect runmerge.Rect) (float64, float64, float64, float64) {
		return (float64(rect.Column) - w.Column) * scale,
			(float64(rect.Row) - w.Row) * scale,
			float64(rect.Width) * scale,
			float64(rect.Height) * scale
	})
	return r.encodeContext(dc)
}

// RenderView renders what vp currently shows into a width x height image.
func (r *TileRenderer) RenderView(src Source, vp *viewport.Viewport) ([]byte, error) {
	width := int(math.Round(vp.Columns.DeviceSize()))
	height := int(math.Round(vp.Rows.DeviceSize()))
	if width <= 0 || height <= 0 {
		return r.CreateEmptyTile()
	}
	dc := gg.NewContext(width, height)
	dc.SetColor(r.config.Background.RGBA())
	dc.Clear()

	if vp.Valid() {
		vw := vp.VisibleWindow()
		w := runmerge.Window{Column: vw.Column, Row: vw.Row, Width: vw.Width, Height: vw.Height}
		r.fill(dc, src, w, func(rect runmerge.Rect) (float64, float64, float64, float64) {
			x0 := vp.Columns.GetDevicePosition(float64(rect.Column))
			y0 := vp.Rows.GetDevicePosition(float64(rect.Row))
			x1 := vp.Columns.GetDevicePosition(float64(rect.Column + rect.Width))
			y1 := vp.Rows.GetDevicePosition(float64(rect.Row + rect.Height))
			return x0, y0, x1 - x0, y1 - y0
		})
	}
	return r.encodeContext(dc)
}

func (r *TileRenderer) fill(dc *gg.Context, src Source, w runmerge.Window, place func(runmerge.Rect) (x, y, width, height float64)) {
	for rect := range src.Rects(w) {
		c, ok := src.Color(rect.Value)
		if !ok {
			continue
		}
		x, y, width, height := place(rect)
		dc.SetColor(c.RGBA())
		dc.DrawRectangle(x, y, width, height)
		dc.Fill()
	}
}

func (r *TileRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	return r.encodeImage(dc.Image())
}

func (r *TileRenderer) encodeImage(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyTile creates an empty transparent tile.
func (r *TileRenderer) CreateEmptyTile() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.TileSize, r.config.TileSize))
	transparent := color.RGBA{R: 255, G: 255, B: 255, A: 0}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = transparent.R, transparent.G, transparent.B, transparent.A
	}
	return r.encodeImage(img)
}

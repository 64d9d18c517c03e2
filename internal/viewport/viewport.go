// Package viewport is the coordinate model of a heatmap view: two axes
// (columns and rows) that share one Scale so zoom stays uniform.
//
// Axes degrade to zero answers while invalid (no size yet, zero-sized
// device) instead of failing, since callers poll them every frame.
// Animations run on the injected scheduler.
package viewport

import (
	"math"
	"time"

	"github.com/heatmap-tiles/server/internal/scheduler"
)

// Point is a position in data space.
type Point struct {
	Column float64 `json:"column"`
	Row    float64 `json:"row"`
}

// Window is a rectangle in data space.
type Window struct {
	Column float64 `json:"column"`
	Row    float64 `json:"row"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Config configures a Viewport.
type Config struct {
	Scheduler    scheduler.Scheduler
	Animation    time.Duration
	MinTickSize  float64
	MaxTickSize  float64
	MinFootprint float64
}

// Viewport pairs the column and row axes with their shared scale.
// Each view owns its own Viewport.
type Viewport struct {
	Columns *Axis
	Rows    *Axis
	Scale   *Scale
}

// New returns a viewport with no data and no device size.
func New(cfg Config) *Viewport {
	if cfg.Animation == 0 {
		cfg.Animation = DefaultAnimationDuration
	}
	scale := NewScale(ScaleConfig{
		Scheduler:    cfg.Scheduler,
		Animation:    cfg.Animation,
		MinTickSize:  cfg.MinTickSize,
		MaxTickSize:  cfg.MaxTickSize,
		MinFootprint: cfg.MinFootprint,
	})
	return &Viewport{
		Columns: NewAxis(scale, cfg.Scheduler, cfg.Animation),
		Rows:    NewAxis(scale, cfg.Scheduler, cfg.Animation),
		Scale:   scale,
	}
}

// Valid reports whether both axes are valid.
func (v *Viewport) Valid() bool { return v.Columns.Valid() && v.Rows.Valid() }

// SetSize sets the data extents and raises the minimum tick size so neither
// extent can shrink below the minimum footprint.
func (v *Viewport) SetSize(columns, rows float64) {
	v.Scale.UpdateBounds(columns, rows)
	v.Columns.SetSize(columns)
	v.Rows.SetSize(rows)
}

// SetDeviceSize sets the device extents in pixels.
func (v *Viewport) SetDeviceSize(width, height float64) {
	v.Columns.SetDeviceSize(width)
	v.Rows.SetDeviceSize(height)
}

// Zoom multiplies the tick size by ratio while keeping anchor at the same
// device position on both axes.
func (v *Viewport) Zoom(ratio float64, anchor Point, animate bool) bool {
	if !v.Valid() || !positive(ratio) {
		return false
	}
	future := v.Scale.Clamp(v.Scale.TickSize() * ratio)
	moved := v.Columns.PreservePositionOnScale(anchor.Column, future, animate)
	moved = v.Rows.PreservePositionOnScale(anchor.Row, future, animate) || moved
	return v.Scale.SetTickSize(future, animate) || moved
}

// ZoomToViewport fits the data range [c1,c2] x [r1,r2] into the device,
// using the smaller of the two tick sizes so both dimensions fit.
func (v *Viewport) ZoomToViewport(c1, c2, r1, r2 float64, animate bool) bool {
	if !v.Valid() {
		return false
	}
	if c2 < c1 {
		c1, c2 = c2, c1
	}
	if r2 < r1 {
		r1, r2 = r2, r1
	}
	tick := math.Inf(1)
	if w := c2 - c1; w > 0 {
		tick = math.Min(tick, v.Columns.DeviceSize()/w)
	}
	if h := r2 - r1; h > 0 {
		tick = math.Min(tick, v.Rows.DeviceSize()/h)
	}
	if math.IsInf(tick, 1) {
		return false
	}
	return v.setView(v.Scale.Clamp(tick), (c1+c2)/2, (r1+r2)/2, animate)
}

// Fit scales so the whole data fits the device, centered.
func (v *Viewport) Fit(animate bool) bool {
	return v.fitOrCover(math.Min, animate)
}

// Cover scales so the data covers the whole device, centered.
func (v *Viewport) Cover(animate bool) bool {
	return v.fitOrCover(math.Max, animate)
}

func (v *Viewport) fitOrCover(pick func(a, b float64) float64, animate bool) bool {
	if !v.Valid() {
		return false
	}
	tick := pick(v.Columns.DeviceSize()/v.Columns.Size(), v.Rows.DeviceSize()/v.Rows.Size())
	return v.setView(v.Scale.Clamp(tick), v.Columns.Size()/2, v.Rows.Size()/2, animate)
}

func (v *Viewport) setView(tick, column, row float64, animate bool) bool {
	moved := v.Columns.moveTo(v.Columns.clampAt(column, tick), animate)
	moved = v.Rows.moveTo(v.Rows.clampAt(row, tick), animate) || moved
	return v.Scale.SetTickSize(tick, animate) || moved
}

// VisibleWindow returns the data rectangle currently on screen, clipped to
// the data.
func (v *Viewport) VisibleWindow() Window {
	c1, c2 := v.Columns.VisibleRange()
	r1, r2 := v.Rows.VisibleRange()
	return Window{Column: c1, Row: r1, Width: c2 - c1, Height: r2 - r1}
}

// Animating reports whether any part of the viewport is animating.
func (v *Viewport) Animating() bool {
	return v.Scale.Animating() || v.Columns.Animating() || v.Rows.Animating()
}

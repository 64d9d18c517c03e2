package viewport

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatmap-tiles/server/internal/scheduler"
)

func newTestViewport(t *testing.T) (*Viewport, *scheduler.Manual) {
	t.Helper()
	m := scheduler.NewManual(time.Unix(0, 0), 16*time.Millisecond)
	v := New(Config{Scheduler: m, MinTickSize: 0.001, MaxTickSize: 1000, MinFootprint: 100})
	v.SetSize(10000, 10000)
	v.SetDeviceSize(1000, 1000)
	v.Scale.SetTickSize(10, false)
	require.True(t, v.Valid())
	return v, m
}

func TestInvalidAxisDegradesToZero(t *testing.T) {
	v := New(Config{})
	a := v.Columns
	assert.False(t, a.Valid())
	assert.Zero(t, a.GetDevicePosition(42))
	assert.Zero(t, a.GetScalePosition(42))
	assert.Zero(t, a.Start())
	assert.Zero(t, a.End())
	assert.False(t, a.Move(5, MoveOptions{}))
	assert.False(t, v.Zoom(2, Point{}, false))

	a.SetSize(math.NaN())
	a.SetDeviceSize(100)
	assert.False(t, a.Valid())
}

func TestDeviceScaleRoundTrip(t *testing.T) {
	v, _ := newTestViewport(t)
	a := v.Columns
	assert.Equal(t, 5000.0, a.Center())
	assert.Equal(t, 500.0, a.GetDevicePosition(5000))
	for _, p := range []float64{0, 4950.5, 5049, 123} {
		assert.InDelta(t, p, a.GetScalePosition(a.GetDevicePosition(p)), 1e-9)
	}
}

func TestMoveClampInvariant(t *testing.T) {
	v, _ := newTestViewport(t)
	a := v.Rows
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		a.Move(rng.Float64()*30000-10000, MoveOptions{})
		assert.GreaterOrEqual(t, a.Center()-a.VisibleHalf(), 0.0)
		assert.LessOrEqual(t, a.Center()+a.VisibleHalf(), a.Size())
	}

	a.Move(5000, MoveOptions{})
	assert.True(t, a.Move(-50, MoveOptions{}))
	assert.Equal(t, 50.0, a.Center())
	assert.False(t, a.Move(-10, MoveOptions{}), "clamped target equals current center")

	assert.True(t, a.Move(-10, MoveOptions{NoCorrect: true}))
	assert.Equal(t, -10.0, a.Center())
	assert.Equal(t, 0.0, a.Start())
}

func TestScaleChangeReclampsCenter(t *testing.T) {
	m := scheduler.NewManual(time.Unix(0, 0), 16*time.Millisecond)
	v := New(Config{Scheduler: m, MinTickSize: 0.001, MaxTickSize: 1000})
	v.SetSize(100, 100)
	v.SetDeviceSize(100, 100)
	v.Scale.SetTickSize(10, false)
	a := v.Columns
	require.True(t, a.Move(95, MoveOptions{}))
	require.Equal(t, 95.0, a.Center())

	require.True(t, v.Scale.SetTickSize(2, false))
	half := a.VisibleHalf()
	assert.Equal(t, 25.0, half)
	assert.GreaterOrEqual(t, a.Center()-half, 0.0)
	assert.LessOrEqual(t, a.Center()+half, a.Size())
	assert.Equal(t, 75.0, a.Center())
	assert.InDelta(t, 100.0, a.GetDevicePosition(a.Size()), 1e-9)

	// Animated zoom out settles inside the bounds as well.
	a.Move(30, MoveOptions{})
	v.Scale.SetTickSize(4, false)
	require.True(t, v.Scale.SetTickSize(1.25, true))
	m.Drain(100)
	half = a.VisibleHalf()
	assert.Equal(t, 40.0, half)
	assert.GreaterOrEqual(t, a.Center()-half, 0.0)
	assert.LessOrEqual(t, a.Center()+half, a.Size())
}

func TestZoomKeepsAnchorFixed(t *testing.T) {
	for _, ratio := range []float64{0.1, 0.25, 0.5, 0.9, 1.5, 2, 5, 10} {
		v, _ := newTestViewport(t)
		anchor := Point{Column: 5020, Row: 4990}
		beforeX := v.Columns.GetDevicePosition(anchor.Column)
		beforeY := v.Rows.GetDevicePosition(anchor.Row)

		require.True(t, v.Zoom(ratio, anchor, false), "ratio %v", ratio)
		assert.InDelta(t, 10*ratio, v.Scale.TickSize(), 1e-9)
		assert.InDelta(t, beforeX, v.Columns.GetDevicePosition(anchor.Column), 1, "ratio %v", ratio)
		assert.InDelta(t, beforeY, v.Rows.GetDevicePosition(anchor.Row), 1, "ratio %v", ratio)
	}
}

func TestZoomAnimatedSettles(t *testing.T) {
	v, m := newTestViewport(t)
	anchor := Point{Column: 5020, Row: 5020}
	before := v.Columns.GetDevicePosition(anchor.Column)

	var ticks []float64
	v.Scale.OnChange(func(tick float64) { ticks = append(ticks, tick) })
	require.True(t, v.Zoom(2, anchor, true))
	assert.Equal(t, 10.0, v.Scale.TickSize())
	assert.True(t, v.Animating())

	m.Drain(100)
	assert.False(t, v.Animating())
	assert.Equal(t, 20.0, v.Scale.TickSize())
	assert.Greater(t, len(ticks), 2)
	assert.InDelta(t, before, v.Columns.GetDevicePosition(anchor.Column), 1)
}

func TestAnimationSupersedesFromCurrentValue(t *testing.T) {
	m := scheduler.NewManual(time.Unix(0, 0), 16*time.Millisecond)
	var seen []float64
	a := NewAnimated(m, 160*time.Millisecond, 0, func(v float64) { seen = append(seen, v) })

	a.AnimateTo(100)
	for i := 0; i < 6; i++ {
		m.Step()
	}
	mid := a.Value()
	require.Greater(t, mid, 0.0)
	require.Less(t, mid, 100.0)

	a.AnimateTo(-100)
	m.Step()
	// The first frame of the new animation starts at the interrupted value.
	assert.Equal(t, mid, seen[len(seen)-1])
	m.Drain(100)
	assert.Equal(t, -100.0, a.Value())
	assert.False(t, a.Animating())
	assert.Equal(t, 0, m.Pending())
}

func TestScaleClampAndDynamicMinimum(t *testing.T) {
	v, _ := newTestViewport(t)
	// footprint 100px over 10000 cells raises the minimum to 0.01.
	assert.InDelta(t, 0.01, v.Scale.MinimumTickSize(), 1e-12)
	v.Scale.SetTickSize(0.0001, false)
	assert.InDelta(t, 0.01, v.Scale.TickSize(), 1e-12)
	v.Scale.SetTickSize(1e9, false)
	assert.Equal(t, 1000.0, v.Scale.TickSize())
	assert.False(t, v.Scale.SetTickSize(5000, false))

	v.SetSize(50, 10000)
	assert.InDelta(t, 2, v.Scale.MinimumTickSize(), 1e-12)
}

func TestZoomToViewport(t *testing.T) {
	v, _ := newTestViewport(t)
	v.SetDeviceSize(1000, 500)
	require.True(t, v.ZoomToViewport(100, 300, 1000, 1050, false))
	// Columns need 5px per cell, rows 10px; the smaller wins.
	assert.Equal(t, 5.0, v.Scale.TickSize())
	assert.Equal(t, 200.0, v.Columns.Center())
	assert.Equal(t, 1025.0, v.Rows.Center())

	w := v.VisibleWindow()
	assert.InDelta(t, 100, w.Column, 1e-9)
	assert.InDelta(t, 200, w.Width, 1e-9)
	assert.InDelta(t, 975, w.Row, 1e-9)
	assert.InDelta(t, 100, w.Height, 1e-9)
}

func TestFitAndCover(t *testing.T) {
	m := scheduler.NewManual(time.Unix(0, 0), 16*time.Millisecond)
	v := New(Config{Scheduler: m, MaxTickSize: 1000})
	v.SetSize(200, 100)
	v.SetDeviceSize(800, 800)

	v.Fit(false)
	assert.Equal(t, 4.0, v.Scale.TickSize())
	assert.Equal(t, 100.0, v.Columns.Center())
	assert.Equal(t, 0.0, v.Rows.Start())
	assert.Equal(t, 100.0, v.Rows.End())

	v.Cover(false)
	assert.Equal(t, 8.0, v.Scale.TickSize())
	assert.Equal(t, 0.0, v.Rows.Start())
	assert.Equal(t, 100.0, v.Rows.End())
	start, end := v.Columns.VisibleRange()
	assert.Equal(t, 50.0, start)
	assert.Equal(t, 150.0, end)
}

func TestMovedListener(t *testing.T) {
	v, m := newTestViewport(t)
	var centers []float64
	off := v.Columns.OnMove(func(c float64) { centers = append(centers, c) })
	v.Columns.Move(6000, MoveOptions{Animate: true})
	m.Drain(100)
	require.NotEmpty(t, centers)
	assert.Equal(t, 6000.0, centers[len(centers)-1])

	off()
	v.Columns.Move(7000, MoveOptions{})
	assert.Equal(t, 6000.0, centers[len(centers)-1])
}

package viewport

import (
	"math"
	"time"

	"github.com/heatmap-tiles/server/internal/event"
	"github.com/heatmap-tiles/server/internal/scheduler"
)

// Axis is one dimension of the visible data window. center is the data
// position shown at the device center.
type Axis struct {
	scale      *Scale
	size       float64
	deviceSize float64
	center     *Animated
	placed     bool

	moved event.Dispatcher[float64]
}

// NewAxis returns an axis on scale. The center starts at the data midpoint
// once the axis first becomes valid, and is reclamped whenever the scale
// changes.
func NewAxis(scale *Scale, s scheduler.Scheduler, animation time.Duration) *Axis {
	if scale == nil {
		panic("viewport: nil scale")
	}
	a := &Axis{scale: scale}
	a.center = NewAnimated(s, animation, 0, func(v float64) { a.moved.Emit(v) })
	scale.OnChange(func(float64) { a.reclamp() })
	return a
}

// reclamp keeps the center target inside the bounds for the scale target.
// Callers that already moved the center for the new tick size see no change.
func (a *Axis) reclamp() {
	if !a.placed || !a.Valid() {
		return
	}
	target := a.center.Target()
	c := a.clampAt(target, a.scale.Target())
	if c == target || math.IsNaN(c) {
		return
	}
	a.center.Set(c, a.center.Animating())
}

func positive(v float64) bool { return v > 0 && !math.IsInf(v, 0) }

// Valid reports whether size, device size and scale are all usable.
// Positional queries on an invalid axis return 0.
func (a *Axis) Valid() bool {
	return positive(a.size) && positive(a.deviceSize) && a.scale.Valid()
}

// Size returns the data extent.
func (a *Axis) Size() float64 { return a.size }

// DeviceSize returns the device extent in pixels.
func (a *Axis) DeviceSize() float64 { return a.deviceSize }

// Scale returns the shared scale.
func (a *Axis) Scale() *Scale { return a.scale }

// Center returns the current center.
func (a *Axis) Center() float64 {
	if !a.Valid() {
		return 0
	}
	return a.center.Value()
}

// Animating reports whether a move animation is in flight.
func (a *Axis) Animating() bool { return a.center.Animating() }

// SetSize changes the data extent and reclamps the center.
func (a *Axis) SetSize(size float64) {
	a.size = size
	a.recenter()
}

// SetDeviceSize changes the device extent and reclamps the center.
func (a *Axis) SetDeviceSize(px float64) {
	a.deviceSize = px
	a.recenter()
}

func (a *Axis) recenter() {
	if !a.Valid() {
		return
	}
	target := a.center.Target()
	if !a.placed {
		target = a.size / 2
		a.placed = true
	}
	a.center.Jump(a.clampAt(target, a.scale.Target()))
}

func (a *Axis) visibleHalfAt(tick float64) float64 {
	return a.deviceSize / 2 / tick
}

// VisibleHalf returns half the visible data extent.
func (a *Axis) VisibleHalf() float64 {
	if !a.Valid() {
		return 0
	}
	return a.visibleHalfAt(a.scale.TickSize())
}

// clampAt limits c so the visible range at tick stays inside [0, size]. When
// the whole extent fits, the data is centered.
func (a *Axis) clampAt(c, tick float64) float64 {
	half := a.visibleHalfAt(tick)
	if 2*half >= a.size {
		return a.size / 2
	}
	if math.IsNaN(c) {
		return a.size / 2
	}
	return math.Min(a.size-half, math.Max(half, c))
}

// Start returns the first visible data position, clipped to the data.
func (a *Axis) Start() float64 {
	if !a.Valid() {
		return 0
	}
	return math.Max(0, a.center.Value()-a.VisibleHalf())
}

// End returns the last visible data position, clipped to the data.
func (a *Axis) End() float64 {
	if !a.Valid() {
		return 0
	}
	return math.Min(a.size, a.center.Value()+a.VisibleHalf())
}

// VisibleRange returns Start and End.
func (a *Axis) VisibleRange() (start, end float64) { return a.Start(), a.End() }

// GetDevicePosition maps a data position to device pixels.
func (a *Axis) GetDevicePosition(dataPos float64) float64 {
	if !a.Valid() {
		return 0
	}
	return (dataPos-a.center.Value())*a.scale.TickSize() + a.deviceSize/2
}

// GetScalePosition maps a device position to data space. It is the inverse of
// GetDevicePosition.
func (a *Axis) GetScalePosition(devicePos float64) float64 {
	if !a.Valid() {
		return 0
	}
	return (devicePos-a.deviceSize/2)/a.scale.TickSize() + a.center.Value()
}

// MoveOptions controls Move.
type MoveOptions struct {
	Animate bool
	// NoCorrect skips clamping; the caller guarantees a sensible center.
	NoCorrect bool
}

// Move sets the center, clamped unless opts.NoCorrect. It returns false when
// nothing changes or the axis is invalid.
func (a *Axis) Move(center float64, opts MoveOptions) bool {
	if !a.Valid() {
		return false
	}
	if !opts.NoCorrect {
		center = a.clampAt(center, a.scale.Target())
	}
	return a.moveTo(center, opts.Animate)
}

func (a *Axis) moveTo(center float64, animate bool) bool {
	if math.IsNaN(center) {
		return false
	}
	if center == a.center.Target() && (animate || !a.center.Animating()) {
		return false
	}
	a.center.Set(center, animate)
	return true
}

// PreservePositionOnScale moves the center so that the data position anchor
// stays at the same device pixel once the tick size becomes futureTick.
func (a *Axis) PreservePositionOnScale(anchor, futureTick float64, animate bool) bool {
	if !a.Valid() || !positive(futureTick) {
		return false
	}
	tick := a.scale.TickSize()
	c := anchor + (a.center.Value()-anchor)*tick/futureTick
	return a.moveTo(a.clampAt(c, futureTick), animate)
}

// OnMove registers fn to be called with every new center.
func (a *Axis) OnMove(fn func(center float64)) (off func()) { return a.moved.On(fn) }

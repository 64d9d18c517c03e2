package viewport

import (
	"math"
	"time"

	"github.com/heatmap-tiles/server/internal/event"
	"github.com/heatmap-tiles/server/internal/scheduler"
)

// Scale is the tick size, in device pixels per data unit, shared by the two
// axes of one viewport.
type Scale struct {
	tick *Animated

	configuredMin float64
	min           float64
	max           float64
	footprint     float64

	changed event.Dispatcher[float64]
}

// ScaleConfig configures a Scale.
type ScaleConfig struct {
	Scheduler scheduler.Scheduler
	Animation time.Duration
	// MinTickSize and MaxTickSize bound the tick size.
	MinTickSize float64
	MaxTickSize float64
	// MinFootprint is the smallest device size, in pixels, the full data
	// extent of an axis may shrink to.
	MinFootprint float64
	TickSize     float64
}

// NewScale returns a scale clamped to cfg's bounds.
func NewScale(cfg ScaleConfig) *Scale {
	if !(cfg.MinTickSize > 0) {
		cfg.MinTickSize = 1e-6
	}
	if !(cfg.MaxTickSize >= cfg.MinTickSize) {
		cfg.MaxTickSize = math.Max(cfg.MinTickSize, 1000)
	}
	s := &Scale{
		configuredMin: cfg.MinTickSize,
		min:           cfg.MinTickSize,
		max:           cfg.MaxTickSize,
		footprint:     cfg.MinFootprint,
	}
	initial := cfg.TickSize
	if !(initial > 0) {
		initial = 1
	}
	s.tick = NewAnimated(cfg.Scheduler, cfg.Animation, s.Clamp(initial), func(v float64) {
		s.changed.Emit(v)
	})
	return s
}

// TickSize returns the current tick size.
func (s *Scale) TickSize() float64 { return s.tick.Value() }

// Target returns the tick size the scale is animating to.
func (s *Scale) Target() float64 { return s.tick.Target() }

// Animating reports whether a tick size animation is in flight.
func (s *Scale) Animating() bool { return s.tick.Animating() }

// Valid reports a finite, positive tick size.
func (s *Scale) Valid() bool {
	v := s.tick.Value()
	return v > 0 && !math.IsInf(v, 0)
}

// MinimumTickSize returns the effective lower bound.
func (s *Scale) MinimumTickSize() float64 { return s.min }

// MaximumTickSize returns the upper bound.
func (s *Scale) MaximumTickSize() float64 { return s.max }

// Clamp limits v to [MinimumTickSize, MaximumTickSize]. NaN maps to the minimum.
func (s *Scale) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return s.min
	}
	return math.Min(s.max, math.Max(s.min, v))
}

// SetMinimumFootprint changes the pixel footprint and reapplies the bounds
// for the given axis sizes.
func (s *Scale) SetMinimumFootprint(px float64, sizes ...float64) {
	s.footprint = px
	s.UpdateBounds(sizes...)
}

// UpdateBounds raises the minimum tick size so that no axis of the given data
// sizes shrinks below the minimum footprint, then reclamps the tick size.
func (s *Scale) UpdateBounds(sizes ...float64) {
	m := s.configuredMin
	if s.footprint > 0 {
		smallest := math.Inf(1)
		for _, size := range sizes {
			if size > 0 && !math.IsInf(size, 0) {
				smallest = math.Min(smallest, size)
			}
		}
		if !math.IsInf(smallest, 1) {
			m = math.Max(m, s.footprint/smallest)
		}
	}
	s.min = math.Min(m, s.max)
	if c := s.Clamp(s.tick.Target()); c != s.tick.Target() {
		s.tick.Jump(c)
	}
}

// SetTickSize clamps v and jumps or animates to it. It returns false when the
// clamped value is already the current target.
func (s *Scale) SetTickSize(v float64, animate bool) bool {
	v = s.Clamp(v)
	if v == s.tick.Target() && (animate || !s.tick.Animating()) {
		return false
	}
	s.tick.Set(v, animate)
	return true
}

// OnChange registers fn to be called with every new tick size.
func (s *Scale) OnChange(fn func(tick float64)) (off func()) { return s.changed.On(fn) }

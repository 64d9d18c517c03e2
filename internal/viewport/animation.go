package viewport

import (
	"time"

	"github.com/heatmap-tiles/server/internal/scheduler"
)

// DefaultAnimationDuration is the length of animated moves and zooms.
const DefaultAnimationDuration = 250 * time.Millisecond

// Animated is one float value that either jumps or interpolates towards a
// target over frames of a scheduler. Starting a new animation while one runs
// continues from the current interpolated value.
type Animated struct {
	sched    scheduler.Scheduler
	duration time.Duration

	value  float64
	target float64
	run    int
	active bool

	onValue func(float64)
}

// NewAnimated returns a value starting at v. A nil scheduler or a
// non-positive duration turns every animation into a jump.
func NewAnimated(s scheduler.Scheduler, d time.Duration, v float64, onValue func(float64)) *Animated {
	return &Animated{sched: s, duration: d, value: v, target: v, onValue: onValue}
}

// Value returns the current, possibly interpolated, value.
func (a *Animated) Value() float64 { return a.value }

// Target returns the value the animation ends at.
func (a *Animated) Target() float64 { return a.target }

// Animating reports whether an animation is in flight.
func (a *Animated) Animating() bool { return a.active }

func (a *Animated) emit() {
	if a.onValue != nil {
		a.onValue(a.value)
	}
}

// Jump sets v immediately, cancelling any running animation.
func (a *Animated) Jump(v float64) {
	a.run++
	a.active = false
	a.value = v
	a.target = v
	a.emit()
}

// AnimateTo interpolates from the current value to v, emitting once per frame.
func (a *Animated) AnimateTo(v float64) {
	if a.sched == nil || a.duration <= 0 {
		a.Jump(v)
		return
	}
	a.run++
	run := a.run
	from := a.value
	a.target = v
	a.active = true

	var start time.Time
	var step func(now time.Time)
	step = func(now time.Time) {
		if a.run != run {
			return
		}
		if start.IsZero() {
			start = now
		}
		p := float64(now.Sub(start)) / float64(a.duration)
		if p >= 1 {
			a.active = false
			a.value = v
			a.emit()
			return
		}
		a.value = from + (v-from)*easeInOut(p)
		a.emit()
		a.sched.Schedule(step)
	}
	a.sched.Schedule(step)
}

// Set jumps or animates depending on animate.
func (a *Animated) Set(v float64, animate bool) {
	if animate {
		a.AnimateTo(v)
		return
	}
	a.Jump(v)
}

func easeInOut(p float64) float64 {
	if p < 0.5 {
		return 2 * p * p
	}
	return 1 - 2*(1-p)*(1-p)
}

package scheduler

import "time"

// Manual is a Scheduler driven by explicit Step calls on a virtual clock.
// It is used by tests and by offline rendering.
type Manual struct {
	now      time.Time
	interval time.Duration
	queue    []func(time.Time)
}

// NewManual returns a Manual scheduler whose clock starts at start and
// advances by interval per frame.
func NewManual(start time.Time, interval time.Duration) *Manual {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &Manual{now: start, interval: interval}
}

// Schedule queues fn for the next Step.
func (m *Manual) Schedule(fn func(now time.Time)) {
	m.queue = append(m.queue, fn)
}

// Now returns the virtual clock.
func (m *Manual) Now() time.Time { return m.now }

// Pending returns the number of queued callbacks.
func (m *Manual) Pending() int { return len(m.queue) }

// Step advances the clock by one frame and runs the callbacks queued before
// the step. Callbacks scheduled while stepping run on the next Step.
func (m *Manual) Step() int {
	m.now = m.now.Add(m.interval)
	fns := m.queue
	m.queue = nil
	for _, fn := range fns {
		fn(m.now)
	}
	return len(fns)
}

// Drain steps until no callbacks are pending or maxFrames frames ran.
// It returns the number of frames stepped.
func (m *Manual) Drain(maxFrames int) int {
	frames := 0
	for len(m.queue) > 0 && frames < maxFrames {
		m.Step()
		frames++
	}
	return frames
}

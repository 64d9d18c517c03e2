package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by Do once the loop has stopped.
var ErrStopped = errors.New("scheduler: loop stopped")

// Loop is a Scheduler owning one goroutine. Every callback runs on that
// goroutine, one frame per tick.
type Loop struct {
	interval time.Duration

	mu      sync.Mutex
	pending []func(time.Time)
	stopped bool

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLoop creates a loop ticking every interval. Call Start to run it.
func NewLoop(interval time.Duration) *Loop {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &Loop{
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the loop in its own goroutine until ctx is done or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.markStopped()
			return
		case <-l.stopCh:
			l.markStopped()
			return
		case now := <-ticker.C:
			l.frame(now)
		}
	}
}

func (l *Loop) markStopped() {
	l.mu.Lock()
	l.stopped = true
	l.pending = nil
	l.mu.Unlock()
}

func (l *Loop) frame(now time.Time) {
	l.mu.Lock()
	fns := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, fn := range fns {
		fn(now)
	}
}

// Schedule queues fn for the next frame. It is safe to call from any goroutine.
func (l *Loop) Schedule(fn func(now time.Time)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.pending = append(l.pending, fn)
}

// Do runs fn on the loop goroutine and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func(now time.Time)) error {
	done := make(chan struct{})
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.pending = append(l.pending, func(now time.Time) {
		defer close(done)
		fn(now)
	})
	l.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.doneCh:
		return ErrStopped
	}
}

// Stop terminates the loop and waits for the goroutine to exit.
// Stop must not be called from a loop callback.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	if !l.started.Load() {
		l.markStopped()
		return
	}
	<-l.doneCh
}

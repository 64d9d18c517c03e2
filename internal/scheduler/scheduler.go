// Package scheduler provides the per-frame scheduling capability the engine
// runs on. All engine state is mutated from scheduled callbacks only, so a
// Scheduler gives single-threaded semantics even inside a concurrent server.
package scheduler

import (
	"iter"
	"time"
)

// Scheduler runs callbacks on the next frame.
type Scheduler interface {
	Schedule(fn func(now time.Time))
}

// DefaultChunkSize is the number of items processed per frame by chunked work.
const DefaultChunkSize = 1000

// Token requests cooperative cancellation of chunked work. The worker checks
// Cancelled between chunks and calls Acknowledge once it has stopped.
// Tokens are used from the frame loop only.
type Token struct {
	cancelled bool
	acked     bool
	onAck     []func()
}

// NewToken returns a live token.
func NewToken() *Token { return &Token{} }

// Cancel requests cancellation.
func (t *Token) Cancel() { t.cancelled = true }

// Cancelled reports whether cancellation was requested.
func (t *Token) Cancelled() bool { return t.cancelled }

// Acknowledged reports whether the worker observed the cancellation.
func (t *Token) Acknowledged() bool { return t.acked }

// Acknowledge marks the cancellation as observed and runs the waiting callbacks.
func (t *Token) Acknowledge() {
	if t.acked {
		return
	}
	t.acked = true
	fns := t.onAck
	t.onAck = nil
	for _, fn := range fns {
		fn()
	}
}

// OnAcknowledge calls fn once the worker acknowledged the cancellation.
func (t *Token) OnAcknowledge(fn func()) {
	if t.acked {
		fn()
		return
	}
	t.onAck = append(t.onAck, fn)
}

// RunChunked pulls up to chunk items per frame from seq and passes them to fn.
// Between chunks it yields to s and checks token. done receives true when seq
// was exhausted and false when the run was cancelled; a cancelled run
// acknowledges token before done is called.
func RunChunked[T any](s Scheduler, token *Token, seq iter.Seq[T], chunk int, fn func(T), done func(completed bool)) {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	next, stop := iter.Pull(seq)

	var step func(time.Time)
	step = func(time.Time) {
		if token != nil && token.Cancelled() {
			stop()
			token.Acknowledge()
			if done != nil {
				done(false)
			}
			return
		}
		for i := 0; i < chunk; i++ {
			v, ok := next()
			if !ok {
				stop()
				if done != nil {
					done(true)
				}
				return
			}
			fn(v)
		}
		s.Schedule(step)
	}
	s.Schedule(step)
}

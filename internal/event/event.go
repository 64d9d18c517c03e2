// Package event provides listener registration and the Uninitialized -> Ready
// lifecycle used by engine components.
package event

// Dispatcher holds listeners for one kind of notification.
// It is not safe for concurrent use; components own their dispatchers and
// emit from the frame loop.
type Dispatcher[T any] struct {
	next      int
	listeners map[int]func(T)
	order     []int
}

// On registers fn and returns a function removing it again.
func (d *Dispatcher[T]) On(fn func(T)) (off func()) {
	if fn == nil {
		panic("event: nil listener")
	}
	if d.listeners == nil {
		d.listeners = make(map[int]func(T))
	}
	id := d.next
	d.next++
	d.listeners[id] = fn
	d.order = append(d.order, id)
	return func() { d.remove(id) }
}

func (d *Dispatcher[T]) remove(id int) {
	if _, ok := d.listeners[id]; !ok {
		return
	}
	delete(d.listeners, id)
	for i, v := range d.order {
		if v == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Emit calls every listener in registration order. Listeners added during
// Emit are called from the next Emit on.
func (d *Dispatcher[T]) Emit(v T) {
	ids := append([]int(nil), d.order...)
	for _, id := range ids {
		if fn, ok := d.listeners[id]; ok {
			fn(v)
		}
	}
}

// Len returns the number of registered listeners.
func (d *Dispatcher[T]) Len() int { return len(d.order) }

// Lifecycle is a two-state machine: Uninitialized until MarkReady is called.
type Lifecycle struct {
	ready   bool
	onReady Dispatcher[struct{}]
}

// Ready reports whether MarkReady has been called.
func (l *Lifecycle) Ready() bool { return l.ready }

// MarkReady switches to Ready and notifies listeners once.
func (l *Lifecycle) MarkReady() {
	if l.ready {
		return
	}
	l.ready = true
	l.onReady.Emit(struct{}{})
}

// Reset returns to Uninitialized. Listeners stay registered.
func (l *Lifecycle) Reset() { l.ready = false }

// OnReady calls fn when the lifecycle becomes Ready, or immediately if it
// already is.
func (l *Lifecycle) OnReady(fn func()) (off func()) {
	if l.ready {
		fn()
	}
	return l.onReady.On(func(struct{}) { fn() })
}

package event

import "sync"

// Listener receives events from a Registry. Listeners must not block;
// long-running work belongs on the listener's own goroutine.
type Listener func(Event)

// Registry fans events out to registered listeners in registration order.
// A panicking listener never blocks delivery to the others.
type Registry struct {
	mu        sync.Mutex
	nextID    int
	order     []int
	listeners map[int]Listener
}

// NewRegistry creates an empty listener registry.
func NewRegistry() *Registry {
	return &Registry{listeners: make(map[int]Listener)}
}

// Subscribe registers a listener and returns a cancel function.
// Cancel is idempotent.
func (r *Registry) Subscribe(fn Listener) (cancel func()) {
	if r == nil || fn == nil {
		return func() {}
	}
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.order = append(r.order, id)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.listeners[id]; !ok {
			return
		}
		delete(r.listeners, id)
		for i, v := range r.order {
			if v == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
}

// Emit delivers evt to every registered listener in registration order.
// Emission order matches the order of Emit calls for a single caller.
func (r *Registry) Emit(evt Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	snapshot := make([]Listener, 0, len(r.order))
	for _, id := range r.order {
		if fn, ok := r.listeners[id]; ok {
			snapshot = append(snapshot, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range snapshot {
		deliver(fn, evt)
	}
}

// Clear drops every registered listener.
func (r *Registry) Clear() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = make(map[int]Listener)
	r.order = nil
}

// deliver isolates listener panics from the emitting caller.
func deliver(fn Listener, evt Event) {
	defer func() {
		_ = recover()
	}()
	fn(evt)
}

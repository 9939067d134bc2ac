package realtime

import (
	"log/slog"
	"sync"
)

// Registry de-multiplexes push events to registered consumers. Dispatch is
// synchronous and in arrival order; one event is fully fanned out before
// the next is handled.
type Registry struct {
	logger *slog.Logger

	mu        sync.Mutex
	callbacks map[string]func(ev Event)
	order     []string
	lastEvent *Event
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger,
		callbacks: make(map[string]func(Event)),
	}
}

// RegisterCallback adds or replaces the consumer with the given id. The
// retained last event, if any, is replayed to the new consumer so late
// subscribers catch up. Safe to call during a dispatch.
func (r *Registry) RegisterCallback(id string, fn func(ev Event)) {
	r.mu.Lock()
	if _, exists := r.callbacks[id]; !exists {
		r.order = append(r.order, id)
	}
	r.callbacks[id] = fn
	last := r.lastEvent
	r.mu.Unlock()

	if last != nil {
		r.invoke(id, fn, *last)
	}
}

// UnregisterCallback removes the consumer. Safe to call during a dispatch;
// the in-progress dispatch still delivers to the snapshot it took.
func (r *Registry) UnregisterCallback(id string) {
	r.mu.Lock()
	if _, exists := r.callbacks[id]; exists {
		delete(r.callbacks, id)
		for i, cid := range r.order {
			if cid == id {
				r.order = append(r.order[:i:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
}

// Len returns the number of registered consumers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks)
}

// LastEvent returns the most recently dispatched event, if any.
func (r *Registry) LastEvent() *Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastEvent == nil {
		return nil
	}
	ev := *r.lastEvent
	return &ev
}

// Dispatch stores ev as the last event and invokes every currently
// registered consumer with it, exactly once each, in registration order.
// The callback set is snapshotted first so registration changes made by a
// callback do not affect this dispatch.
func (r *Registry) Dispatch(ev Event) {
	r.mu.Lock()
	r.lastEvent = &ev
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.callbacks[id])
	}
	r.mu.Unlock()

	for i, id := range ids {
		r.invoke(id, fns[i], ev)
	}
}

// invoke runs one consumer with panic isolation: a failing consumer never
// prevents delivery to the rest.
func (r *Registry) invoke(id string, fn func(Event), ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("push consumer panicked", "consumer", id, "kind", ev.Kind, "panic", rec)
		}
	}()
	fn(ev)
}

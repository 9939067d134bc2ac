// Package mutate implements optimistic writes: a mutation is applied to
// the local collection first, sent to the server second, and either
// reconciled with the server's canonical object or rolled back to the
// pre-mutation snapshot.
package mutate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TempIDPrefix marks locally created placeholder items that have not yet
// been confirmed by the server.
const TempIDPrefix = "tmp-"

// IsTempID reports whether id belongs to an unconfirmed placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// NewTempID returns a fresh placeholder id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// Resource is anything the mutation layer can address by id.
type Resource interface {
	ResourceID() string
}

// Collection is the single store of truth for one resource's items. All
// reads and writes for that resource go through it; nothing else holds a
// mutable copy.
type Collection[T Resource] struct {
	mu        sync.RWMutex
	items     []T
	listeners []func(items []T)
}

// NewCollection creates an empty Collection.
func NewCollection[T Resource]() *Collection[T] {
	return &Collection[T]{}
}

// Items returns a copy of the current items.
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Get returns the item with the given id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, item := range c.items {
		if item.ResourceID() == id {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Len returns the number of items.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Replace swaps the whole collection, typically from a fresh server
// snapshot.
func (c *Collection[T]) Replace(items []T) {
	c.mu.Lock()
	c.items = make([]T, len(items))
	copy(c.items, items)
	c.mu.Unlock()
	c.changed()
}

// OnChange registers a listener invoked with a copy of the items after
// every change. Listeners run outside the collection's lock.
func (c *Collection[T]) OnChange(fn func(items []T)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Collection[T]) changed() {
	c.mu.RLock()
	items := make([]T, len(c.items))
	copy(items, c.items)
	listeners := make([]func([]T), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(items)
	}
}

func (c *Collection[T]) snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make([]T, len(c.items))
	copy(snap, c.items)
	return snap
}

func (c *Collection[T]) restore(snap []T) {
	c.mu.Lock()
	c.items = snap
	c.mu.Unlock()
	c.changed()
}

func (c *Collection[T]) insert(item T) {
	c.mu.Lock()
	c.items = append(c.items, item)
	c.mu.Unlock()
	c.changed()
}

// swap replaces the item with the given id in place, preserving order.
func (c *Collection[T]) swap(id string, item T) bool {
	c.mu.Lock()
	found := false
	for i := range c.items {
		if c.items[i].ResourceID() == id {
			c.items[i] = item
			found = true
			break
		}
	}
	c.mu.Unlock()
	if found {
		c.changed()
	}
	return found
}

func (c *Collection[T]) remove(id string) bool {
	c.mu.Lock()
	found := false
	for i := range c.items {
		if c.items[i].ResourceID() == id {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if found {
		c.changed()
	}
	return found
}

// RemoteOps are the server calls backing a coordinator. Create and Update
// return the server's canonical object.
type RemoteOps[T Resource] struct {
	Create func(ctx context.Context, item T) (T, error)
	Update func(ctx context.Context, item T) (T, error)
	Delete func(ctx context.Context, id string) error
}

// Options configures a Coordinator.
type Options[T Resource] struct {
	Collection *Collection[T]
	Remote     RemoteOps[T]
	// WithID returns a copy of item carrying the given id. Used to stamp
	// placeholder ids on creates.
	WithID func(item T, id string) T
	Logger *slog.Logger
}

// Coordinator applies optimistic mutations to a Collection. Concurrent
// mutations of the same item are last-write-wins: whichever server
// response lands last is the state that sticks.
type Coordinator[T Resource] struct {
	col    *Collection[T]
	remote RemoteOps[T]
	withID func(T, string) T
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator over the given collection.
func NewCoordinator[T Resource](opts Options[T]) *Coordinator[T] {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator[T]{
		col:    opts.Collection,
		remote: opts.Remote,
		withID: opts.WithID,
		logger: opts.Logger,
	}
}

// Collection returns the coordinator's store of truth.
func (m *Coordinator[T]) Collection() *Collection[T] {
	return m.col
}

// WithID returns a copy of item carrying the given id.
func (m *Coordinator[T]) WithID(item T, id string) T {
	return m.withID(item, id)
}

// Create inserts a placeholder with a temp id immediately, then sends the
// create. On success the placeholder is swapped for the server's
// canonical object; on failure it is dropped.
func (m *Coordinator[T]) Create(ctx context.Context, item T) (T, error) {
	var zero T

	tempID := NewTempID()
	placeholder := m.withID(item, tempID)
	m.col.insert(placeholder)

	canonical, err := m.remote.Create(ctx, item)
	if err != nil {
		m.col.remove(tempID)
		m.logger.Warn("create rolled back", "temp_id", tempID, "error", err)
		return zero, fmt.Errorf("creating item: %w", err)
	}

	m.col.swap(tempID, canonical)
	return canonical, nil
}

// Update applies the new version locally, then sends it. On failure the
// whole collection is restored to its pre-mutation snapshot; on success
// the local item is reconciled with the server's canonical object.
func (m *Coordinator[T]) Update(ctx context.Context, item T) (T, error) {
	var zero T
	id := item.ResourceID()

	snap := m.col.snapshot()
	if !m.col.swap(id, item) {
		return zero, fmt.Errorf("updating item: %q not in collection", id)
	}

	canonical, err := m.remote.Update(ctx, item)
	if err != nil {
		m.col.restore(snap)
		m.logger.Warn("update rolled back", "id", id, "error", err)
		return zero, fmt.Errorf("updating item: %w", err)
	}

	m.col.swap(id, canonical)
	return canonical, nil
}

// Delete removes the item locally, then sends the delete. On failure the
// pre-mutation snapshot is restored.
func (m *Coordinator[T]) Delete(ctx context.Context, id string) error {
	snap := m.col.snapshot()
	if !m.col.remove(id) {
		return fmt.Errorf("deleting item: %q not in collection", id)
	}

	if err := m.remote.Delete(ctx, id); err != nil {
		m.col.restore(snap)
		m.logger.Warn("delete rolled back", "id", id, "error", err)
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

package hook

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrInterrupt signals that a listener wants to stop further processing.
var ErrInterrupt = errors.New("hook interrupted")

// Listener handles events of type E.
type Listener[E any] interface {
	Handle(ctx context.Context, ev E) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc[E any] func(ctx context.Context, ev E) error

func (f ListenerFunc[E]) Handle(ctx context.Context, ev E) error { return f(ctx, ev) }

type entry[E any] struct {
	priority int
	name     string
	l        Listener[E]
}

// Center dispatches one event type to registered listeners in priority order
// (lower runs first, ties in registration order).
type Center[E any] struct {
	mu      sync.RWMutex
	entries []*entry[E]
}

// NewCenter creates an empty Center.
func NewCenter[E any]() *Center[E] {
	return &Center[E]{}
}

// Register adds l under name. name is used for Unregister.
func (c *Center[E]) Register(priority int, name string, l Listener[E]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := append(c.entries, &entry[E]{priority: priority, name: name, l: l})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	c.entries = entries
}

// Unregister removes every listener registered with name.
func (c *Center[E]) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.name != name {
			c.entries[n] = e
			n++
		}
	}
	c.entries = c.entries[:n]
}

// Names returns the registered listener names in dispatch order.
func (c *Center[E]) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// Emit runs every listener. A listener returning ErrInterrupt stops the
// chain and the interrupt is returned; other errors are joined and returned
// once all listeners ran. A nil Center is a no-op.
func (c *Center[E]) Emit(ctx context.Context, ev E) error {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	entries := make([]*entry[E], len(c.entries))
	copy(entries, c.entries)
	c.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		err := e.l.Handle(ctx, ev)
		if errors.Is(err, ErrInterrupt) {
			return err
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DocumentChanged is emitted after a document change has been committed.
type DocumentChanged struct {
	Path        string    `json:"path"`
	Revision    int64     `json:"revision"`
	Description string    `json:"description"`
	Undoable    bool      `json:"undoable"`
	Actor       string    `json:"actor"`
	At          time.Time `json:"at"`
}

// DocumentEvents is the center carrying DocumentChanged.
type DocumentEvents = Center[DocumentChanged]

// NewDocumentEvents creates a DocumentEvents center.
func NewDocumentEvents() *DocumentEvents {
	return NewCenter[DocumentChanged]()
}

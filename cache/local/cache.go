package local

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// ErrWrongType is returned when a hash operation hits a string key or the
// other way round.
var ErrWrongType = errors.New("cache: wrong type for key")

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

// entry holds either a string value or a hash, with an optional expiry.
type entry struct {
	data     string
	fields   map[string]string
	isHash   bool
	expireAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// LocalCache is an in-process cache implementing the Cache interface.
type LocalCache struct {
	mu         sync.Mutex
	items      map[string]*entry
	gcInterval time.Duration
	stopGC     chan struct{}
	closeOnce  sync.Once
}

// NewCache creates a LocalCache and starts the background GC goroutine.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		items:      make(map[string]*entry),
		gcInterval: interval,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// Close stops the background GC goroutine.
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() { close(c.stopGC) })
}

func (c *LocalCache) runGC() {
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.items {
				if e.expired(now) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		case <-c.stopGC:
			return
		}
	}
}

// live returns the unexpired entry for key. Caller holds c.mu.
func (c *LocalCache) live(key string) (*entry, bool) {
	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(c.items, key)
		return nil, false
	}
	return e, true
}

// ---- KV ----

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return "", ErrNotFound
	}
	if e.isHash {
		return "", ErrWrongType
	}
	return e.data, nil
}

func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := &entry{data: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = e
	c.mu.Unlock()
	return nil
}

func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.live(key)
	return ok, nil
}

// Expire sets a TTL on an existing key; a non-positive ttl removes the key,
// matching Redis semantics.
func (c *LocalCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return nil
	}
	if ttl <= 0 {
		delete(c.items, key)
		return nil
	}
	e.expireAt = time.Now().Add(ttl)
	return nil
}

// ---- Hash ----

func (c *LocalCache) HSet(_ context.Context, key string, values map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		e = &entry{isHash: true, fields: make(map[string]string, len(values))}
		c.items[key] = e
	}
	if !e.isHash {
		return ErrWrongType
	}
	for f, v := range values {
		e.fields[f] = v
	}
	return nil
}

func (c *LocalCache) HGet(_ context.Context, key, field string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return "", ErrNotFound
	}
	if !e.isHash {
		return "", ErrWrongType
	}
	v, ok := e.fields[field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// HGetAll returns an empty map for a missing key.
func (c *LocalCache) HGetAll(_ context.Context, key string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string)
	e, ok := c.live(key)
	if !ok {
		return out, nil
	}
	if !e.isHash {
		return nil, ErrWrongType
	}
	for f, v := range e.fields {
		out[f] = v
	}
	return out, nil
}

package docstore

import (
	"context"
	"sync"

	"github.com/thc1967/codex-quest-manager-sub000/hook"
	"go.uber.org/zap"
)

// MemoryStore keeps the document in process memory.
type MemoryStore struct {
	path   string
	events *hook.DocumentEvents
	logger *zap.Logger

	txMu     sync.Mutex // held while a change is open
	mu       sync.RWMutex
	data     []byte
	revision int64
}

// NewMemoryStore creates an empty MemoryStore. events and logger may be nil.
func NewMemoryStore(path string, events *hook.DocumentEvents, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{path: path, events: events, logger: logger}
}

func (s *MemoryStore) Path() string { return s.path }

// Revision returns the number of completed changes.
func (s *MemoryStore) Revision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Put overwrites the payload outside any change, without notification.
// It exists to seed fixtures such as corrupted documents.
func (s *MemoryStore) Put(data []byte) {
	s.mu.Lock()
	s.data = clone(data)
	s.mu.Unlock()
}

func (s *MemoryStore) Snapshot(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.data), nil
}

func (s *MemoryStore) BeginChange(ctx context.Context) (Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.RLock()
	data := clone(s.data)
	s.mu.RUnlock()
	return &memoryChange{store: s, data: data}, nil
}

type memoryChange struct {
	store *MemoryStore
	data  []byte
	done  bool
}

func (c *memoryChange) Data() []byte    { return c.data }
func (c *memoryChange) Set(data []byte) { c.data = data }

func (c *memoryChange) CompleteChange(ctx context.Context, description string, opts CompleteOptions) error {
	if c.done {
		return ErrChangeClosed
	}
	s := c.store
	s.mu.Lock()
	s.data = clone(c.data)
	s.revision++
	rev := s.revision
	s.mu.Unlock()
	c.done = true
	s.txMu.Unlock()

	notify(ctx, s.events, s.logger, hook.DocumentChanged{
		Path:        s.path,
		Revision:    rev,
		Description: description,
		Undoable:    opts.Undoable,
		Actor:       opts.Actor,
		At:          utcNow(),
	})
	return nil
}

func (c *memoryChange) Abort() {
	if c.done {
		return
	}
	c.done = true
	c.store.txMu.Unlock()
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

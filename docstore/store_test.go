package docstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thc1967/codex-quest-manager-sub000/docstore"
	"github.com/thc1967/codex-quest-manager-sub000/hook"
	"github.com/thc1967/codex-quest-manager-sub000/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []hook.DocumentChanged
}

func (r *recorder) Handle(_ context.Context, ev hook.DocumentChanged) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []hook.DocumentChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hook.DocumentChanged(nil), r.events...)
}

// stores returns one instance of every Store implementation sharing events.
func stores(t *testing.T, events *hook.DocumentEvents) map[string]docstore.Store {
	db := testutil.SetupTestDB(t)
	logger := testutil.Logger(t)
	return map[string]docstore.Store{
		"memory": docstore.NewMemoryStore("quests", events, logger),
		"gorm":   docstore.NewGormStore(db, "quests", events, logger),
	}
}

func TestStore_EmptySnapshot(t *testing.T) {
	for name, s := range stores(t, nil) {
		t.Run(name, func(t *testing.T) {
			data, err := s.Snapshot(context.Background())
			require.NoError(t, err)
			assert.Nil(t, data)
			assert.Equal(t, "quests", s.Path())
		})
	}
}

func TestStore_CompleteChangePersists(t *testing.T) {
	for name, s := range stores(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ch, err := s.BeginChange(ctx)
			require.NoError(t, err)
			assert.Nil(t, ch.Data())
			ch.Set([]byte(`{"a":1}`))
			require.NoError(t, ch.CompleteChange(ctx, "first", docstore.CompleteOptions{Undoable: true}))

			data, err := s.Snapshot(ctx)
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":1}`, string(data))

			ch, err = s.BeginChange(ctx)
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":1}`, string(ch.Data()))
			ch.Set([]byte(`{"a":2}`))
			require.NoError(t, ch.CompleteChange(ctx, "second", docstore.CompleteOptions{}))

			data, err = s.Snapshot(ctx)
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":2}`, string(data))
		})
	}
}

func TestStore_AbortDiscards(t *testing.T) {
	for name, s := range stores(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ch, err := s.BeginChange(ctx)
			require.NoError(t, err)
			ch.Set([]byte(`{"kept":false}`))
			ch.Abort()
			ch.Abort() // second abort is a no-op

			data, err := s.Snapshot(ctx)
			require.NoError(t, err)
			assert.Nil(t, data)

			// the store is usable again after an abort
			ch, err = s.BeginChange(ctx)
			require.NoError(t, err)
			ch.Abort()
		})
	}
}

func TestStore_ChangeClosedAfterComplete(t *testing.T) {
	for name, s := range stores(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ch, err := s.BeginChange(ctx)
			require.NoError(t, err)
			ch.Set([]byte(`{}`))
			require.NoError(t, ch.CompleteChange(ctx, "x", docstore.CompleteOptions{}))
			err = ch.CompleteChange(ctx, "x", docstore.CompleteOptions{})
			assert.ErrorIs(t, err, docstore.ErrChangeClosed)
			ch.Abort() // no-op after complete
		})
	}
}

func TestStore_EmitsDocumentChanged(t *testing.T) {
	events := hook.NewDocumentEvents()
	rec := &recorder{}
	events.Register(0, "recorder", rec)

	for name, s := range stores(t, events) {
		t.Run(name, func(t *testing.T) {
			before := len(rec.all())
			ctx := context.Background()
			for i, desc := range []string{"one", "two"} {
				ch, err := s.BeginChange(ctx)
				require.NoError(t, err)
				ch.Set([]byte(`{}`))
				require.NoError(t, ch.CompleteChange(ctx, desc, docstore.CompleteOptions{Undoable: i == 0, Actor: "u1"}))
			}
			got := rec.all()[before:]
			require.Len(t, got, 2)
			assert.Equal(t, "one", got[0].Description)
			assert.True(t, got[0].Undoable)
			assert.Equal(t, "u1", got[0].Actor)
			assert.Equal(t, "quests", got[0].Path)
			assert.Equal(t, int64(1), got[0].Revision)
			assert.Equal(t, int64(2), got[1].Revision)
			assert.False(t, got[1].At.IsZero())
		})
	}
}

func TestStore_ListenerErrorDoesNotFailCommit(t *testing.T) {
	events := hook.NewDocumentEvents()
	events.Register(0, "broken", hook.ListenerFunc[hook.DocumentChanged](
		func(context.Context, hook.DocumentChanged) error { return errors.New("boom") }))

	for name, s := range stores(t, events) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ch, err := s.BeginChange(ctx)
			require.NoError(t, err)
			ch.Set([]byte(`{"ok":true}`))
			require.NoError(t, ch.CompleteChange(ctx, "x", docstore.CompleteOptions{}))
			data, err := s.Snapshot(ctx)
			require.NoError(t, err)
			assert.JSONEq(t, `{"ok":true}`, string(data))
		})
	}
}

func TestMemoryStore_ChangesAreSerialised(t *testing.T) {
	s := docstore.NewMemoryStore("quests", nil, nil)
	ctx := context.Background()

	first, err := s.BeginChange(ctx)
	require.NoError(t, err)

	started := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		close(started)
		ch, err := s.BeginChange(ctx)
		if err == nil {
			close(acquired)
			ch.Abort()
		}
	}()
	<-started

	select {
	case <-acquired:
		t.Fatal("second change opened while the first was still open")
	case <-time.After(50 * time.Millisecond):
	}

	first.Set([]byte(`{}`))
	require.NoError(t, first.CompleteChange(ctx, "x", docstore.CompleteOptions{}))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second change never opened")
	}
	assert.Equal(t, int64(1), s.Revision())
}

func TestMemoryStore_BeginChangeHonoursContext(t *testing.T) {
	s := docstore.NewMemoryStore("quests", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.BeginChange(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_PutSeedsWithoutRevision(t *testing.T) {
	s := docstore.NewMemoryStore("quests", nil, nil)
	s.Put([]byte(`garbage`))
	data, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(data))
	assert.Equal(t, int64(0), s.Revision())
}

func TestGormStore_Revision(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := docstore.NewGormStore(db, "quests", nil, nil)
	ctx := context.Background()

	rev, err := s.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rev)

	for i := 0; i < 3; i++ {
		ch, err := s.BeginChange(ctx)
		require.NoError(t, err)
		ch.Set([]byte(`{}`))
		require.NoError(t, ch.CompleteChange(ctx, "x", docstore.CompleteOptions{}))
	}
	rev, err = s.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rev)
}

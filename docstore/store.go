// Package docstore persists JSON document snapshots and brackets every
// mutation in a BeginChange / CompleteChange transaction.
package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/thc1967/codex-quest-manager-sub000/hook"
	"go.uber.org/zap"
)

// ErrChangeClosed is returned when a change is used after it was completed
// or aborted.
var ErrChangeClosed = errors.New("docstore: change already closed")

// CompleteOptions describe a committed change.
type CompleteOptions struct {
	Undoable bool
	Actor    string
}

// Store holds one document.
type Store interface {
	// Path names the document; change notifications are keyed by it.
	Path() string
	// Snapshot returns the current payload, or nil if nothing is stored yet.
	Snapshot(ctx context.Context) ([]byte, error)
	// BeginChange opens a transaction. Only one change is open at a time;
	// the call blocks until the previous one completes or aborts.
	BeginChange(ctx context.Context) (Change, error)
}

// Change is an open transaction on a Store.
type Change interface {
	// Data is the payload as of BeginChange (nil if empty).
	Data() []byte
	// Set replaces the payload that CompleteChange will commit.
	Set(data []byte)
	// CompleteChange commits the payload and notifies listeners.
	CompleteChange(ctx context.Context, description string, opts CompleteOptions) error
	// Abort discards the change. It is a no-op after CompleteChange.
	Abort()
}

// notify emits ev and logs listener failures; the change is already durable
// at this point so listener errors never fail the commit.
func notify(ctx context.Context, events *hook.DocumentEvents, logger *zap.Logger, ev hook.DocumentChanged) {
	if err := events.Emit(ctx, ev); err != nil {
		logger.Warn("document change listener failed",
			zap.String("path", ev.Path),
			zap.Int64("revision", ev.Revision),
			zap.Error(err))
	}
}

func utcNow() time.Time { return time.Now().UTC() }

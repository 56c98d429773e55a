// Package audit keeps the change journal: one model.ChangeLog row per
// committed document change, written asynchronously in batches.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/thc1967/codex-quest-manager-sub000/hook"
	"github.com/thc1967/codex-quest-manager-sub000/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
	maxDescLen    = 255
)

// Service journals document changes asynchronously in batches.
type Service struct {
	db     *gorm.DB
	ch     chan *model.ChangeLog
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a new journal Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.ChangeLog, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Handle enqueues ev. It satisfies hook.Listener so the service can be
// registered on a hook.DocumentEvents center; it never fails the change.
func (svc *Service) Handle(_ context.Context, ev hook.DocumentChanged) error {
	svc.Log(ev)
	return nil
}

// Log enqueues a change for async DB write. Entries are dropped with a
// warning when the queue is full.
func (svc *Service) Log(ev hook.DocumentChanged) {
	record := &model.ChangeLog{
		Path:        ev.Path,
		Revision:    ev.Revision,
		Description: truncate(ev.Description, maxDescLen),
		Undoable:    ev.Undoable,
		Actor:       ev.Actor,
		ChangedAt:   ev.At,
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("journal channel full, dropping entry",
			zap.String("path", ev.Path),
			zap.Int64("revision", ev.Revision))
	}
}

// Recent returns up to limit journal entries for path, newest first.
func (svc *Service) Recent(ctx context.Context, path string, limit int) ([]model.ChangeLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows []model.ChangeLog
	err := svc.db.WithContext(ctx).
		Where("path = ?", path).
		Order("revision DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.once.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.ChangeLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("journal batch write failed",
				zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

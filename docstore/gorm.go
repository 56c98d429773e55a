package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/thc1967/codex-quest-manager-sub000/hook"
	"github.com/thc1967/codex-quest-manager-sub000/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps the document as a single model.Document row. Each change
// runs inside one database transaction holding the row lock.
type GormStore struct {
	db     *gorm.DB
	path   string
	events *hook.DocumentEvents
	logger *zap.Logger

	// serialises changes within this process; the row lock covers others.
	mu sync.Mutex
}

// NewGormStore binds a store to the document row at path. The tables must
// already be migrated (model.AutoMigrate).
func NewGormStore(db *gorm.DB, path string, events *hook.DocumentEvents, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: db, path: path, events: events, logger: logger}
}

func (s *GormStore) Path() string { return s.path }

func (s *GormStore) Snapshot(ctx context.Context) ([]byte, error) {
	var doc model.Document
	err := s.db.WithContext(ctx).Where("path = ?", s.path).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: load %s: %w", s.path, err)
	}
	return clone(doc.Payload), nil
}

// Revision returns the revision of the stored row, 0 if absent.
func (s *GormStore) Revision(ctx context.Context) (int64, error) {
	var doc model.Document
	err := s.db.WithContext(ctx).Select("revision").Where("path = ?", s.path).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return doc.Revision, err
}

func (s *GormStore) BeginChange(ctx context.Context) (Change, error) {
	s.mu.Lock()
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("docstore: begin: %w", tx.Error)
	}

	var doc model.Document
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("path = ?", s.path).Take(&doc).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		doc = model.Document{Path: s.path}
	case err != nil:
		tx.Rollback()
		s.mu.Unlock()
		return nil, fmt.Errorf("docstore: lock %s: %w", s.path, err)
	}

	var data []byte
	if len(doc.Payload) > 0 {
		data = clone(doc.Payload)
	}
	return &gormChange{store: s, tx: tx, revision: doc.Revision, data: data}, nil
}

type gormChange struct {
	store    *GormStore
	tx       *gorm.DB
	revision int64
	data     []byte
	done     bool
}

func (c *gormChange) Data() []byte    { return c.data }
func (c *gormChange) Set(data []byte) { c.data = data }

func (c *gormChange) CompleteChange(ctx context.Context, description string, opts CompleteOptions) error {
	if c.done {
		return ErrChangeClosed
	}
	c.done = true
	s := c.store

	now := utcNow()
	doc := model.Document{
		Path:      s.path,
		Payload:   datatypes.JSON(clone(c.data)),
		Revision:  c.revision + 1,
		UpdatedAt: now,
	}
	if err := c.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&doc).Error; err != nil {
		c.tx.Rollback()
		s.mu.Unlock()
		return fmt.Errorf("docstore: save %s: %w", s.path, err)
	}
	err := c.tx.Commit().Error
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("docstore: commit: %w", err)
	}

	notify(ctx, s.events, s.logger, hook.DocumentChanged{
		Path:        s.path,
		Revision:    doc.Revision,
		Description: description,
		Undoable:    opts.Undoable,
		Actor:       opts.Actor,
		At:          now,
	})
	return nil
}

func (c *gormChange) Abort() {
	if c.done {
		return
	}
	c.done = true
	c.tx.Rollback()
	c.store.mu.Unlock()
}

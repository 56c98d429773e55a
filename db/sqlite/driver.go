package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fileParams turns on WAL and makes writers wait for the lock instead of
// failing with SQLITE_BUSY while another process holds it.
const fileParams = "?_journal_mode=WAL&_busy_timeout=5000"

// Open opens the SQLite file at path, creating its directory.
func Open(path string, cfg *gorm.Config) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty sqlite path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %q: %w", dir, err)
		}
	}
	return gorm.Open(sqlite.Open(path+fileParams), cfg)
}

// OpenMemory creates a private in-memory database. The pool is pinned to a
// single connection because every new SQLite memory connection would
// otherwise see an empty database.
func OpenMemory(cfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

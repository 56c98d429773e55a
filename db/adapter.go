// Package db opens the configured SQL database for the quest store.
package db

import (
	"fmt"

	"github.com/thc1967/codex-quest-manager-sub000/config"
	dbmysql "github.com/thc1967/codex-quest-manager-sub000/db/mysql"
	dbsqlite "github.com/thc1967/codex-quest-manager-sub000/db/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Database modes.
const (
	ModeMemory = "memory" // private in-process SQLite, lost on exit
	ModeSQLite = "sqlite"
	ModeMySQL  = "mysql"
)

// Open returns a *gorm.DB for the configured mode. gorm output goes to log
// (nil silences it).
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: NewLogger(log, cfg.SlowQuery)}
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Mode {
	case ModeMemory:
		db, err = dbsqlite.OpenMemory(gcfg)
	case ModeSQLite:
		db, err = dbsqlite.Open(cfg.SQLitePath, gcfg)
	case ModeMySQL:
		db, err = dbmysql.Open(dbmysql.Options{
			DSN:     cfg.MySQLDSN,
			MaxOpen: cfg.MySQLMaxOpen,
			MaxIdle: cfg.MySQLMaxIdle,
			MaxLife: cfg.MySQLMaxLife,
		}, gcfg)
	default:
		return nil, fmt.Errorf("unknown database mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Mode, err)
	}
	return db, nil
}

package mysql

import (
	"errors"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Options configures the MySQL connection pool. The DSN must set
// parseTime=true so document timestamps scan into time.Time.
type Options struct {
	DSN     string
	MaxOpen int
	MaxIdle int
	MaxLife time.Duration
}

// Open connects to MySQL. The documents row lock relies on InnoDB
// SELECT ... FOR UPDATE.
func Open(opts Options, cfg *gorm.Config) (*gorm.DB, error) {
	if opts.DSN == "" {
		return nil, errors.New("empty dsn")
	}
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       opts.DSN,
		DefaultStringSize:         255,
		SkipInitializeWithVersion: false,
	}), cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpen)
	sqlDB.SetMaxIdleConns(opts.MaxIdle)
	sqlDB.SetConnMaxLifetime(opts.MaxLife)
	return db, nil
}

// Package db provides GORM connection and migration helpers for the durable
// store backing sessions, usage ledgers and the dispatch queue.
package db

import (
	"fmt"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens a GORM connection for the configured driver. MySQL is the
// production store; sqlite serves local mode and tests.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		// Uniqueness conflicts surface as gorm.ErrDuplicatedKey on both
		// drivers; the session tracker's race protocol depends on it.
		TranslateError: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "mysql":
		dsnCfg, perr := mysqldrv.ParseDSN(cfg.DSN)
		if perr != nil {
			return nil, fmt.Errorf("db: mysql dsn: %w", perr)
		}
		// time.Time columns scan wrong without parseTime.
		dsnCfg.ParseTime = true
		dsnCfg.Loc = time.UTC
		db, err = gorm.Open(mysql.Open(dsnCfg.FormatDSN()), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("db: connect %s: %w", cfg.Driver, err)
	}
	return db, nil
}

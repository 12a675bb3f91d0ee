// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package store

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/speakeasy-voice/speakeasy/internal/config"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrUnsupportedDatabaseKind is returned by Open for a configured
// database.kind this build has no driver for.
var ErrUnsupportedDatabaseKind = errors.New("store: unsupported database kind")

// Open establishes the GORM connection for cfg and runs every pending
// migration. Only DatabaseKindSQLite is wired in this build; a postgres
// configuration is rejected rather than silently falling back.
func Open(cfg config.Database) (*gorm.DB, error) {
	if cfg.Kind != config.DatabaseKindSQLite {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDatabaseKind, cfg.Kind)
	}

	db, err := gorm.Open(sqlite.Open(cfg.URL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: unwrapping database handle: %w", err)
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = runtime.GOMAXPROCS(0)
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	const maxIdleTime = 10 * time.Minute
	sqlDB.SetConnMaxIdleTime(maxIdleTime)

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("store: migrating database: %w", err)
	}
	return db, nil
}

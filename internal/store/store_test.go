// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package store_test

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/speakeasy-voice/speakeasy/internal/config"
	"github.com/speakeasy-voice/speakeasy/internal/store"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB opens an in-memory database and runs every migration,
// bypassing store.Open so tests don't depend on config.Database.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(""), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	return db
}

func TestOpenRejectsUnsupportedDatabaseKind(t *testing.T) {
	t.Parallel()
	_, err := store.Open(config.Database{Kind: config.DatabaseKindPostgres})
	require.ErrorIs(t, err, store.ErrUnsupportedDatabaseKind)
}

func TestOpenMigratesAFreshSQLiteFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "speakeasy.db")
	db, err := store.Open(config.Database{Kind: config.DatabaseKindSQLite, URL: path, MaxConnections: 4})
	require.NoError(t, err)
	require.NotNil(t, db)
	require.True(t, db.Migrator().HasTable("users"))
	require.True(t, db.Migrator().HasTable("channels"))
}

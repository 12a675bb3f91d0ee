// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package store

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Migrate brings db's schema up to the latest version, creating it from
// scratch on a fresh database.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "202601010000",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&userRow{},
					&channelRow{},
					&permissionRow{},
					&banRow{},
					&inviteRow{},
					&chatMessageRow{},
					&auditLogRow{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					&userRow{},
					&channelRow{},
					&permissionRow{},
					&banRow{},
					&inviteRow{},
					&chatMessageRow{},
					&auditLogRow{},
				)
			},
		},
	})
	return m.Migrate()
}

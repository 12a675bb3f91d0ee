// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package store implements the default persistence collaborators
// (internal/model's repository interfaces) over GORM and SQLite. Every
// identifier that crosses into a row is stored as its textual UUID form;
// callers never see a GORM type.
package store

import (
	"time"

	"gorm.io/gorm"
)

type userRow struct {
	ID                 string `gorm:"primaryKey"`
	Username           string `gorm:"uniqueIndex"`
	DisplayName        string
	PasswordHash       string
	ServerGroups       string // comma-separated group names
	MustChangePassword bool
	CreatedAt          time.Time
	LastLoginAt        time.Time
	UpdatedAt          time.Time
	DeletedAt          gorm.DeletedAt `gorm:"index"`
}

func (userRow) TableName() string { return "users" }

type channelRow struct {
	ID           string `gorm:"primaryKey"`
	Name         string
	ParentID     *string `gorm:"index"`
	Topic        string
	Password     string
	MaxClients   int
	Persisted    bool
	DeleteTarget *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

func (channelRow) TableName() string { return "channels" }

type permissionRow struct {
	ID          uint64 `gorm:"primaryKey"`
	TargetKind  int    `gorm:"uniqueIndex:idx_permission_target"`
	TargetUser  string `gorm:"uniqueIndex:idx_permission_target"`
	TargetGroup string `gorm:"uniqueIndex:idx_permission_target"`
	ChannelID   string `gorm:"uniqueIndex:idx_permission_target"`
	Key         string `gorm:"uniqueIndex:idx_permission_target"`
	ValueKind   int
	Tri         int
	Limit       int
	Scope       string // comma-separated
}

func (permissionRow) TableName() string { return "permissions" }

type banRow struct {
	ID        uint64 `gorm:"primaryKey"`
	UserID    *string `gorm:"index"`
	IP        string  `gorm:"index"`
	Reason    string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

func (banRow) TableName() string { return "bans" }

type inviteRow struct {
	Code        string `gorm:"primaryKey"`
	ChannelID   string `gorm:"index"`
	ServerGroup string
	CreatedBy   string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	RedeemedBy  *string
	RedeemedAt  *time.Time
}

func (inviteRow) TableName() string { return "invites" }

type chatMessageRow struct {
	ID            uint64 `gorm:"primaryKey"`
	ChannelID     string `gorm:"index"`
	SenderID      string
	Body          string
	AttachmentRef string
	SentAt        time.Time
	EditedAt      *time.Time
	DeletedAt     *time.Time
}

func (chatMessageRow) TableName() string { return "chat_messages" }

type auditLogRow struct {
	ID         uint64 `gorm:"primaryKey"`
	ActorID    *string
	Action     string
	TargetType string
	TargetID   string
	Details    string
	At         time.Time
}

func (auditLogRow) TableName() string { return "audit_log_entries" }

// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package model defines the domain records and repository interfaces the
// core consumes as external collaborators (§6): users, channels,
// permissions, bans, invites, chat messages, and the audit log. The core
// never depends on a concrete persistence technology directly — only on
// these interfaces, implemented by internal/store.
package model

import (
	"context"
	"time"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
)

// User is one registered account.
type User struct {
	ID                ids.UserID
	Username          string
	DisplayName       string
	PasswordHash      string
	ServerGroups      []string
	MustChangePassword bool
	CreatedAt         time.Time
	LastLoginAt       time.Time
}

// Channel is one persisted channel record. A channel may also exist only
// ephemerally in the router (see SPEC_FULL.md's channel-lifetime
// resolution) without ever appearing here.
type Channel struct {
	ID          ids.ChannelID
	Name        string
	ParentID    *ids.ChannelID
	Topic       string
	Password    string
	MaxClients  int
	Persisted   bool
	DeleteTarget *ids.ChannelID // where members land when this channel is deleted
}

// PermissionTarget names who a permission value applies to.
type PermissionTarget struct {
	Kind      PermissionTargetKind
	User      ids.UserID
	Group     string
	ChannelID ids.ChannelID
}

// PermissionTargetKind discriminates a PermissionTarget.
type PermissionTargetKind int

const (
	TargetUser PermissionTargetKind = iota
	TargetGroup
	TargetServerDefault
	TargetChannelDefault
)

// PermissionValueKind discriminates the shape of a PermissionValue.
type PermissionValueKind int

const (
	ValueTriState PermissionValueKind = iota
	ValueLimit
	ValueScope
)

// TriState is a Grant/Deny/Skip permission outcome.
type TriState int

const (
	Skip TriState = iota
	Grant
	Deny
)

// PermissionValue is one resolved or stored permission entry.
type PermissionValue struct {
	Kind  PermissionValueKind
	Tri   TriState
	Limit int
	Scope []string
}

// Ban is a persisted ban record, keyed on a user id, an IP address, or
// both.
type Ban struct {
	ID        uint64
	UserID    *ids.UserID
	IP        string
	Reason    string
	CreatedAt time.Time
	ExpiresAt *time.Time // nil means permanent
}

// Invite is a one-time redeemable invitation bound to a target channel
// and optional server group (MODULE ADDITION, see SPEC_FULL.md).
type Invite struct {
	Code          string
	ChannelID     ids.ChannelID
	ServerGroup   string
	CreatedBy     ids.UserID
	CreatedAt     time.Time
	ExpiresAt     *time.Time
	RedeemedBy    *ids.UserID
	RedeemedAt    *time.Time
}

// ChatMessage is one persisted chat entry.
type ChatMessage struct {
	ID            uint64
	ChannelID     ids.ChannelID
	SenderID      ids.UserID
	Body          string
	AttachmentRef string // opaque reference to an out-of-band attachment
	SentAt        time.Time
	EditedAt      *time.Time
	DeletedAt     *time.Time
}

// AuditLogEntry is one recorded administrative or security-relevant
// event.
type AuditLogEntry struct {
	ID         uint64
	ActorID    *ids.UserID
	Action     string
	TargetType string
	TargetID   string
	Details    string
	At         time.Time
}

// UserRepository is the user-persistence collaborator (§6).
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id ids.UserID) (*User, error)
	GetByName(ctx context.Context, username string) (*User, error)
	Update(ctx context.Context, u *User) error
	List(ctx context.Context) ([]*User, error)
	Authenticate(ctx context.Context, username, password string) (*User, error)
	UpdateLastLogin(ctx context.Context, id ids.UserID, at time.Time) error
}

// ChannelRepository is the channel-persistence collaborator (§6).
type ChannelRepository interface {
	Create(ctx context.Context, c *Channel) error
	GetByID(ctx context.Context, id ids.ChannelID) (*Channel, error)
	List(ctx context.Context) ([]*Channel, error)
	Update(ctx context.Context, c *Channel) error
	Delete(ctx context.Context, id ids.ChannelID) error
	GetDefault(ctx context.Context) (*Channel, error)
}

// PermissionRepository is the permission-persistence collaborator (§6,
// §4.8).
type PermissionRepository interface {
	Get(ctx context.Context, target PermissionTarget, key string) (PermissionValue, bool, error)
	Set(ctx context.Context, target PermissionTarget, key string, value PermissionValue) error
	Remove(ctx context.Context, target PermissionTarget, key string) error
	// ResolveEffective returns every key known for the five resolution
	// tiers applicable to (user, channel), keyed by tier then permission
	// key, for the permission cache to fold per §4.8.
	ResolveEffective(ctx context.Context, user ids.UserID, channel ids.ChannelID) (ResolutionInput, error)
}

// ResolutionInput is the raw per-tier permission data the cache folds
// into one decision per key.
type ResolutionInput struct {
	Individual      map[string]PermissionValue
	ChannelGroup     map[string]PermissionValue
	ChannelDefault   map[string]PermissionValue
	// ServerGroups is ordered highest-priority group first.
	ServerGroups     []map[string]PermissionValue
	ServerDefault    map[string]PermissionValue
}

// BanRepository is the ban-persistence collaborator (§6).
type BanRepository interface {
	Create(ctx context.Context, b *Ban) error
	List(ctx context.Context) ([]*Ban, error)
	Remove(ctx context.Context, id uint64) error
	IsBanned(ctx context.Context, user *ids.UserID, ip string) (*Ban, bool, error)
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// InviteRepository is the invite-persistence collaborator (MODULE
// ADDITION, SPEC_FULL.md).
type InviteRepository interface {
	Create(ctx context.Context, inv *Invite) error
	GetByCode(ctx context.Context, code string) (*Invite, error)
	Redeem(ctx context.Context, code string, by ids.UserID, at time.Time) (*Invite, error)
	List(ctx context.Context) ([]*Invite, error)
	Revoke(ctx context.Context, code string) error
}

// ChatRepository is the chat-persistence collaborator (§6, §4.3).
type ChatRepository interface {
	Send(ctx context.Context, m *ChatMessage) error
	Edit(ctx context.Context, id uint64, body string, at time.Time) error
	Delete(ctx context.Context, id uint64, at time.Time) error
	History(ctx context.Context, channel ids.ChannelID, limit int, before *time.Time) ([]*ChatMessage, error)
}

// AuditLogRepository is the audit-log collaborator (§6).
type AuditLogRepository interface {
	LogEvent(ctx context.Context, e *AuditLogEntry) error
}

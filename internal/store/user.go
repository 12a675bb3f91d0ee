// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speakeasy-voice/speakeasy/internal/auth"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"gorm.io/gorm"
)

// UserStore is the default model.UserRepository, backed by GORM.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore wraps db as a model.UserRepository.
func NewUserStore(db *gorm.DB) *UserStore { return &UserStore{db: db} }

func toUserRow(u *model.User) *userRow {
	return &userRow{
		ID:                 u.ID.String(),
		Username:           u.Username,
		DisplayName:        u.DisplayName,
		PasswordHash:       u.PasswordHash,
		ServerGroups:       joinStrings(u.ServerGroups),
		MustChangePassword: u.MustChangePassword,
		CreatedAt:          u.CreatedAt,
		LastLoginAt:        u.LastLoginAt,
	}
}

func fromUserRow(r *userRow) (*model.User, error) {
	id, err := ids.ParseUserID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("store: parsing user id %q: %w", r.ID, err)
	}
	return &model.User{
		ID:                 id,
		Username:           r.Username,
		DisplayName:        r.DisplayName,
		PasswordHash:       r.PasswordHash,
		ServerGroups:       splitStrings(r.ServerGroups),
		MustChangePassword: r.MustChangePassword,
		CreatedAt:          r.CreatedAt,
		LastLoginAt:        r.LastLoginAt,
	}, nil
}

func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	row := toUserRow(u)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("store: creating user: %w", err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id ids.UserID) (*model.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("store: loading user %s: %w", id, err)
	}
	return fromUserRow(&row)
}

func (s *UserStore) GetByName(ctx context.Context, username string) (*model.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("store: loading user %q: %w", username, err)
	}
	return fromUserRow(&row)
}

func (s *UserStore) Update(ctx context.Context, u *model.User) error {
	row := toUserRow(u)
	if err := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", row.ID).Updates(row).Error; err != nil {
		return fmt.Errorf("store: updating user %s: %w", u.ID, err)
	}
	return nil
}

func (s *UserStore) List(ctx context.Context) ([]*model.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: listing users: %w", err)
	}
	out := make([]*model.User, 0, len(rows))
	for i := range rows {
		u, err := fromUserRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Authenticate verifies username/password against the stored hash. It
// exists alongside internal/auth.Service's own credential check to
// satisfy collaborators that only have a UserRepository in hand (e.g. a
// migration script re-validating seed accounts).
func (s *UserStore) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	u, err := s.GetByName(ctx, username)
	if err != nil {
		return nil, err
	}
	ok, err := auth.VerifyPassword(password, u.PasswordHash)
	if err != nil || !ok {
		return nil, auth.ErrInvalidCredentials
	}
	return u, nil
}

func (s *UserStore) UpdateLastLogin(ctx context.Context, id ids.UserID, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id.String()).Update("last_login_at", at).Error
	if err != nil {
		return fmt.Errorf("store: updating last login for %s: %w", id, err)
	}
	return nil
}

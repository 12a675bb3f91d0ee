// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"gorm.io/gorm"
)

// BanStore is the default model.BanRepository.
type BanStore struct {
	db *gorm.DB
}

// NewBanStore wraps db as a model.BanRepository.
func NewBanStore(db *gorm.DB) *BanStore { return &BanStore{db: db} }

func toBanRow(b *model.Ban) *banRow {
	return &banRow{
		ID:        b.ID,
		UserID:    userIDPtr(b.UserID),
		IP:        b.IP,
		Reason:    b.Reason,
		CreatedAt: b.CreatedAt,
		ExpiresAt: b.ExpiresAt,
	}
}

func fromBanRow(r *banRow) (*model.Ban, error) {
	userID, err := parseUserIDPtr(r.UserID)
	if err != nil {
		return nil, err
	}
	return &model.Ban{
		ID:        r.ID,
		UserID:    userID,
		IP:        r.IP,
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}, nil
}

func (s *BanStore) Create(ctx context.Context, b *model.Ban) error {
	row := toBanRow(b)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("store: creating ban: %w", err)
	}
	b.ID = row.ID
	return nil
}

func (s *BanStore) List(ctx context.Context) ([]*model.Ban, error) {
	var rows []banRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: listing bans: %w", err)
	}
	out := make([]*model.Ban, 0, len(rows))
	for i := range rows {
		b, err := fromBanRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *BanStore) Remove(ctx context.Context, id uint64) error {
	if err := s.db.WithContext(ctx).Delete(&banRow{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("store: removing ban %d: %w", id, err)
	}
	return nil
}

// IsBanned reports the most specific active ban matching user or ip, if
// any: a user-id match takes precedence over an IP-only match.
func (s *BanStore) IsBanned(ctx context.Context, user *ids.UserID, ip string) (*model.Ban, bool, error) {
	now := time.Now()
	if user != nil {
		var row banRow
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND (expires_at IS NULL OR expires_at > ?)", user.String(), now).
			First(&row).Error
		if err == nil {
			b, err := fromBanRow(&row)
			return b, true, err
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("store: checking ban for user %s: %w", *user, err)
		}
	}
	if ip == "" {
		return nil, false, nil
	}
	var row banRow
	err := s.db.WithContext(ctx).
		Where("ip = ? AND (expires_at IS NULL OR expires_at > ?)", ip, now).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: checking ban for ip %s: %w", ip, err)
	}
	b, err := fromBanRow(&row)
	return b, true, err
}

func (s *BanStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	result := s.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", now).Delete(&banRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("store: cleaning up expired bans: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

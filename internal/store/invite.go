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

// ErrInviteNotFound is returned by GetByCode/Redeem for an unknown code.
var ErrInviteNotFound = errors.New("store: invite code not found")

// ErrInviteAlreadyRedeemed is returned by Redeem for a code already used.
var ErrInviteAlreadyRedeemed = errors.New("store: invite already redeemed")

// ErrInviteExpired is returned by Redeem for a code past its expiry.
var ErrInviteExpired = errors.New("store: invite expired")

// InviteStore is the default model.InviteRepository (MODULE ADDITION).
type InviteStore struct {
	db *gorm.DB
}

// NewInviteStore wraps db as a model.InviteRepository.
func NewInviteStore(db *gorm.DB) *InviteStore { return &InviteStore{db: db} }

func toInviteRow(inv *model.Invite) *inviteRow {
	return &inviteRow{
		Code:        inv.Code,
		ChannelID:   inv.ChannelID.String(),
		ServerGroup: inv.ServerGroup,
		CreatedBy:   inv.CreatedBy.String(),
		CreatedAt:   inv.CreatedAt,
		ExpiresAt:   inv.ExpiresAt,
		RedeemedBy:  userIDPtr(inv.RedeemedBy),
		RedeemedAt:  inv.RedeemedAt,
	}
}

func fromInviteRow(r *inviteRow) (*model.Invite, error) {
	channelID, err := ids.ParseChannelID(r.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("store: parsing invite channel id %q: %w", r.ChannelID, err)
	}
	createdBy, err := ids.ParseUserID(r.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("store: parsing invite creator id %q: %w", r.CreatedBy, err)
	}
	redeemedBy, err := parseUserIDPtr(r.RedeemedBy)
	if err != nil {
		return nil, err
	}
	return &model.Invite{
		Code:        r.Code,
		ChannelID:   channelID,
		ServerGroup: r.ServerGroup,
		CreatedBy:   createdBy,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
		RedeemedBy:  redeemedBy,
		RedeemedAt:  r.RedeemedAt,
	}, nil
}

func (s *InviteStore) Create(ctx context.Context, inv *model.Invite) error {
	if err := s.db.WithContext(ctx).Create(toInviteRow(inv)).Error; err != nil {
		return fmt.Errorf("store: creating invite: %w", err)
	}
	return nil
}

func (s *InviteStore) GetByCode(ctx context.Context, code string) (*model.Invite, error) {
	var row inviteRow
	err := s.db.WithContext(ctx).First(&row, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading invite %q: %w", code, err)
	}
	return fromInviteRow(&row)
}

// Redeem marks code as used by by at at, failing if it is unknown,
// already redeemed, or expired. The check-then-write runs inside one
// transaction so two simultaneous redemptions of the same code cannot
// both succeed.
func (s *InviteStore) Redeem(ctx context.Context, code string, by ids.UserID, at time.Time) (*model.Invite, error) {
	var result *model.Invite
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row inviteRow
		if err := tx.First(&row, "code = ?", code).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInviteNotFound
			}
			return fmt.Errorf("store: loading invite %q: %w", code, err)
		}
		if row.RedeemedBy != nil {
			return ErrInviteAlreadyRedeemed
		}
		if row.ExpiresAt != nil && at.After(*row.ExpiresAt) {
			return ErrInviteExpired
		}
		userID := by.String()
		row.RedeemedBy = &userID
		row.RedeemedAt = &at
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("store: redeeming invite %q: %w", code, err)
		}
		inv, err := fromInviteRow(&row)
		if err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *InviteStore) List(ctx context.Context) ([]*model.Invite, error) {
	var rows []inviteRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: listing invites: %w", err)
	}
	out := make([]*model.Invite, 0, len(rows))
	for i := range rows {
		inv, err := fromInviteRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func (s *InviteStore) Revoke(ctx context.Context, code string) error {
	if err := s.db.WithContext(ctx).Delete(&inviteRow{}, "code = ?", code).Error; err != nil {
		return fmt.Errorf("store: revoking invite %q: %w", code, err)
	}
	return nil
}

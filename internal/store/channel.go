// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"gorm.io/gorm"
)

// ErrNoDefaultChannel is returned by GetDefault when no root channel
// (one without a parent) exists to serve as the default landing channel.
var ErrNoDefaultChannel = errors.New("store: no default channel configured")

// ChannelStore is the default model.ChannelRepository.
type ChannelStore struct {
	db *gorm.DB
}

// NewChannelStore wraps db as a model.ChannelRepository.
func NewChannelStore(db *gorm.DB) *ChannelStore { return &ChannelStore{db: db} }

func toChannelRow(c *model.Channel) *channelRow {
	return &channelRow{
		ID:           c.ID.String(),
		Name:         c.Name,
		ParentID:     channelIDPtr(c.ParentID),
		Topic:        c.Topic,
		Password:     c.Password,
		MaxClients:   c.MaxClients,
		Persisted:    c.Persisted,
		DeleteTarget: channelIDPtr(c.DeleteTarget),
	}
}

func fromChannelRow(r *channelRow) (*model.Channel, error) {
	id, err := ids.ParseChannelID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("store: parsing channel id %q: %w", r.ID, err)
	}
	parent, err := parseChannelIDPtr(r.ParentID)
	if err != nil {
		return nil, err
	}
	deleteTarget, err := parseChannelIDPtr(r.DeleteTarget)
	if err != nil {
		return nil, err
	}
	return &model.Channel{
		ID:           id,
		Name:         r.Name,
		ParentID:     parent,
		Topic:        r.Topic,
		Password:     r.Password,
		MaxClients:   r.MaxClients,
		Persisted:    r.Persisted,
		DeleteTarget: deleteTarget,
	}, nil
}

func (s *ChannelStore) Create(ctx context.Context, c *model.Channel) error {
	if err := s.db.WithContext(ctx).Create(toChannelRow(c)).Error; err != nil {
		return fmt.Errorf("store: creating channel: %w", err)
	}
	return nil
}

func (s *ChannelStore) GetByID(ctx context.Context, id ids.ChannelID) (*model.Channel, error) {
	var row channelRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id.String()).Error; err != nil {
		return nil, fmt.Errorf("store: loading channel %s: %w", id, err)
	}
	return fromChannelRow(&row)
}

func (s *ChannelStore) List(ctx context.Context) ([]*model.Channel, error) {
	var rows []channelRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: listing channels: %w", err)
	}
	out := make([]*model.Channel, 0, len(rows))
	for i := range rows {
		c, err := fromChannelRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *ChannelStore) Update(ctx context.Context, c *model.Channel) error {
	row := toChannelRow(c)
	if err := s.db.WithContext(ctx).Model(&channelRow{}).Where("id = ?", row.ID).Updates(row).Error; err != nil {
		return fmt.Errorf("store: updating channel %s: %w", c.ID, err)
	}
	return nil
}

func (s *ChannelStore) Delete(ctx context.Context, id ids.ChannelID) error {
	if err := s.db.WithContext(ctx).Delete(&channelRow{}, "id = ?", id.String()).Error; err != nil {
		return fmt.Errorf("store: deleting channel %s: %w", id, err)
	}
	return nil
}

func (s *ChannelStore) GetDefault(ctx context.Context) (*model.Channel, error) {
	var row channelRow
	err := s.db.WithContext(ctx).Where("parent_id IS NULL").Order("created_at asc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoDefaultChannel
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading default channel: %w", err)
	}
	return fromChannelRow(&row)
}

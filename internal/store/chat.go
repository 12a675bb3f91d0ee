// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"gorm.io/gorm"
)

// ChatStore is the default model.ChatRepository.
type ChatStore struct {
	db *gorm.DB
}

// NewChatStore wraps db as a model.ChatRepository.
func NewChatStore(db *gorm.DB) *ChatStore { return &ChatStore{db: db} }

func toChatMessageRow(m *model.ChatMessage) *chatMessageRow {
	return &chatMessageRow{
		ID:            m.ID,
		ChannelID:     m.ChannelID.String(),
		SenderID:      m.SenderID.String(),
		Body:          m.Body,
		AttachmentRef: m.AttachmentRef,
		SentAt:        m.SentAt,
		EditedAt:      m.EditedAt,
		DeletedAt:     m.DeletedAt,
	}
}

func fromChatMessageRow(r *chatMessageRow) (*model.ChatMessage, error) {
	channelID, err := ids.ParseChannelID(r.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("store: parsing chat message channel id %q: %w", r.ChannelID, err)
	}
	senderID, err := ids.ParseUserID(r.SenderID)
	if err != nil {
		return nil, fmt.Errorf("store: parsing chat message sender id %q: %w", r.SenderID, err)
	}
	return &model.ChatMessage{
		ID:            r.ID,
		ChannelID:     channelID,
		SenderID:      senderID,
		Body:          r.Body,
		AttachmentRef: r.AttachmentRef,
		SentAt:        r.SentAt,
		EditedAt:      r.EditedAt,
		DeletedAt:     r.DeletedAt,
	}, nil
}

func (s *ChatStore) Send(ctx context.Context, m *model.ChatMessage) error {
	row := toChatMessageRow(m)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("store: sending chat message: %w", err)
	}
	m.ID = row.ID
	return nil
}

func (s *ChatStore) Edit(ctx context.Context, id uint64, body string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&chatMessageRow{}).Where("id = ?", id).
		Updates(map[string]any{"body": body, "edited_at": at}).Error
	if err != nil {
		return fmt.Errorf("store: editing chat message %d: %w", id, err)
	}
	return nil
}

func (s *ChatStore) Delete(ctx context.Context, id uint64, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&chatMessageRow{}).Where("id = ?", id).
		Update("deleted_at", at).Error
	if err != nil {
		return fmt.Errorf("store: deleting chat message %d: %w", id, err)
	}
	return nil
}

func (s *ChatStore) History(ctx context.Context, channel ids.ChannelID, limit int, before *time.Time) ([]*model.ChatMessage, error) {
	q := s.db.WithContext(ctx).Where("channel_id = ? AND deleted_at IS NULL", channel.String())
	if before != nil {
		q = q.Where("sent_at < ?", *before)
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []chatMessageRow
	if err := q.Order("sent_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: loading chat history for channel %s: %w", channel, err)
	}
	out := make([]*model.ChatMessage, 0, len(rows))
	for i := range rows {
		m, err := fromChatMessageRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

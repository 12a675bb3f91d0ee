// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package store

import (
	"context"
	"fmt"

	"github.com/speakeasy-voice/speakeasy/internal/model"
	"gorm.io/gorm"
)

// AuditLogStore is the default model.AuditLogRepository.
type AuditLogStore struct {
	db *gorm.DB
}

// NewAuditLogStore wraps db as a model.AuditLogRepository.
func NewAuditLogStore(db *gorm.DB) *AuditLogStore { return &AuditLogStore{db: db} }

func (s *AuditLogStore) LogEvent(ctx context.Context, e *model.AuditLogEntry) error {
	row := auditLogRow{
		ActorID:    userIDPtr(e.ActorID),
		Action:     e.Action,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Details:    e.Details,
		At:         e.At,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: logging audit event %q: %w", e.Action, err)
	}
	e.ID = row.ID
	return nil
}

// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// The interesting part is CreateConversation: conversation creation has no
// natural serialization point, so concurrent callers race on the unique
// application_id index. The loser receives ErrDuplicate and is expected to
// re-read the winner's row instead of failing.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/permitdesk/go-inbox-backend/internal/domain"
)

// ErrDuplicate indicates a uniqueness conflict: another caller already
// persisted a conversation for the same application.
var ErrDuplicate = errors.New("duplicate")

// GetConversation fetches a conversation by its id, or ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversationByApplication fetches the single conversation bound to
// applicationID, or ErrNotFound when none has been created yet.
func GetConversationByApplication(ctx context.Context, db *gorm.DB, applicationID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversation inserts the conversation row for applicationID and
// returns ErrDuplicate on a unique-index violation.
func CreateConversation(ctx context.Context, db *gorm.DB, applicationID string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// TouchConversation bumps last_message_at. Called inside the same
// transaction that appends a message so inbox ordering never lags the log.
func TouchConversation(db *gorm.DB, id string, at time.Time) error {
	res := db.Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("last_message_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListConversationIDsByApplication returns conversation ids for the given
// applications, most recently active first. An empty appIDs slice yields an
// empty result without touching the database.
func ListConversationIDsByApplication(ctx context.Context, db *gorm.DB, appIDs []string) ([]string, error) {
	if len(appIDs) == 0 {
		return []string{}, nil
	}
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("application_id IN ?", appIDs).
		Order("last_message_at desc").
		Pluck("id", &ids).Error
	return ids, err
}

// ListConversationIDs returns up to limit conversation ids across the whole
// platform, most recently active first. Used for admin scoping, which is
// bounded by a page size rather than scanning every row.
func ListConversationIDs(ctx context.Context, db *gorm.DB, limit int) ([]string, error) {
	var ids []string
	q := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Order("last_message_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}

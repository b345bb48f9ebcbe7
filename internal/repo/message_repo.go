// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model and its read-by set.
//
// Unread counting is done store-side with NOT EXISTS subqueries so the cost
// scales with the number of conversations in scope, never with client memory.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/permitdesk/go-inbox-backend/internal/domain"
)

// CreateMessage inserts a new message row.
func CreateMessage(db *gorm.DB, conversationID, senderID, content string) (*domain.Message, error) {
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// CreateMessageRead seeds a read receipt, typically the sender's own at
// append time. Duplicate receipts are silently ignored.
func CreateMessageRead(db *gorm.DB, messageID, userID string) error {
	r := &domain.MessageRead{
		MessageID: messageID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(r).Error
}

// MarkMessagesRead adds userID to the read-by set of every listed message and
// returns the ids that were newly marked. Messages already read by the user
// are skipped, so redundant calls are no-ops and the read-by set only grows.
func MarkMessagesRead(ctx context.Context, db *gorm.DB, messageIDs []string, userID string) ([]string, error) {
	if len(messageIDs) == 0 {
		return []string{}, nil
	}

	var already []string
	err := db.WithContext(ctx).
		Model(&domain.MessageRead{}).
		Where("user_id = ? AND message_id IN ?", userID, messageIDs).
		Pluck("message_id", &already).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(already))
	for _, id := range already {
		seen[id] = struct{}{}
	}

	now := time.Now().UTC()
	fresh := make([]domain.MessageRead, 0, len(messageIDs))
	freshIDs := make([]string, 0, len(messageIDs))
	for _, id := range messageIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{} // also de-dups the input slice
		fresh = append(fresh, domain.MessageRead{MessageID: id, UserID: userID, CreatedAt: now})
		freshIDs = append(freshIDs, id)
	}
	if len(fresh) == 0 {
		return []string{}, nil
	}

	// OnConflict DoNothing keeps the call idempotent even when a concurrent
	// marker slipped in between the pluck and the insert.
	err = db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&fresh).Error
	if err != nil {
		return nil, err
	}
	return freshIDs, nil
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
// The secondary id sort keeps ordering deterministic when store timestamps
// collide.
func ListMessagesPage(db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND deleted_at IS NULL", conversationID).Scan(&total).Error
	return total, err
}

// ListMessagesByID fetches the given messages in (CreatedAt, ID) order.
func ListMessagesByID(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Message, error) {
	if len(ids) == 0 {
		return []domain.Message{}, nil
	}
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ConversationUnread pairs a conversation with the calling user's unread
// message count in it.
type ConversationUnread struct {
	ConversationID string `json:"conversation_id"`
	Count          int64  `json:"count"`
}

// UnreadCountsByConversation computes, in a single grouped query, how many
// messages in each listed conversation were sent by someone else and not yet
// read by userID. Conversations with zero unread are absent from the result.
func UnreadCountsByConversation(ctx context.Context, db *gorm.DB, conversationIDs []string, userID string) ([]ConversationUnread, error) {
	if len(conversationIDs) == 0 {
		return []ConversationUnread{}, nil
	}
	var out []ConversationUnread
	err := db.WithContext(ctx).Raw(`
SELECT m.conversation_id AS conversation_id, COUNT(*) AS count
FROM messages m
WHERE m.conversation_id IN ?
  AND m.deleted_at IS NULL
  AND m.sender_id <> ?
  AND NOT EXISTS (
    SELECT 1 FROM message_reads r
    WHERE r.message_id = m.id AND r.user_id = ?
  )
GROUP BY m.conversation_id`,
		conversationIDs, userID, userID).
		Scan(&out).Error
	if out == nil {
		out = []ConversationUnread{}
	}
	return out, err
}

// TotalUnreadMessages is the scalar variant of UnreadCountsByConversation.
func TotalUnreadMessages(ctx context.Context, db *gorm.DB, conversationIDs []string, userID string) (int64, error) {
	if len(conversationIDs) == 0 {
		return 0, nil
	}
	var total int64
	err := db.WithContext(ctx).Raw(`
SELECT COUNT(*)
FROM messages m
WHERE m.conversation_id IN ?
  AND m.deleted_at IS NULL
  AND m.sender_id <> ?
  AND NOT EXISTS (
    SELECT 1 FROM message_reads r
    WHERE r.message_id = m.id AND r.user_id = ?
  )`,
		conversationIDs, userID, userID).
		Scan(&total).Error
	return total, err
}

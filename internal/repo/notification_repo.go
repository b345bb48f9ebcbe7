// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Notification model.
//
// All mutations are scoped to the owning user: a WHERE on user_id plus a
// RowsAffected check means "not yours" and "does not exist" are the same
// ErrNotFound, by design.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/permitdesk/go-inbox-backend/internal/domain"
)

// CreateNotification inserts a new unread notification for userID.
func CreateNotification(ctx context.Context, db *gorm.DB, userID, typ, title string) (*domain.Notification, error) {
	n := &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, err
	}
	return n, nil
}

// ListUnreadNotifications returns up to limit unread notifications for
// userID, most recent first. An empty slice is a valid result.
func ListUnreadNotifications(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	q := db.WithContext(ctx).
		Where("user_id = ? AND is_read = ?", userID, false).
		Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// MarkNotificationRead flips is_read for a notification owned by userID.
// Returns ErrNotFound when the row is missing or owned by someone else.
// Marking an already-read notification again succeeds (the update matches
// the row either way).
func MarkNotificationRead(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteNotification removes a notification owned by userID entirely.
// Returns ErrNotFound when the row is missing or owned by someone else.
func DeleteNotification(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.Notification{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountUnreadNotifications counts userID's unread notifications, excluding
// the "message" type: those mirror message inserts that the message-derived
// unread count already covers, and counting both would double the badge.
func CountUnreadNotifications(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND is_read = ? AND type <> ?", userID, false, domain.NotificationTypeMessage).
		Count(&total).Error
	return total, err
}

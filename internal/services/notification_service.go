// Package services – NotificationService
//
// This file implements NotificationService, which owns per-user discrete
// notifications. Titles are normalized and, when the caller provides none,
// derived from the notification type tag (e.g. "license_approved" becomes
// "License Approved"). New notifications are published on the event bus so
// badge aggregators pick them up without polling.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/permitdesk/go-inbox-backend/internal/bus"
	"github.com/permitdesk/go-inbox-backend/internal/domain"
	"github.com/permitdesk/go-inbox-backend/internal/repo"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NotificationService implements the use-cases around user notifications.
type NotificationService struct {
	DB     *gorm.DB
	Broker *bus.Broker

	// ListLimit bounds ListUnread results; 0 falls back to 50.
	ListLimit int
	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// TitleLocale controls casing of titles derived from type tags.
	TitleLocale language.Tag
}

// NewNotificationService constructs a NotificationService with sane defaults.
func NewNotificationService(db *gorm.DB, broker *bus.Broker) *NotificationService {
	return &NotificationService{
		DB:          db,
		Broker:      broker,
		ListLimit:   50,
		TitleMaxLen: 120,
		TitleLocale: language.English,
	}
}

// Notify creates an unread notification for userID and publishes it on the
// event bus. A blank title is derived from the type tag.
func (s *NotificationService) Notify(ctx context.Context, userID, typ, title string) (*domain.Notification, error) {
	typ = strings.TrimSpace(typ)
	title = normalizeWhitespace(title)
	if title == "" {
		title = s.titleFromType(typ)
	}
	title = s.clip(title)

	n, err := repo.CreateNotification(ctx, s.DB, userID, typ, title)
	if err != nil {
		return nil, err
	}
	if s.Broker != nil {
		s.Broker.Publish(bus.NotificationInserted{Notification: *n})
	}
	return n, nil
}

// ListUnread returns the user's unread notifications, most recent first,
// bounded by ListLimit.
func (s *NotificationService) ListUnread(ctx context.Context, userID string) ([]domain.Notification, error) {
	limit := s.ListLimit
	if limit <= 0 {
		limit = 50
	}
	return repo.ListUnreadNotifications(ctx, s.DB, userID, limit)
}

// MarkRead marks one of the user's own notifications as read. The unread ->
// read transition is one-way.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID, userID string) error {
	if err := repo.MarkNotificationRead(ctx, s.DB, notificationID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotificationNotFound
		}
		return err
	}
	return nil
}

// Delete removes one of the user's own notifications entirely, read or not.
func (s *NotificationService) Delete(ctx context.Context, notificationID, userID string) error {
	if err := repo.DeleteNotification(ctx, s.DB, notificationID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotificationNotFound
		}
		return err
	}
	return nil
}

// UnreadCount counts the user's unread notifications. Notifications of type
// "message" are excluded so message-derived unread counts stay the single
// source for the badge's message contribution.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return repo.CountUnreadNotifications(ctx, s.DB, userID)
}

// Stats returns the unread notification count and newest update timestamp
// for a user. Used by the HTTP layer for ETag generation.
func (s *NotificationService) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return repo.NotificationsStats(ctx, s.DB, userID)
}

// titleFromType turns a type tag like "expert_assigned" into a readable
// default title ("Expert Assigned"), cased for the configured locale.
func (s *NotificationService) titleFromType(typ string) string {
	if typ == "" {
		return "Notification"
	}
	words := tagSplitRE.Split(typ, -1)
	caser := cases.Title(s.localeOrDefault())
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		out = append(out, caser.String(w))
	}
	if len(out) == 0 {
		return "Notification"
	}
	return strings.Join(out, " ")
}

// clip truncates a title to the configured maximum rune length.
func (s *NotificationService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// localeOrDefault returns the configured locale for casing or English if unset.
func (s *NotificationService) localeOrDefault() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// normalizeWhitespace trims and collapses runs of whitespace to one space.
func normalizeWhitespace(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var (
	// whitespaceRE collapses consecutive whitespace to a single space.
	whitespaceRE = regexp.MustCompile(`\s+`)
	// tagSplitRE splits type tags on underscores, dashes, dots, and spaces.
	tagSplitRE = regexp.MustCompile(`[_\-.\s]+`)
)

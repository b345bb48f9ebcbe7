// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns the message log and its read tracking. It validates input, persists
// the message, the sender's implicit read receipt, and the conversation
// activity bump atomically, then publishes the insert on the event bus so
// subscribers (badge aggregators, websocket sessions) update without polling.
//
// Observability: the write paths are OpenTelemetry-instrumented; spans
// include conversation/user identifiers.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/permitdesk/go-inbox-backend/internal/bus"
	"github.com/permitdesk/go-inbox-backend/internal/domain"
	"github.com/permitdesk/go-inbox-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MessageService coordinates message persistence, read tracking, and unread
// aggregation for conversations.
type MessageService struct {
	DB     *gorm.DB
	Broker *bus.Broker

	// MaxContentRunes caps message content by rune length; 0 disables.
	MaxContentRunes int
}

// Append validates content, verifies the conversation, and persists the
// message, the sender's read receipt, and the last-activity bump in one
// transaction. The insert is then published on the event bus.
//
// Validation failures return their sentinel directly. Persistence failures
// are wrapped in *SendError carrying the drafted content so the caller can
// retry without retyping; the service itself never retries.
func (s *MessageService) Append(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", senderID),
		),
	)
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return nil, ErrTooLong
	}

	if _, err := repo.GetConversation(ctx, s.DB, conversationID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, &SendError{Draft: content, Err: err}
	}

	var msg *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.CreateMessage(tx, conversationID, senderID, content)
		if err != nil {
			return err
		}
		// Sender has trivially seen their own message.
		if err := repo.CreateMessageRead(tx, m.ID, senderID); err != nil {
			return err
		}
		if err := repo.TouchConversation(tx, conversationID, m.CreatedAt); err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, &SendError{Draft: content, Err: err}
	}

	if s.Broker != nil {
		s.Broker.Publish(bus.MessageInserted{Message: *msg})
	}
	return msg, nil
}

// MarkRead adds userID to the read-by set of the listed messages. Idempotent
// and commutative: re-marking already-read messages does no work, and the
// read-by set never shrinks. One MessageUpdated event is published per
// message that was newly marked.
func (s *MessageService) MarkRead(ctx context.Context, messageIDs []string, userID string) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("message_count", len(messageIDs)),
		),
	)
	defer span.End()

	fresh, err := repo.MarkMessagesRead(ctx, s.DB, messageIDs, userID)
	if err != nil {
		return err
	}
	if len(fresh) == 0 || s.Broker == nil {
		return nil
	}

	msgs, err := repo.ListMessagesByID(ctx, s.DB, fresh)
	if err != nil {
		// Receipts are committed; the update events are best-effort.
		return nil
	}
	for _, m := range msgs {
		s.Broker.Publish(bus.MessageUpdated{Message: m, ReaderID: userID})
	}
	return nil
}

// ListPage returns paginated messages for a conversation, ordered by
// created-at ascending with id as tiebreaker.
func (s *MessageService) ListPage(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetConversation(ctx, s.DB, conversationID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrConversationNotFound
		}
		return nil, 0, err
	}

	total, err := repo.CountMessages(s.DB.WithContext(ctx), conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(s.DB.WithContext(ctx), conversationID, offset, pageSize)
	return items, total, err
}

// UnreadCount returns how many messages in the conversation were sent by
// someone else and not yet read by userID.
func (s *MessageService) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	return repo.TotalUnreadMessages(ctx, s.DB, []string{conversationID}, userID)
}

// UnreadByConversation batches the unread computation over many
// conversations in one store-side query.
func (s *MessageService) UnreadByConversation(ctx context.Context, conversationIDs []string, userID string) ([]repo.ConversationUnread, error) {
	return repo.UnreadCountsByConversation(ctx, s.DB, conversationIDs, userID)
}

// TotalUnread returns the total unread message count for userID across the
// given conversations.
func (s *MessageService) TotalUnread(ctx context.Context, conversationIDs []string, userID string) (int64, error) {
	return repo.TotalUnreadMessages(ctx, s.DB, conversationIDs, userID)
}

// Stats returns the message count and newest update timestamp for a
// conversation. Used by the HTTP layer for ETag generation.
func (s *MessageService) Stats(ctx context.Context, conversationID string) (int64, *time.Time, error) {
	return repo.MessagesStats(ctx, s.DB, conversationID)
}

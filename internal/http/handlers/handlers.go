// Handler wiring and shared request helpers.
//
// Handlers are transport-thin: they validate input, call application
// services through the interfaces below, and translate results into HTTP
// responses. Identity comes from upstream auth middleware; in tests and demo
// setups the X-User-ID / X-User-Role headers stand in for it.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/permitdesk/go-inbox-backend/internal/badge"
	"github.com/permitdesk/go-inbox-backend/internal/domain"
	"github.com/permitdesk/go-inbox-backend/internal/realtime"
	"github.com/permitdesk/go-inbox-backend/internal/repo"
	"github.com/permitdesk/go-inbox-backend/internal/utils"
)

// ConversationService defines conversation registry operations consumed by
// HTTP handlers.
type ConversationService interface {
	// GetOrCreate resolves or lazily creates the conversation for an application.
	GetOrCreate(ctx context.Context, applicationID string) (*domain.Conversation, error)
	// Get fetches a conversation by id.
	Get(ctx context.Context, id string) (*domain.Conversation, error)
}

// MessageService defines message log and read-tracking operations.
type MessageService interface {
	// Append validates and persists a message, publishing the insert event.
	Append(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error)
	// MarkRead idempotently adds userID to the read-by set of the messages.
	MarkRead(ctx context.Context, messageIDs []string, userID string) error
	// ListPage returns a page of messages within a conversation and the total.
	ListPage(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
	// UnreadByConversation batches unread counts over many conversations.
	UnreadByConversation(ctx context.Context, conversationIDs []string, userID string) ([]repo.ConversationUnread, error)
	// Stats returns message count and newest update time for ETag generation.
	Stats(ctx context.Context, conversationID string) (int64, *time.Time, error)
}

// NotificationService defines per-user notification operations.
type NotificationService interface {
	// Notify creates an unread notification and publishes the insert event.
	Notify(ctx context.Context, userID, typ, title string) (*domain.Notification, error)
	// ListUnread returns the user's unread notifications, bounded.
	ListUnread(ctx context.Context, userID string) ([]domain.Notification, error)
	// MarkRead marks one of the user's notifications as read.
	MarkRead(ctx context.Context, notificationID, userID string) error
	// Delete removes one of the user's notifications entirely.
	Delete(ctx context.Context, notificationID, userID string) error
	// Stats returns unread count and newest update time for ETag generation.
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
}

// ScopeService resolves which conversations a user may observe.
type ScopeService interface {
	VisibleConversationIDs(ctx context.Context, userID, role string) ([]string, error)
}

// Handlers groups the HTTP endpoints for conversations, messages,
// notifications, the badge, and the websocket attach point.
type Handlers struct {
	convSvc  ConversationService
	msgSvc   MessageService
	notifSvc NotificationService
	scopeSvc ScopeService
	badges   *badge.Manager
	hub      *realtime.Hub
}

// New constructs a Handlers instance bound to the given services.
func New(convSvc ConversationService, msgSvc MessageService, notifSvc NotificationService, scopeSvc ScopeService, badges *badge.Manager, hub *realtime.Hub) *Handlers {
	return &Handlers{
		convSvc:  convSvc,
		msgSvc:   msgSvc,
		notifSvc: notifSvc,
		scopeSvc: scopeSvc,
		badges:   badges,
		hub:      hub,
	}
}

// userID extracts the authenticated user id from Gin context (set by
// upstream middleware), falling back to the X-User-ID header.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := c.GetHeader("X-User-ID"); h != "" {
			return h
		}
	}
	return ""
}

// userRole extracts the caller's role the same way. An empty role scopes to
// nothing, which read paths treat as a valid empty result.
func userRole(c *gin.Context) string {
	if v, ok := c.Get("userRole"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := c.GetHeader("X-User-Role"); h != "" {
			return h
		}
	}
	return ""
}

// canObserve reports whether the caller may observe the conversation.
// Admins observe everything; everyone else must find the id in their
// visible set. Handlers answer "no" with 404 so an out-of-scope id is
// indistinguishable from a missing one.
func (h *Handlers) canObserve(c *gin.Context, conversationID string) (bool, error) {
	role := userRole(c)
	if role == domain.RoleAdmin {
		return true, nil
	}
	ids, err := h.scopeSvc.VisibleConversationIDs(c.Request.Context(), userID(c), role)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == conversationID {
			return true, nil
		}
	}
	return false, nil
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

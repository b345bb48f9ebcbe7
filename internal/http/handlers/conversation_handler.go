// Conversation HTTP handlers.
//
// This file exposes REST endpoints for the conversation registry:
//   - POST /applications/{id}/conversation  (resolve or lazily create the thread)
//   - GET  /conversations                   (list visible conversations + unread counts)
//   - GET  /conversations/{id}              (fetch one conversation)
//
// Handlers are transport-thin: they validate inputs, delegate to the
// conversation and scope services, and map sentinel errors to HTTP statuses.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/permitdesk/go-inbox-backend/internal/domain"
	"github.com/permitdesk/go-inbox-backend/internal/services"
)

//
// DTOs
//

// ConversationResponse is the JSON envelope for a single conversation.
type ConversationResponse struct {
	Conversation *domain.Conversation `json:"conversation"`
}

// ConversationListItem pairs a conversation id with its unread count for the
// requesting user.
type ConversationListItem struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int64  `json:"unread_count"`
}

// ListConversationsResponse contains the caller's visible conversations.
type ListConversationsResponse struct {
	Conversations []ConversationListItem `json:"conversations"`
}

//
// Handlers
//

// ResolveConversation returns the conversation bound to an application,
// creating it when none exists yet. Concurrent resolution for the same
// application converges on one thread.
func (h *Handlers) ResolveConversation(c *gin.Context) {
	ctx := c.Request.Context()
	appID := c.Param("id")

	if _, err := uuid.Parse(appID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "application id must be a UUID")
		return
	}

	conv, err := h.convSvc.GetOrCreate(ctx, appID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrApplicationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "application not found")
		case errors.Is(err, services.ErrConflictUnresolved):
			fail(c, http.StatusConflict, ErrCodeConflict, "conversation creation raced and could not be resolved, retry")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, ConversationResponse{Conversation: conv})
}

// GetConversation fetches one conversation by id.
func (h *Handlers) GetConversation(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")

	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	if userID(c) == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing user identity")
		return
	}
	visible, err := h.canObserve(c, convID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if !visible {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return
	}

	conv, err := h.convSvc.Get(ctx, convID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, ConversationResponse{Conversation: conv})
}

// ListConversations returns the conversations the caller may observe, each
// with the caller's unread message count. An empty scope is a normal empty
// list, not an error.
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing user identity")
		return
	}

	ids, err := h.scopeSvc.VisibleConversationIDs(ctx, uid, userRole(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	items := make([]ConversationListItem, 0, len(ids))
	if len(ids) > 0 {
		unread, err := h.msgSvc.UnreadByConversation(ctx, ids, uid)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
			return
		}
		byConv := make(map[string]int64, len(unread))
		for _, u := range unread {
			byConv[u.ConversationID] = u.Count
		}
		for _, id := range ids {
			items = append(items, ConversationListItem{
				ConversationID: id,
				UnreadCount:    byConv[id],
			})
		}
	}

	ok(c, http.StatusOK, ListConversationsResponse{Conversations: items})
}

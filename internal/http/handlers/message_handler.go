// Message HTTP handlers.
//
// This file exposes REST endpoints for conversation messages:
//   - POST /conversations/{id}/messages  (append a message)
//   - GET  /conversations/{id}/messages  (list paginated messages, ETag support)
//   - POST /messages/read                (mark messages read for the caller)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including newline and length constraints)
//   - delegate to MessageService
//   - implement conditional responses (ETag) on the list path
//
// A failed send echoes the drafted content back in the error envelope so the
// client can offer a retry without the user retyping.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/permitdesk/go-inbox-backend/internal/domain"
	"github.com/permitdesk/go-inbox-backend/internal/services"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a message.
type PostMessageRequest struct {
	// Content is the message body. It must be non-empty after trimming.
	Content string `json:"content" binding:"required,min=1"`
}

// PostMessageResponse is the JSON envelope for a newly appended message.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse contains a page of messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// MarkReadRequest lists the message ids the caller has now seen.
type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required,min=1"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes message text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

//
// Handlers
//

// PostMessage appends a message to the conversation on behalf of the caller.
// The service validates length limits a second time; the handler only fails
// fast on obviously empty input.
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")

	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing user identity")
		return
	}

	visible, err := h.canObserve(c, convID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		return
	}
	if !visible {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	content := sanitizeContent(req.Content)
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	m, err := h.msgSvc.Append(ctx, convID, uid, content)
	if err != nil {
		var sendErr *services.SendError
		switch {
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		case errors.Is(err, services.ErrEmptyMessage):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		case errors.Is(err, services.ErrTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content too long")
		case errors.As(err, &sendErr):
			// Persistence failed; hand the draft back for a client-side retry.
			failDraft(c, http.StatusInternalServerError, ErrCodeSendFailed, "message could not be saved", sendErr.Draft)
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusCreated, PostMessageResponse{Message: m})
}

// ListMessages returns a paginated list of messages for the conversation.
// Supports weak ETag via If-None-Match and may return 304.
func (h *Handlers) ListMessages(c *gin.Context) {
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
	// Scope check comes before the ETag pre-check so out-of-scope callers
	// learn nothing about the thread, not even its change counter.
	visible, err := h.canObserve(c, convID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if !visible {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := h.msgSvc.Stats(ctx, convID); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, convID, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.msgSvc.ListPage(ctx, convID, page, pageSize)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// MarkMessagesRead records the caller as having read the listed messages.
// Idempotent: re-marking already-read messages succeeds and does nothing.
func (h *Handlers) MarkMessagesRead(c *gin.Context) {
	ctx := c.Request.Context()

	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing user identity")
		return
	}

	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message_ids required")
		return
	}
	for _, id := range req.MessageIDs {
		if _, err := uuid.Parse(id); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message ids must be UUIDs")
			return
		}
	}

	if err := h.msgSvc.MarkRead(ctx, req.MessageIDs, uid); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	noContent(c)
}

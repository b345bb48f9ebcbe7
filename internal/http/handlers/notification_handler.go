// Notification HTTP handlers.
//
// This file exposes REST endpoints for per-user notifications:
//   - GET    /notifications            (list unread, ETag support)
//   - POST   /notifications            (create one, internal/worker use)
//   - PUT    /notifications/{id}/read  (mark one read)
//   - DELETE /notifications/{id}       (delete one)
//
// All paths are scoped to the caller; a notification id belonging to another
// user behaves exactly like a missing one.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/permitdesk/go-inbox-backend/internal/domain"
	"github.com/permitdesk/go-inbox-backend/internal/services"
)

//
// DTOs
//

// PostNotificationRequest is the JSON payload for creating a notification.
type PostNotificationRequest struct {
	// UserID is the recipient. Empty means the caller notifies themselves.
	UserID string `json:"user_id"`
	// Type tags the notification (e.g. "expert_assigned").
	Type string `json:"type" binding:"required,min=1"`
	// Title is optional; when blank a title is derived from the type tag.
	Title string `json:"title"`
}

// NotificationResponse is the JSON envelope for a single notification.
type NotificationResponse struct {
	Notification *domain.Notification `json:"notification"`
}

// ListNotificationsResponse contains the caller's unread notifications.
type ListNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}

//
// Handlers
//

// ListNotifications returns the caller's unread notifications, most recent
// first. Supports weak ETag via If-None-Match and may return 304.
func (h *Handlers) ListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing user identity")
		return
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := h.notifSvc.Stats(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"notifications:%s:%d:%d"`, uid, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, err := h.notifSvc.ListUnread(ctx, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []domain.Notification{}
	}

	ok(c, http.StatusOK, ListNotificationsResponse{Notifications: items})
}

// PostNotification creates an unread notification. Exposed for internal
// callers (workflow workers, admin tooling) that raise notifications on
// behalf of the platform.
func (h *Handlers) PostNotification(c *gin.Context) {
	ctx := c.Request.Context()

	var req PostNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "type required")
		return
	}

	target := req.UserID
	if target == "" {
		target = userID(c)
	}
	if target == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing user identity")
		return
	}

	n, err := h.notifSvc.Notify(ctx, target, req.Type, req.Title)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	ok(c, http.StatusCreated, NotificationResponse{Notification: n})
}

// MarkNotificationRead marks one of the caller's notifications as read.
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	ctx := c.Request.Context()
	notifID := c.Param("id")

	if _, err := uuid.Parse(notifID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "notification id must be a UUID")
		return
	}

	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing user identity")
		return
	}

	if err := h.notifSvc.MarkRead(ctx, notifID, uid); err != nil {
		switch {
		case errors.Is(err, services.ErrNotificationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	noContent(c)
}

// DeleteNotification removes one of the caller's notifications, read or not.
func (h *Handlers) DeleteNotification(c *gin.Context) {
	ctx := c.Request.Context()
	notifID := c.Param("id")

	if _, err := uuid.Parse(notifID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "notification id must be a UUID")
		return
	}

	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing user identity")
		return
	}

	if err := h.notifSvc.Delete(ctx, notifID, uid); err != nil {
		switch {
		case errors.Is(err, services.ErrNotificationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	noContent(c)
}

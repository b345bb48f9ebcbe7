// Badge HTTP handler.
//
// GET /badge serves the caller's unread badge total. The value comes from the
// per-user aggregator session: fresh cache hits are served directly, stale
// ones trigger a synchronous recompute, and a recompute failure with a prior
// value falls back to that stale value rather than erroring.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BadgeResponse is the JSON envelope for the unread badge.
type BadgeResponse struct {
	Total int64 `json:"total"`
}

// GetBadge returns the caller's current badge total.
func (h *Handlers) GetBadge(c *gin.Context) {
	ctx := c.Request.Context()

	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing user identity")
		return
	}

	agg := h.badges.Acquire(ctx, uid, userRole(c))
	total, err := agg.Total(ctx)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeBadgeFailed, "badge temporarily unavailable")
		return
	}

	ok(c, http.StatusOK, BadgeResponse{Total: total})
}

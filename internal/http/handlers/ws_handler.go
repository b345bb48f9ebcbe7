// Websocket attach point.
//
// GET /ws upgrades the request and binds the connection to the caller's badge
// aggregator session. Every freshly computed badge total is pushed down the
// socket, and a reconnect forces a resubscribe-plus-recompute so events
// missed while offline cannot leave the badge under-counting.
//
// Inbound frames are limited to read receipts; everything else on the socket
// flows server to client.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/permitdesk/go-inbox-backend/internal/http/middleware"
	"github.com/permitdesk/go-inbox-backend/internal/realtime"
)

const (
	wsReadLimit = 32 * 1024
	wsPongWait  = 60 * time.Second
	wsKindRead  = "read"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS layer; the upgrader accepts what got
	// this far.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsInboundFrame is the only client-to-server payload: a read receipt.
type wsInboundFrame struct {
	Kind       string   `json:"kind"`
	MessageIDs []string `json:"message_ids"`
}

// ServeWS upgrades the connection and runs the realtime session until the
// client disconnects.
func (h *Handlers) ServeWS(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing user identity")
		return
	}
	role := userRole(c)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	conn := realtime.NewConn(uid, ws)
	h.hub.Attach(conn)
	defer h.hub.Detach(conn)

	// Bind the badge session to this socket. Acquire starts a fresh
	// aggregator with an initial recompute; on reconnect the existing one is
	// resubscribed so the gap since the last socket is covered.
	ctx := c.Request.Context()
	agg, fresh := h.badges.AcquireInfo(ctx, uid, role)
	agg.OnTotal(func(total int64) { h.hub.PushBadge(uid, total) })
	if !fresh {
		agg.Resubscribe(ctx)
	}

	ws.SetReadLimit(wsReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Receipts outlive the socket: the request context dies with the
	// connection, and a receipt racing a disconnect must still persist.
	rctx := context.WithoutCancel(c.Request.Context())

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			conn.Close(websocket.CloseNormalClosure, "client gone")
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))

		var frame wsInboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil || frame.Kind != wsKindRead {
			continue
		}
		if len(frame.MessageIDs) == 0 {
			continue
		}
		if err := h.msgSvc.MarkRead(rctx, frame.MessageIDs, uid); err != nil {
			lg := middleware.LoggerFrom(c)
			lg.Warn().Err(err).Str("user_id", uid).Msg("ws read receipt failed")
		}
	}
}

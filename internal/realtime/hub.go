package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// BadgeFrame is the JSON payload pushed when a user's badge total changes.
type BadgeFrame struct {
	Kind  string `json:"kind"` // always "badge"
	Total int64  `json:"total"`
}

// EventFrame is the JSON payload pushed for conversation/notification
// events the client renders live.
type EventFrame struct {
	Kind    string          `json:"kind"` // "message" | "notification"
	Payload json.RawMessage `json:"payload"`
}

// Hub tracks the single active websocket per user. A new connection for a
// user replaces (and closes) the previous one, so a stale tab cannot starve
// the fresh one of pushes.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]*Conn
	log    zerolog.Logger
}

// NewHub constructs an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		byUser: make(map[string]*Conn),
		log:    log,
	}
}

// Attach registers conn as the user's active connection and starts its write
// loop. Any previous connection for the same user is closed after the swap.
func (h *Hub) Attach(conn *Conn) {
	h.mu.Lock()
	previous := h.byUser[conn.UserID]
	h.byUser[conn.UserID] = conn
	h.mu.Unlock()

	conn.Start()

	if previous != nil {
		previous.Close(4001, "session replaced")
	}
}

// Detach removes conn if it is still the user's active connection. A
// connection that was already replaced is left alone.
func (h *Hub) Detach(conn *Conn) {
	h.mu.Lock()
	if current, ok := h.byUser[conn.UserID]; ok && current.ID == conn.ID {
		delete(h.byUser, conn.UserID)
	}
	h.mu.Unlock()
}

// PushBadge delivers a badge total to the user's active connection, if any.
func (h *Hub) PushBadge(userID string, total int64) {
	payload, err := json.Marshal(BadgeFrame{Kind: "badge", Total: total})
	if err != nil {
		return
	}
	h.push(userID, payload)
}

// PushEvent delivers an event frame to the user's active connection, if any.
func (h *Hub) PushEvent(userID, kind string, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		h.log.Warn().Err(err).Str("kind", kind).Msg("realtime: marshal event")
		return
	}
	payload, err := json.Marshal(EventFrame{Kind: kind, Payload: raw})
	if err != nil {
		return
	}
	h.push(userID, payload)
}

func (h *Hub) push(userID string, payload []byte) {
	h.mu.RLock()
	conn := h.byUser[userID]
	h.mu.RUnlock()
	if conn == nil {
		return
	}
	if err := conn.Send(payload); err != nil {
		h.log.Debug().Err(err).Str("user_id", userID).Msg("realtime: push dropped")
	}
}

// Close terminates all tracked connections.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.byUser))
	for _, c := range h.byUser {
		conns = append(conns, c)
	}
	h.byUser = make(map[string]*Conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(1001, "hub shutdown")
	}
}

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/permitdesk/go-inbox-backend/internal/badge"
	"github.com/permitdesk/go-inbox-backend/internal/bus"
	"github.com/permitdesk/go-inbox-backend/internal/domain"
	"github.com/permitdesk/go-inbox-backend/internal/realtime"
)

// wsFixture wires a real hub, broker, and badge manager behind a live server.
type wsFixture struct {
	*fixture
	url string
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		conv:   &stubConvSvc{},
		msg:    &stubMsgSvc{},
		notif:  &stubNotifSvc{},
		scope:  &stubScopeSvc{},
		src:    &stubBadgeSource{convs: []string{"c1"}},
		broker: bus.NewBroker(zerolog.Nop()),
	}
	t.Cleanup(f.broker.Close)

	badges := badge.NewManager(f.src, f.broker, badge.Config{
		TTL:      time.Minute,
		Debounce: 20 * time.Millisecond,
		Settle:   5 * time.Millisecond,
	}, zerolog.Nop())
	t.Cleanup(badges.Close)
	hub := realtime.NewHub(zerolog.Nop())
	t.Cleanup(hub.Close)

	h := New(f.conv, f.msg, f.notif, f.scope, badges, hub)
	r := gin.New()
	r.GET("/ws", h.ServeWS)
	f.router = r

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &wsFixture{fixture: f, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

func (f *wsFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("X-User-ID", userID)
	header.Set("X-User-Role", domain.RoleOwner)
	ws, _, err := websocket.DefaultDialer.Dial(f.url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func waitForCondition(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServeWS_RejectsAnonymous(t *testing.T) {
	f := newWSFixture(t)
	_, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err == nil {
		t.Fatalf("expected handshake failure without identity")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestServeWS_PushesBadgeOnBusEvents(t *testing.T) {
	f := newWSFixture(t)
	f.src.mu.Lock()
	f.src.msgs = 1
	f.src.mu.Unlock()

	ws := f.dial(t, "u1")

	// The session subscribes asynchronously with the handshake; wait for the
	// aggregator's subscription before publishing.
	waitForCondition(t, "session subscription", func() bool { return f.broker.SubscriberCount() == 1 })

	f.src.mu.Lock()
	f.src.msgs = 2
	f.src.mu.Unlock()
	f.broker.Publish(bus.MessageInserted{Message: domain.Message{
		ID: uuid.NewString(), ConversationID: "c1", SenderID: "someone-else",
	}})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read push: %v", err)
	}
	var frame realtime.BadgeFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Kind != "badge" || frame.Total != 2 {
		t.Fatalf("frame=%+v", frame)
	}
}

func TestServeWS_ReadReceiptFrames(t *testing.T) {
	f := newWSFixture(t)
	ws := f.dial(t, "u1")

	id := uuid.NewString()
	if err := ws.WriteJSON(map[string]any{"kind": "read", "message_ids": []string{id}}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		ids, user := f.msg.marked()
		if len(ids) == 1 && ids[0] == id && user == "u1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("read receipt never reached the message service: ids=%v user=%q", ids, user)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The receipt context must not be tied to the upgrade request, whose
	// cancellation races the disconnect.
	if f.msg.markWasCancelable() {
		t.Fatalf("read receipt carried a cancelable request context")
	}

	// Unknown kinds and junk frames are ignored without killing the session.
	if err := ws.WriteJSON(map[string]any{"kind": "typing"}); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	if err := ws.WriteJSON(map[string]any{"kind": "read", "message_ids": []string{uuid.NewString()}}); err != nil {
		t.Fatalf("session should still accept frames: %v", err)
	}
}

func TestServeWS_ReconnectReplacesSession(t *testing.T) {
	f := newWSFixture(t)

	first := f.dial(t, "u1")

	// Bump the count while offline from the bus's point of view, then
	// reconnect: the resubscribe recompute must pick it up without any event.
	f.src.mu.Lock()
	f.src.msgs = 3
	f.src.mu.Unlock()
	second := f.dial(t, "u1")

	// The first socket is closed with the replacement code.
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	if !websocket.IsCloseError(err, 4001) {
		t.Fatalf("expected close 4001 on replaced session, got %v", err)
	}

	// The resubscribe pushes the recomputed total to the fresh socket.
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, payload, err := second.ReadMessage()
		if err != nil {
			t.Fatalf("read push on fresh socket: %v", err)
		}
		var frame realtime.BadgeFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if frame.Total == 3 {
			return
		}
	}
}

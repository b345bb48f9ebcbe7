package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/permitdesk/go-inbox-backend/internal/domain"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsPair upgrades server-side connections and hands them out on a channel,
// returning a dialer bound to the test server.
func wsPair(t *testing.T) (dial func() *websocket.Conn, serverConns <-chan *websocket.Conn) {
	t.Helper()

	conns := make(chan *websocket.Conn, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		conns <- ws
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return func() *websocket.Conn {
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { _ = ws.Close() })
		return ws
	}, conns
}

func readFrame(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return payload
}

func TestHub_PushBadgeDeliversFrame(t *testing.T) {
	dial, serverConns := wsPair(t)
	hub := NewHub(zerolog.Nop())
	defer hub.Close()

	client := dial()
	conn := NewConn("u1", <-serverConns)
	hub.Attach(conn)
	defer hub.Detach(conn)

	hub.PushBadge("u1", 7)

	var frame BadgeFrame
	if err := json.Unmarshal(readFrame(t, client), &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Kind != "badge" || frame.Total != 7 {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	// A push for an unknown user goes nowhere and does not panic.
	hub.PushBadge("ghost", 1)
}

func TestHub_PushEventWrapsPayload(t *testing.T) {
	dial, serverConns := wsPair(t)
	hub := NewHub(zerolog.Nop())
	defer hub.Close()

	client := dial()
	conn := NewConn("u1", <-serverConns)
	hub.Attach(conn)
	defer hub.Detach(conn)

	hub.PushEvent("u1", "notification", domain.Notification{ID: "n1", UserID: "u1", Type: "deadline"})

	var frame EventFrame
	if err := json.Unmarshal(readFrame(t, client), &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Kind != "notification" {
		t.Fatalf("kind=%q", frame.Kind)
	}
	var n domain.Notification
	if err := json.Unmarshal(frame.Payload, &n); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if n.ID != "n1" {
		t.Fatalf("payload=%+v", n)
	}
}

func TestHub_AttachReplacesPreviousSession(t *testing.T) {
	dial, serverConns := wsPair(t)
	hub := NewHub(zerolog.Nop())
	defer hub.Close()

	oldClient := dial()
	oldConn := NewConn("u1", <-serverConns)
	hub.Attach(oldConn)

	newClient := dial()
	newConn := NewConn("u1", <-serverConns)
	hub.Attach(newConn)

	// The replaced session is closed with the dedicated code.
	_ = oldClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := oldClient.ReadMessage()
	var closeErr *websocket.CloseError
	if !websocket.IsCloseError(err, 4001) {
		t.Fatalf("expected close 4001 on old session, got %v (%T %v)", err, err, closeErr)
	}

	// Pushes land on the fresh session.
	hub.PushBadge("u1", 3)
	var frame BadgeFrame
	if err := json.Unmarshal(readFrame(t, newClient), &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Total != 3 {
		t.Fatalf("frame=%+v", frame)
	}

	// Detaching the stale connection must not evict the fresh one.
	hub.Detach(oldConn)
	hub.PushBadge("u1", 4)
	if err := json.Unmarshal(readFrame(t, newClient), &frame); err != nil {
		t.Fatalf("decode after stale detach: %v", err)
	}
	if frame.Total != 4 {
		t.Fatalf("frame=%+v", frame)
	}

	hub.Detach(newConn)
	newConn.Close(websocket.CloseNormalClosure, "done")
}

func TestHub_CloseTerminatesConnections(t *testing.T) {
	dial, serverConns := wsPair(t)
	hub := NewHub(zerolog.Nop())

	client := dial()
	conn := NewConn("u1", <-serverConns)
	hub.Attach(conn)

	hub.Close()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}

	if err := conn.Send([]byte("late")); err == nil {
		t.Fatalf("send on a closed connection must fail")
	}
}

func TestConn_SendAfterCloseFails(t *testing.T) {
	dial, serverConns := wsPair(t)
	_ = dial()
	conn := NewConn("u1", <-serverConns)
	conn.Start()

	conn.Close(websocket.CloseNormalClosure, "bye")
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatalf("Done not closed")
	}
	if err := conn.Send([]byte("x")); err == nil {
		t.Fatalf("expected error after close")
	}
	conn.Close(websocket.CloseNormalClosure, "again") // idempotent
}

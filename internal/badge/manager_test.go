package badge

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/permitdesk/go-inbox-backend/internal/bus"
	"github.com/permitdesk/go-inbox-backend/internal/domain"
)

func newTestManager(src Source) (*Manager, *bus.Broker) {
	broker := bus.NewBroker(zerolog.Nop())
	return NewManager(src, broker, fastConfig(), zerolog.Nop()), broker
}

func TestManager_AcquireReusesSession(t *testing.T) {
	src := &fakeSource{convs: []string{"c1"}, msgUnread: 1}
	m, broker := newTestManager(src)
	defer broker.Close()
	defer m.Close()

	a1, fresh1 := m.AcquireInfo(context.Background(), "u1", "owner")
	if !fresh1 {
		t.Fatalf("first acquisition must be fresh")
	}
	// Start already ran its resync recompute.
	if src.recomputes() != 1 {
		t.Fatalf("expected 1 recompute after first acquire, got %d", src.recomputes())
	}

	a2, fresh2 := m.AcquireInfo(context.Background(), "u1", "owner")
	if fresh2 {
		t.Fatalf("second acquisition must reuse the session")
	}
	if a1 != a2 {
		t.Fatalf("expected the same aggregator instance")
	}

	// A different user gets their own session.
	b, freshB := m.AcquireInfo(context.Background(), "u2", "expert")
	if !freshB || b == a1 {
		t.Fatalf("expected a distinct fresh session for u2")
	}
}

func TestManager_ReleaseTearsDown(t *testing.T) {
	src := &fakeSource{convs: []string{"c1"}}
	m, broker := newTestManager(src)
	defer broker.Close()
	defer m.Close()

	a := m.Acquire(context.Background(), "u1", "owner")
	m.Release("u1")

	// Events after release no longer reach the torn-down session.
	base := src.recomputes()
	broker.Publish(bus.MessageInserted{Message: domain.Message{ConversationID: "c1", SenderID: "other"}})
	time.Sleep(80 * time.Millisecond)
	if src.recomputes() != base {
		t.Fatalf("released aggregator still recomputing")
	}

	// Re-acquiring builds a fresh session, not the closed one.
	b, fresh := m.AcquireInfo(context.Background(), "u1", "owner")
	if !fresh || b == a {
		t.Fatalf("expected a new session after release")
	}

	m.Release("unknown-user") // no-op
}

func TestManager_CloseHandsOutDeadAggregators(t *testing.T) {
	src := &fakeSource{convs: []string{"c1"}, msgUnread: 9}
	m, broker := newTestManager(src)
	defer broker.Close()

	m.Acquire(context.Background(), "u1", "owner")
	m.Close()

	a, fresh := m.AcquireInfo(context.Background(), "u2", "owner")
	if fresh {
		t.Fatalf("closed manager must not report fresh sessions")
	}
	// The handed-out aggregator is pre-closed: it serves without subscribing.
	if total, err := a.Total(context.Background()); err != nil || total != 0 {
		t.Fatalf("post-close total=%d err=%v", total, err)
	}

	m.Close() // idempotent
}

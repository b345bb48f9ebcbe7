// Session registry for badge aggregators.
//
// HTTP requests are stateless but the aggregator is stateful, so the manager
// keeps one live aggregator per user in this process and hands it out to the
// badge endpoint and the websocket session. The aggregator is started on
// first acquisition and torn down with the manager (or explicitly when the
// user's last session ends).
package badge

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/permitdesk/go-inbox-backend/internal/bus"
)

// Manager owns the per-user aggregator sessions of this process.
type Manager struct {
	src    Source
	broker *bus.Broker
	cfg    Config
	log    zerolog.Logger

	mu     sync.Mutex
	byUser map[string]*Aggregator
	closed bool
}

// NewManager constructs an empty Manager.
func NewManager(src Source, broker *bus.Broker, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		src:    src,
		broker: broker,
		cfg:    cfg,
		log:    log,
		byUser: make(map[string]*Aggregator),
	}
}

// Acquire returns the live aggregator for userID, creating and starting one
// when absent. The role is fixed at first acquisition; role changes take
// effect on the next fresh session.
func (m *Manager) Acquire(ctx context.Context, userID, role string) *Aggregator {
	a, _ := m.AcquireInfo(ctx, userID, role)
	return a
}

// AcquireInfo is Acquire plus a flag reporting whether the aggregator was
// created by this call. Callers binding a reconnected session use the flag to
// decide between a fresh start and a resubscribe.
func (m *Manager) AcquireInfo(ctx context.Context, userID, role string) (*Aggregator, bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		a := New(userID, role, m.src, m.broker, m.cfg, m.log)
		a.Close()
		return a, false
	}
	if a, ok := m.byUser[userID]; ok {
		m.mu.Unlock()
		return a, false
	}
	a := New(userID, role, m.src, m.broker, m.cfg, m.log)
	m.byUser[userID] = a
	m.mu.Unlock()

	a.Start(ctx)
	return a, true
}

// Release tears down the user's aggregator, if any. Called when the user's
// websocket session ends and no other consumer needs the badge warm.
func (m *Manager) Release(userID string) {
	m.mu.Lock()
	a, ok := m.byUser[userID]
	delete(m.byUser, userID)
	m.mu.Unlock()
	if ok {
		a.Close()
	}
}

// Close tears down every aggregator. Used on process shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	all := m.byUser
	m.byUser = make(map[string]*Aggregator)
	m.mu.Unlock()

	for _, a := range all {
		a.Close()
	}
}

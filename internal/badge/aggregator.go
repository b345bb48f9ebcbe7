// Package badge maintains the per-user unread badge: a cached total of
// unread messages across every conversation the user can see, plus their
// unread notifications.
//
// The total is expensive to compute and cheap to serve, so each user session
// owns one Aggregator that caches the value with a TTL, recomputes on demand
// when stale, and otherwise refreshes in the background driven by the event
// bus. Bursts of events collapse into a single recompute through a
// trailing-edge debounce timer, and the recompute waits a further settle
// delay before querying because the write that raised the event may not be
// readable yet. A recompute that fails keeps the previous value on screen;
// a badge that silently resets to zero is worse than a stale one.
//
// Lifecycle: Idle -> (event) -> Debouncing -> (timer + settle) ->
// Recomputing -> Idle, with a terminal Closed that cancels the timer and
// the bus subscription.
package badge

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/permitdesk/go-inbox-backend/internal/bus"
	"github.com/permitdesk/go-inbox-backend/internal/domain"
)

var (
	recomputes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "badge_recomputes_total",
			Help: "Total number of badge recomputations by trigger.",
		},
		[]string{"trigger"},
	)
	recomputeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "badge_recompute_failures_total",
			Help: "Badge recomputations that failed and served a stale value.",
		},
	)
)

func init() {
	prometheus.MustRegister(recomputes, recomputeFailures)
}

// state is the aggregator's position in its refresh lifecycle.
type state int

const (
	stateIdle state = iota
	stateDebouncing
	stateRecomputing
	stateClosed
)

// Source is the read side the aggregator computes from. Implementations are
// the scope/message/notification services; the aggregator never mutates
// anything through it.
type Source interface {
	// VisibleConversationIDs resolves the user's conversation scope.
	VisibleConversationIDs(ctx context.Context, userID, role string) ([]string, error)

	// TotalUnreadMessages counts unread messages across the conversations.
	TotalUnreadMessages(ctx context.Context, conversationIDs []string, userID string) (int64, error)

	// UnreadNotifications counts the user's unread notifications, already
	// filtered for message-mirror types.
	UnreadNotifications(ctx context.Context, userID string) (int64, error)
}

// Config carries the aggregator timing knobs. All three are store-dependent
// tunables, not constants: the settle delay in particular exists only to
// outlast the backing store's read-after-write lag.
type Config struct {
	// TTL is how long a computed total is served without recomputation.
	TTL time.Duration
	// Debounce is the trailing-edge quiet window after a qualifying event.
	Debounce time.Duration
	// Settle is the extra wait between the debounce firing and the queries.
	Settle time.Duration
	// RecomputeTimeout bounds a single recompute; an unresponsive store is
	// treated as a transient failure, not something to hang on.
	RecomputeTimeout time.Duration
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.Debounce <= 0 {
		c.Debounce = 300 * time.Millisecond
	}
	if c.Settle < 0 {
		c.Settle = 0
	}
	if c.RecomputeTimeout <= 0 {
		c.RecomputeTimeout = 10 * time.Second
	}
	return c
}

// Aggregator owns one user session's badge state. All exported methods are
// safe for concurrent use. The cache is private to the session; two sessions
// for the same user recompute independently.
type Aggregator struct {
	userID string
	role   string
	src    Source
	broker *bus.Broker
	cfg    Config
	log    zerolog.Logger

	// onTotal, when set, receives every freshly computed total. Used to push
	// badge updates over the user's websocket.
	onTotal func(total int64)

	mu      sync.Mutex
	st      state
	cached  int64
	hasVal  bool
	freshAt time.Time
	timer   *time.Timer
	sub     *bus.Subscription
	scope   map[string]struct{} // visible conversation ids as of last recompute
	done    chan struct{}
}

// New constructs an Aggregator for one user session. Call Start to subscribe
// and begin background refreshing, and Close on session teardown.
func New(userID, role string, src Source, broker *bus.Broker, cfg Config, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		userID: userID,
		role:   role,
		src:    src,
		broker: broker,
		cfg:    cfg.withDefaults(),
		log:    log.With().Str("user_id", userID).Str("role", role).Logger(),
		st:     stateIdle,
		scope:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// OnTotal registers a push hook invoked with every freshly computed total.
// Safe to call at any point in the session; replaces any previous hook.
func (a *Aggregator) OnTotal(fn func(total int64)) {
	a.mu.Lock()
	a.onTotal = fn
	a.mu.Unlock()
}

// Start subscribes to the event bus and forces one unconditional recompute.
// The forced recompute is not an optimization: subscribing does not replay
// events missed while unsubscribed, so without it a badge could under-count
// forever after a network blip.
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	if a.st == stateClosed {
		a.mu.Unlock()
		return
	}
	sub := a.broker.Subscribe(a.wants)
	a.sub = sub
	a.mu.Unlock()

	go a.consume(sub)
	a.recompute(ctx, "resync")
}

// Resubscribe drops the current subscription, establishes a fresh one, and
// forces a recompute to cover the gap. Called when the client reconnects.
func (a *Aggregator) Resubscribe(ctx context.Context) {
	a.mu.Lock()
	if a.st == stateClosed {
		a.mu.Unlock()
		return
	}
	old := a.sub
	sub := a.broker.Subscribe(a.wants)
	a.sub = sub
	a.mu.Unlock()

	if old != nil {
		a.broker.Unsubscribe(old)
	}
	go a.consume(sub)
	a.recompute(ctx, "resync")
}

// Total serves the badge. A fresh cached value is returned as-is; a stale or
// missing one triggers a synchronous recompute. When the recompute fails but
// a previous value exists, the stale value is returned with a nil error.
func (a *Aggregator) Total(ctx context.Context) (int64, error) {
	a.mu.Lock()
	if a.st == stateClosed {
		cached := a.cached
		a.mu.Unlock()
		return cached, nil
	}
	if a.hasVal && time.Since(a.freshAt) <= a.cfg.TTL {
		cached := a.cached
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	total, err := a.recompute(ctx, "demand")
	if err != nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.hasVal {
			return a.cached, nil
		}
		return 0, err
	}
	return total, nil
}

// Close transitions to the terminal state: the debounce timer is cancelled,
// the subscription is torn down, and any in-flight settle wait is aborted so
// an orphaned timer can never write into a destroyed session.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.st == stateClosed {
		a.mu.Unlock()
		return
	}
	a.st = stateClosed
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	sub := a.sub
	a.sub = nil
	close(a.done)
	a.mu.Unlock()

	if sub != nil {
		a.broker.Unsubscribe(sub)
	}
}

// wants is the subscription filter: message events in the user's visible
// conversations (skipping the user's own sends) and non-mirror notifications
// addressed to the user. Admins accept every conversation because their
// scope is the whole platform.
//
// The scope map is the snapshot taken by the last recompute, so a message in
// a conversation created since then is filtered here and only counted once
// the cached total expires (TTL) and the next acquire re-scopes. That bounds
// the staleness of a brand-new thread's first message to one TTL.
func (a *Aggregator) wants(ev bus.Event) bool {
	switch e := ev.(type) {
	case bus.MessageInserted:
		if e.Message.SenderID == a.userID {
			return false
		}
		return a.inScope(e.Message.ConversationID)
	case bus.MessageUpdated:
		return a.inScope(e.Message.ConversationID)
	case bus.NotificationInserted:
		if e.Notification.UserID != a.userID {
			return false
		}
		// Message-mirror notifications never change the total.
		return e.Notification.Type != domain.NotificationTypeMessage
	default:
		return false
	}
}

func (a *Aggregator) inScope(conversationID string) bool {
	if a.role == domain.RoleAdmin {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.scope[conversationID]
	return ok
}

// consume drains the subscription feed until it closes, bumping the
// debounce timer for each delivered event.
func (a *Aggregator) consume(sub *bus.Subscription) {
	for range sub.Events() {
		a.bump()
	}
}

// bump arms (or re-arms) the trailing-edge debounce timer. There is exactly
// one timer per session; a new event while debouncing pushes the deadline
// out instead of stacking a second recompute.
func (a *Aggregator) bump() {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.st {
	case stateClosed:
		return
	case stateDebouncing:
		a.timer.Reset(a.cfg.Debounce)
		return
	default:
		a.st = stateDebouncing
		if a.timer != nil {
			a.timer.Stop()
		}
		a.timer = time.AfterFunc(a.cfg.Debounce, a.fire)
	}
}

// fire runs when the debounce window elapses with no further events. It
// waits out the settle delay, then recomputes.
func (a *Aggregator) fire() {
	a.mu.Lock()
	if a.st == stateClosed {
		a.mu.Unlock()
		return
	}
	a.st = stateRecomputing
	a.timer = nil
	a.mu.Unlock()

	// The triggering write may not be readable yet; give the store time.
	if a.cfg.Settle > 0 {
		select {
		case <-time.After(a.cfg.Settle):
		case <-a.done:
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RecomputeTimeout)
	defer cancel()
	_, _ = a.recompute(ctx, "event")
}

// recompute performs the full aggregation: scope -> unread messages ->
// unread notifications. On success the cache, freshness stamp, and scope set
// are replaced and the push hook runs. On failure the previous value stays.
func (a *Aggregator) recompute(ctx context.Context, trigger string) (int64, error) {
	recomputes.WithLabelValues(trigger).Inc()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.RecomputeTimeout)
	defer cancel()

	convIDs, err := a.src.VisibleConversationIDs(ctx, a.userID, a.role)
	if err != nil {
		return a.fail(trigger, err)
	}

	var msgUnread int64
	if len(convIDs) > 0 {
		msgUnread, err = a.src.TotalUnreadMessages(ctx, convIDs, a.userID)
		if err != nil {
			return a.fail(trigger, err)
		}
	}

	notifUnread, err := a.src.UnreadNotifications(ctx, a.userID)
	if err != nil {
		return a.fail(trigger, err)
	}

	total := msgUnread + notifUnread

	a.mu.Lock()
	if a.st == stateClosed {
		a.mu.Unlock()
		return total, nil
	}
	a.cached = total
	a.hasVal = true
	a.freshAt = time.Now()
	scope := make(map[string]struct{}, len(convIDs))
	for _, id := range convIDs {
		scope[id] = struct{}{}
	}
	a.scope = scope
	if a.st == stateRecomputing {
		a.st = stateIdle
	}
	push := a.onTotal
	a.mu.Unlock()

	if push != nil {
		push(total)
	}
	return total, nil
}

// fail records a recompute failure and leaves the cached value untouched.
func (a *Aggregator) fail(trigger string, err error) (int64, error) {
	recomputeFailures.Inc()
	a.log.Warn().Err(err).Str("trigger", trigger).Msg("badge recompute failed, keeping stale value")

	a.mu.Lock()
	if a.st == stateRecomputing {
		a.st = stateIdle
	}
	cached := a.cached
	a.mu.Unlock()
	return cached, err
}

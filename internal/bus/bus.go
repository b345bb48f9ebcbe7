// Package bus provides the realtime change feed the badge aggregator and the
// websocket layer consume. Repositories stay silent; the service layer
// publishes one event per committed row change, and consumers subscribe with
// a filter.
//
// Delivery contract (what consumers may assume, and nothing more):
//   - at-least-once per live subscriber,
//   - possibly out of causal order relative to local optimistic writes,
//   - gapped across a dropped subscription (missed events are never replayed;
//     consumers must resync on resubscribe).
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/permitdesk/go-inbox-backend/internal/domain"
)

// Event is the closed set of row-level changes carried by the broker.
// Consumers dispatch with a type switch over the three concrete variants;
// there is no generic "table + op" payload to sniff.
type Event interface{ isEvent() }

// MessageInserted signals a new message row in a conversation.
type MessageInserted struct {
	Message domain.Message
}

// MessageUpdated signals a change to a message's read-by set.
type MessageUpdated struct {
	Message  domain.Message
	ReaderID string
}

// NotificationInserted signals a new notification row for a user.
type NotificationInserted struct {
	Notification domain.Notification
}

func (MessageInserted) isEvent()      {}
func (MessageUpdated) isEvent()       {}
func (NotificationInserted) isEvent() {}

// Filter decides whether a subscription wants an event. A nil filter
// receives everything.
type Filter func(Event) bool

// subscriberBuffer bounds the per-subscription channel. A consumer that
// falls this far behind loses events, which the delivery contract allows;
// it will reconcile on its next resync.
const subscriberBuffer = 64

// Subscription is a live event feed handed out by Subscribe. Consumers range
// over Events() and must return the subscription via Broker.Unsubscribe when
// done; the channel is closed at that point.
type Subscription struct {
	id     string
	events chan Event
	filter Filter

	once sync.Once
}

// Events returns the receive side of the subscription feed.
func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.events) })
}

// Broker is a process-local fan-out of row change events. It is safe for
// concurrent use. Publish never blocks on a slow subscriber.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
	log  zerolog.Logger

	dropped atomic.Uint64
}

// NewBroker constructs an empty Broker logging through log.
func NewBroker(log zerolog.Logger) *Broker {
	return &Broker{
		subs: make(map[string]*Subscription),
		log:  log,
	}
}

// Subscribe registers a new subscription with the given filter (nil matches
// all events). The returned subscription is live immediately.
func (b *Broker) Subscribe(f Filter) *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		events: make(chan Event, subscriberBuffer),
		filter: f,
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscription and closes its event channel. Calling
// it twice, or with a subscription from another broker, is harmless.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish delivers ev to every subscription whose filter accepts it. A full
// subscriber buffer drops the event for that subscriber only.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			b.dropped.Add(1)
			b.log.Warn().
				Str("subscription_id", sub.id).
				Msg("bus: subscriber buffer full, event dropped")
		}
	}
}

// Close tears down every live subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many events were discarded because a subscriber
// buffer was full.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }

// Package timeline reconciles a conversation's display order between two
// message sources that disagree about timing: the local optimistic insert
// (shown immediately on send) and the authoritative event stream (which may
// deliver the same message later, earlier, or twice). The invariant is that
// the final list contains each message id exactly once, ordered by
// created-at ascending with id as tiebreaker — arrival order is never
// trusted.
package timeline

import (
	"sort"
	"sync"

	"github.com/permitdesk/go-inbox-backend/internal/domain"
)

// Timeline is a de-duplicating, re-sorting buffer of one conversation's
// messages. Safe for concurrent use.
type Timeline struct {
	mu      sync.Mutex
	byID    map[string]domain.Message
	pending map[string]struct{} // optimistic inserts not yet confirmed
}

// New constructs an empty Timeline.
func New() *Timeline {
	return &Timeline{
		byID:    make(map[string]domain.Message),
		pending: make(map[string]struct{}),
	}
}

// AppendPending records an optimistic local insert: the message is shown
// immediately and flagged until the event stream confirms it.
func (t *Timeline) AppendPending(m domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[m.ID]; !ok {
		t.pending[m.ID] = struct{}{}
	}
	t.byID[m.ID] = m
}

// Apply upserts a confirmed message from the event stream. A confirmation of
// a pending optimistic insert replaces it (the store's timestamps win) and
// clears the pending flag; a duplicate delivery is absorbed by the upsert.
func (t *Timeline) Apply(m domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[m.ID] = m
	delete(t.pending, m.ID)
}

// Messages returns the current contents ordered by created-at ascending,
// id ascending.
func (t *Timeline) Messages() []domain.Message {
	t.mu.Lock()
	out := make([]domain.Message, 0, len(t.byID))
	for _, m := range t.byID {
		out = append(out, m)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len reports how many distinct messages the timeline holds.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// PendingCount reports how many optimistic inserts still await confirmation.
func (t *Timeline) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Reset drops all buffered state, e.g. when the client reloads the
// conversation from the store after a reconnect.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID = make(map[string]domain.Message)
	t.pending = make(map[string]struct{})
}

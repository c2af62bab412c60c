package notifications

import (
	"sync"

	"estatecrm/internal/types"
)

// Hub is an in-process publish/subscribe fan-out keyed by recipient id.
// The API server uses it to stream freshly created notifications to
// connected clients without a broker round-trip.
//
// Publish never blocks: a subscriber whose buffer is full misses the event
// and catches up from the list endpoint. Realtime delivery is advisory; the
// store is the source of truth.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// Subscription is one recipient's realtime feed.
type Subscription struct {
	recipientID string
	ch          chan *types.Notification
}

// C is the channel notifications arrive on. Closed on Unsubscribe.
func (s *Subscription) C() <-chan *types.Notification { return s.ch }

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a feed for the recipient. The returned subscription
// must be released with Unsubscribe.
func (h *Hub) Subscribe(recipientID string) *Subscription {
	sub := &Subscription{
		recipientID: recipientID,
		ch:          make(chan *types.Notification, 16),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[recipientID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[recipientID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.recipientID]
	if !ok {
		return
	}
	if _, member := set[sub]; !member {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.recipientID)
	}
	close(sub.ch)
}

// Publish delivers n to every live subscription for its recipient.
func (h *Hub) Publish(n *types.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[n.RecipientID] {
		select {
		case sub.ch <- n:
		default:
			// Slow consumer; drop rather than stall the publisher.
		}
	}
}

var _ Pusher = (*Hub)(nil)

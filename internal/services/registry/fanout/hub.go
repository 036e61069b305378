// Package fanout broadcasts committed gift-state changes to wishlist
// subscribers.
package fanout

import (
	"sync"
	"sync/atomic"

	"github.com/perennial-labs/giftsync/internal/services/registry/domain/gift"
)

// Event kinds carried on the wire and in subscriber buffers.
const (
	KindGiftReserved    = "gift.reserved"
	KindGiftReleased    = "gift.released"
	KindGiftContributed = "gift.contributed"
)

const defaultSubscriberBuffer = 16

// Event is one committed state change. Seq is stamped by the hub per
// wishlist and is monotone for the lifetime of the wishlist's channel.
type Event struct {
	Seq         int64       `json:"seq"`
	Kind        string      `json:"kind"`
	WishlistID  string      `json:"wishlist_id"`
	ItemID      string      `json:"item_id"`
	Status      gift.Status `json:"status"`
	Claimant    string      `json:"claimant,omitempty"`
	Contributor string      `json:"contributor,omitempty"`
	Amount      int64       `json:"amount,omitempty"`
	NewTotal    int64       `json:"new_total"`
}

// Subscriber receives the events of one wishlist through a bounded buffer.
// A subscriber that falls behind loses events rather than slowing the
// publisher or its peers.
type Subscriber struct {
	wishlistID string
	events     chan Event
	stopped    atomic.Bool
	dropped    atomic.Int64
}

// Events returns the receive side of the subscriber buffer. The channel is
// closed by Unsubscribe.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// WishlistID returns the wishlist this subscriber watches.
func (s *Subscriber) WishlistID() string {
	return s.wishlistID
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// Hub is the per-wishlist channel registry. Channels are created on first
// subscribe and destroyed when the last subscriber leaves.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*wishlistChannel
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]*wishlistChannel)}
}

// Subscribe registers a new subscriber for a wishlist. buffer <= 0 selects
// the default buffer size. The subscriber only receives events published
// after this call returns.
func (h *Hub) Subscribe(wishlistID string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	subscriber := &Subscriber{
		wishlistID: wishlistID,
		events:     make(chan Event, buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	channel, ok := h.channels[wishlistID]
	if !ok {
		channel = newWishlistChannel(wishlistID)
		h.channels[wishlistID] = channel
	}
	channel.join(subscriber)
	return subscriber
}

// Unsubscribe removes the subscriber and closes its event channel. The
// subscriber never receives an event published after Unsubscribe returns.
// Safe to call more than once.
func (h *Hub) Unsubscribe(subscriber *Subscriber) {
	if subscriber == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	channel, ok := h.channels[subscriber.wishlistID]
	if !ok {
		return
	}
	if channel.leave(subscriber) {
		delete(h.channels, subscriber.wishlistID)
	}
}

// Publish stamps the event with the wishlist's next sequence number and
// delivers it to every current subscriber. Returns the stamped sequence, or
// 0 when the wishlist has no subscribers.
func (h *Hub) Publish(wishlistID string, event Event) int64 {
	h.mu.Lock()
	channel, ok := h.channels[wishlistID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return channel.publish(event)
}

// SubscriberCount reports the number of active subscribers for a wishlist.
func (h *Hub) SubscriberCount(wishlistID string) int {
	h.mu.Lock()
	channel, ok := h.channels[wishlistID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return channel.count()
}

type wishlistChannel struct {
	mu           sync.Mutex
	wishlistID   string
	nextSequence int64
	subscribers  map[*Subscriber]struct{}
}

func newWishlistChannel(wishlistID string) *wishlistChannel {
	return &wishlistChannel{
		wishlistID:  wishlistID,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

func (c *wishlistChannel) join(subscriber *Subscriber) {
	c.mu.Lock()
	c.subscribers[subscriber] = struct{}{}
	c.mu.Unlock()
}

func (c *wishlistChannel) leave(subscriber *Subscriber) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscribers[subscriber]; ok {
		delete(c.subscribers, subscriber)
		subscriber.stopped.Store(true)
		close(subscriber.events)
	}
	return len(c.subscribers) == 0
}

// publish delivers under the channel mutex so a concurrent leave can never
// close a buffer mid-send. Sends never block: a full buffer drops the event
// for that subscriber only.
func (c *wishlistChannel) publish(event Event) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSequence++
	event.Seq = c.nextSequence
	event.WishlistID = c.wishlistID

	for subscriber := range c.subscribers {
		if subscriber.stopped.Load() {
			continue
		}
		select {
		case subscriber.events <- event:
		default:
			subscriber.dropped.Add(1)
		}
	}
	return event.Seq
}

func (c *wishlistChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}

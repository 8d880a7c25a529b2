// Package event carries change notifications out of the registry over
// Go channels. Subscribers get their own buffered channel; a subscriber
// that falls behind loses events rather than blocking the publisher.
package event

import (
	"sync"
	"time"

	"github.com/agonzales-usgs/xmax-1.07/internal/logging"
)

// Type identifies what changed.
type Type string

const (
	// TypeChannelAdded fires when a channel joins the registry.
	TypeChannelAdded Type = "channel_added"
	// TypeChannelDeleted fires when a channel leaves the registry.
	TypeChannelDeleted Type = "channel_deleted"
	// TypeSourceAdded fires when a batch of sources finishes parsing
	// without growing the aggregate data range.
	TypeSourceAdded Type = "source_added"
	// TypeTimeRangeChanged fires when the aggregate data range grows.
	TypeTimeRangeChanged Type = "time_range_changed"
	// TypeChannelSetChanged fires when the pagination window moves.
	TypeChannelSetChanged Type = "channel_set_changed"
	// TypeDataDumped fires after channels are serialized to temp storage.
	TypeDataDumped Type = "data_dumped"
	// TypeDataReloaded fires after a full registry reload.
	TypeDataReloaded Type = "data_reloaded"
)

// Event is one registry change notification.
type Event struct {
	Type    Type
	Channel string
	Source  string

	// StartMs and EndMs carry the affected range for range events.
	StartMs int64
	EndMs   int64

	At time.Time
}

const subscriberBuffer = 64

// Bus fans registry events out to subscribers. Publish never blocks: a
// full subscriber channel drops the event for that subscriber.
//
// Bus is safe for concurrent use.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	dropped uint64

	log interface {
		Warn(msg string, args ...any)
	}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
		log:  logging.Component("event"),
	}
}

// Subscribe registers a new subscriber and returns its event channel and
// a cancel function. Cancel closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish stamps and delivers the event to every subscriber that has
// buffer room.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
			if b.dropped%100 == 1 {
				b.log.Warn("subscriber lagging, events dropped", "total_dropped", b.dropped)
			}
		}
	}
}

// Dropped returns the total number of events discarded for slow
// subscribers.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close cancels every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

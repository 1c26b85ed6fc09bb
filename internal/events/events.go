// Package events implements an in-process broadcaster for the request
// events the admin UI subscribes to: one record per request carrying
// the method, URL, and block decision.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one broadcast record: {now, method, url, is_request_blocked}
// for a single proxied request. ID disambiguates events delivered to
// slow subscribers out of band.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Now       time.Time `json:"now"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	IsBlocked bool      `json:"is_request_blocked"`
}

// Broadcaster fans out Events to any number of subscribers. A
// subscriber that falls behind has its oldest buffered events dropped
// rather than blocking the publisher — the admin UI feed is
// best-effort.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its event channel
// and an unsubscribe function. The channel is buffered; callers must
// drain it promptly or later events overwrite earlier ones.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish emits event to every current subscriber. A subscriber whose
// buffer is full has its oldest pending event dropped to make room,
// so Publish never blocks the caller.
func (b *Broadcaster) Publish(event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount reports how many subscribers are currently
// registered.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

package session

import (
	"sync"

	"github.com/2beens/gymlog/internal/backend"
)

type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

type Change struct {
	Event     Event
	SessionID string
	User      *backend.User
}

type Listener func(Change)

// broadcaster fans session changes out to listeners, synchronously and in subscription order.
type broadcaster struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener
	order     []uint64
	nextID    uint64
	closed    bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		listeners: make(map[uint64]Listener),
	}
}

func (b *broadcaster) subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
			for i, lid := range b.order {
				if lid == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *broadcaster) publish(c Change) {
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		listeners = append(listeners, b.listeners[id])
	}
	b.mu.RUnlock()

	// called outside the lock, so listeners may unsubscribe
	for _, l := range listeners {
		l(c)
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = make(map[uint64]Listener)
	b.order = nil
}

func (b *broadcaster) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

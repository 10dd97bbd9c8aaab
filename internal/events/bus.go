// Package events carries dispatch completion and failure events to external
// fan-out collaborators (SSE consumers, notifiers).
package events

import (
	"sync"
	"time"
)

// Event statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event describes a terminal dispatch outcome.
type Event struct {
	JobID          string    `json:"job_id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

// Bus is an in-process fan-out of dispatch events. Publishing never blocks:
// a subscriber that cannot keep up loses events rather than stalling the
// dispatch path.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

// NewBus creates a Bus whose subscriber channels hold buffer events.
func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 64
	}
	return &Bus{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe registers a consumer. The returned cancel func must be called to
// release the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Package events fans mailbox lifecycle events out to in-process subscribers
// (websocket clients, the delivery sweep) and across processes through Redis.
package events

import (
	"context"
	"mailbox/backend/internal/models"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Publisher accepts events produced by the mailbox.
type Publisher interface {
	Publish(ctx context.Context, event models.Event)
}

// Broker is an in-process fan-out. A subscriber that is not keeping up
// loses events instead of blocking the publisher.
type Broker struct {
	origin string

	mu     sync.RWMutex
	subs   map[chan models.Event]struct{}
	buffer int
}

// NewBroker створює брокер з унікальним origin для цього процесу.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		origin: uuid.NewString(),
		subs:   make(map[chan models.Event]struct{}),
		buffer: buffer,
	}
}

// Origin identifies this process in published events.
func (b *Broker) Origin() string { return b.origin }

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (b *Broker) Subscribe() (<-chan models.Event, func()) {
	ch := make(chan models.Event, b.buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish stamps local events with this broker's origin and delivers them.
func (b *Broker) Publish(_ context.Context, event models.Event) {
	if event.Origin == "" {
		event.Origin = b.origin
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	b.dispatch(event)
}

func (b *Broker) dispatch(event models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			// повільний підписник: подію пропускаємо
		}
	}
}

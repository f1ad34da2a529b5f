package events

import (
	"sync"
	"time"

	"github.com/promptdeck/promptd/internal/logger"
)

// Bus is an in-process publish/subscribe fan-out. Publish never blocks:
// a subscriber whose channel is full has the event dropped with a
// warning, so a stalled UI client cannot back up the queue processor.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	bufSize int
	logger  *logger.Logger
}

func NewBus(bufSize int, log *logger.Logger) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{
		subs:    make(map[int]chan Event),
		bufSize: bufSize,
		logger:  log.WithComponent("events"),
	}
}

// Subscribe registers a new subscriber. The returned cancel func must
// be called to release the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufSize)
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

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(typ Type, payload any) {
	evt := Event{Type: typ, Payload: payload, At: time.Now().UnixMilli()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("subscriber channel full, dropping event", "subscriber", id, "type", typ)
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

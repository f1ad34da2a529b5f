package events

import (
	"log/slog"
	"testing"
	"time"

	"github.com/promptdeck/promptd/internal/logger"
)

func newTestBus(buf int) *Bus {
	return NewBus(buf, logger.New(logger.Config{Level: slog.LevelError, Format: "text"}))
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := newTestBus(4)

	chA, cancelA := bus.Subscribe()
	chB, cancelB := bus.Subscribe()
	defer cancelA()
	defer cancelB()

	bus.Publish(TypeQueueUpdated, QueueUpdated{QueueSize: 2, AddedRequestID: "req-1"})

	for name, ch := range map[string]<-chan Event{"a": chA, "b": chB} {
		select {
		case evt := <-ch:
			if evt.Type != TypeQueueUpdated {
				t.Errorf("subscriber %s: type = %s", name, evt.Type)
			}
			payload, ok := evt.Payload.(QueueUpdated)
			if !ok || payload.QueueSize != 2 {
				t.Errorf("subscriber %s: payload = %+v", name, evt.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s: no event", name)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newTestBus(4)

	ch, cancel := bus.Subscribe()
	cancel()
	cancel() // second call is a no-op

	if bus.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d after cancel", bus.SubscriberCount())
	}

	bus.Publish(TypeQueueUpdated, QueueUpdated{QueueSize: 1})
	if _, ok := <-ch; ok {
		t.Error("received event on cancelled subscription")
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := newTestBus(1)

	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.Publish(TypeRequestProgress, RequestProgress{RequestID: "r", Status: "processing"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

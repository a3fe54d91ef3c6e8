package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type provisionedEvent struct {
	Username string
}

type agentEvent struct {
	Name string
}

func TestSubscribeAndPublishSync(t *testing.T) {
	bus := New()

	var got string
	bus.Subscribe(provisionedEvent{}, func(event interface{}) {
		if e, ok := event.(provisionedEvent); ok {
			got = e.Username
		}
	})

	bus.PublishSync(provisionedEvent{Username: "admin"})

	if got != "admin" {
		t.Fatalf("expected handler to receive admin, got %q", got)
	}
}

func TestPublishAsync(t *testing.T) {
	bus := New()

	done := make(chan string, 1)
	bus.Subscribe(provisionedEvent{}, func(event interface{}) {
		if e, ok := event.(provisionedEvent); ok {
			done <- e.Username
		}
	})

	bus.Publish(provisionedEvent{Username: "admin"})

	select {
	case got := <-done:
		if got != "admin" {
			t.Fatalf("expected admin, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestPublishOnlyMatchingType(t *testing.T) {
	bus := New()

	var count int32
	bus.Subscribe(provisionedEvent{}, func(event interface{}) {
		atomic.AddInt32(&count, 1)
	})

	bus.PublishSync(agentEvent{Name: "agent-1"})

	if atomic.LoadInt32(&count) != 0 {
		t.Fatal("handler for a different event type must not fire")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := New()

	var count int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(agentEvent{}, func(event interface{}) {
			atomic.AddInt32(&count, 1)
		})
	}

	if got := bus.SubscriberCount(agentEvent{}); got != 3 {
		t.Fatalf("expected 3 subscribers, got %d", got)
	}
	if !bus.HasSubscribers(agentEvent{}) {
		t.Fatal("expected HasSubscribers to be true")
	}

	bus.PublishSync(agentEvent{Name: "agent-1"})
	if atomic.LoadInt32(&count) != 3 {
		t.Fatalf("expected all 3 handlers to fire, got %d", count)
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := New()

	var count int32
	bus.Subscribe(agentEvent{}, func(event interface{}) {
		atomic.AddInt32(&count, 1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.PublishSync(agentEvent{Name: "agent"})
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&count) != 20 {
		t.Fatalf("expected 20 deliveries, got %d", count)
	}
}

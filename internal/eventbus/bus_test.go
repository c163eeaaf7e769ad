package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewWithConfig(2, 10)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	got := map[string]int{}
	handler := func(name string) Handler {
		return func(e Event) {
			mu.Lock()
			got[name]++
			mu.Unlock()
			wg.Done()
		}
	}

	b.Subscribe(EventTypeCloudConnected, handler("a"))
	b.Subscribe(EventTypeCloudConnected, handler("b"))
	b.Subscribe(EventTypeCloudDisconnected, handler("never"))

	b.Publish(Event{Type: EventTypeCloudConnected})

	waitOrFail(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if got["a"] != 1 || got["b"] != 1 {
		t.Errorf("got %v, want one call each for a and b", got)
	}
	if got["never"] != 0 {
		t.Errorf("disconnected handler was called")
	}
}

func TestSubscribeAll(t *testing.T) {
	b := NewWithConfig(1, len(AllEventTypes))
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(len(AllEventTypes))

	var mu sync.Mutex
	seen := map[EventType]bool{}
	b.SubscribeAll(func(e Event) {
		mu.Lock()
		seen[e.Type] = true
		mu.Unlock()
		wg.Done()
	})

	for _, et := range AllEventTypes {
		b.Publish(Event{Type: et})
	}
	waitOrFail(t, &wg)

	for _, et := range AllEventTypes {
		if !seen[et] {
			t.Errorf("event %q not delivered", et)
		}
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	b := NewWithConfig(1, 10)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)

	b.Subscribe(EventTypePostCloudData, func(Event) { panic("boom") })
	b.Subscribe(EventTypeGetDeviceData, func(Event) { wg.Done() })

	b.Publish(Event{Type: EventTypePostCloudData})
	b.Publish(Event{Type: EventTypeGetDeviceData})

	waitOrFail(t, &wg)
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	b := NewWithConfig(1, 1)
	b.Subscribe(EventTypeSetDeviceData, func(Event) { t.Error("handler called after close") })
	b.Close(context.Background())

	// Must not panic on a closed queue
	b.Publish(Event{Type: EventTypeSetDeviceData})
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}

func TestNewWithConfigDefaults(t *testing.T) {
	b := NewWithConfig(0, -1)
	defer b.Close(context.Background())

	if got := cap(b.workQueue); got != DefaultQueueSize {
		t.Fatalf("queue size = %d, want %d", got, DefaultQueueSize)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(EventTypePostCloudData, func(Event) { wg.Done() })
	b.Publish(Event{Type: EventTypePostCloudData})
	waitOrFail(t, &wg)
}

package infrastructure

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

func TestChannelEventBus_DeliversInOrder(t *testing.T) {
	bus := NewChannelEventBus(10)
	defer bus.Close()

	var (
		mu   sync.Mutex
		got  []int
		done = make(chan struct{})
	)
	err := bus.Subscribe(
		reflect.TypeFor[domain.NowPlayingChangedEvent](),
		func(_ context.Context, e domain.Event) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, e.(domain.NowPlayingChangedEvent).Index)
			if len(got) == 3 {
				close(done)
			}
		},
	)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := range 3 {
		if err := bus.Publish(domain.NowPlayingChangedEvent{Index: i}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, index := range got {
		if index != i {
			t.Errorf("event %d: expected index %d, got %d", i, i, index)
		}
	}
}

func TestChannelEventBus_RoutesByType(t *testing.T) {
	bus := NewChannelEventBus(10)
	defer bus.Close()

	added := make(chan domain.TrackAddedEvent, 1)
	_ = bus.Subscribe(
		reflect.TypeFor[domain.TrackAddedEvent](),
		func(_ context.Context, e domain.Event) {
			added <- e.(domain.TrackAddedEvent)
		},
	)

	_ = bus.Publish(domain.QueueUpdatedEvent{})
	_ = bus.Publish(domain.TrackAddedEvent{Index: 7})

	select {
	case e := <-added:
		if e.Index != 7 {
			t.Errorf("expected index 7, got %d", e.Index)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for TrackAddedEvent")
	}
}

func TestChannelEventBus_DropsWhenFull(t *testing.T) {
	bus := NewChannelEventBus(1)
	defer bus.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	_ = bus.Subscribe(
		reflect.TypeFor[domain.QueueUpdatedEvent](),
		func(context.Context, domain.Event) {
			started <- struct{}{}
			<-release
		},
	)

	// The first event blocks the dispatcher, the second fills the buffer.
	_ = bus.Publish(domain.QueueUpdatedEvent{})
	<-started
	_ = bus.Publish(domain.QueueUpdatedEvent{})

	if err := bus.Publish(domain.QueueUpdatedEvent{}); err != nil {
		t.Errorf("expected dropped publish to succeed, got %v", err)
	}
	close(release)
}

func TestChannelEventBus_Closed(t *testing.T) {
	bus := NewChannelEventBus(0)
	bus.Close()
	// Closing twice is a no-op.
	bus.Close()

	if err := bus.Publish(domain.QueueUpdatedEvent{}); !errors.Is(err, ErrEventBusClosed) {
		t.Errorf("expected ErrEventBusClosed on publish, got %v", err)
	}
	err := bus.Subscribe(
		reflect.TypeFor[domain.QueueUpdatedEvent](),
		func(context.Context, domain.Event) {},
	)
	if !errors.Is(err, ErrEventBusClosed) {
		t.Errorf("expected ErrEventBusClosed on subscribe, got %v", err)
	}
}

package event

import (
	"testing"

	"github.com/verte-zerg/skillcast/internal/model"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe(4)
	defer unsubA()
	b, unsubB := bus.Subscribe(4)
	defer unsubB()

	bus.Log("hello")

	for _, ch := range []<-chan Event{a, b} {
		e := <-ch
		if e.Kind != KindLog || e.Message != "hello" {
			t.Fatalf("unexpected event: %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatalf("expected event time to be stamped")
		}
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Status(true)
	bus.Status(false)

	e := <-ch
	if !e.Running {
		t.Fatalf("expected first event to be kept")
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected second event to be dropped, got %+v", extra)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	bus.Log("after unsubscribe")
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	bus.Close()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after bus close")
	}
	late, _ := bus.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatalf("expected subscription on closed bus to be closed")
	}
	bus.Overlay("ignored", ColorReady)
}

func TestCoordsEventIsACopy(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	coords := model.GlobalCoordinates{"1": {CX: 10, CY: 20}}
	bus.Coords(coords)
	coords["1"] = model.SlotGeometry{CX: 99}

	e := <-ch
	if e.Coords["1"].CX != 10 {
		t.Fatalf("expected published coords to be isolated, got %+v", e.Coords["1"])
	}
}

package events

import "testing"

func TestBusDeliversClones(t *testing.T) {
	bus := NewBus(4)
	ch, cancel := bus.Subscribe()
	defer cancel()

	evt := &Event{Type: "market.mint", Attributes: map[string]string{"asset": "USDQ"}}
	bus.Emit(evt)

	got := <-ch
	if got.Type != "market.mint" || got.Attributes["asset"] != "USDQ" {
		t.Fatalf("unexpected event: %+v", got)
	}
	got.Attributes["asset"] = "tampered"
	bus.Emit(evt)
	second := <-ch
	if second.Attributes["asset"] != "USDQ" {
		t.Fatalf("subscriber mutation leaked into later deliveries: %+v", second)
	}
}

func TestBusDropsWhenSubscriberStalls(t *testing.T) {
	bus := NewBus(1)
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Emit(&Event{Type: "a"})
	bus.Emit(&Event{Type: "b"})

	first := <-ch
	if first.Type != "a" {
		t.Fatalf("expected first buffered event, got %s", first.Type)
	}
	select {
	case evt := <-ch:
		t.Fatalf("expected overflow drop, received %s", evt.Type)
	default:
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus(1)
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	if n := bus.SubscriberCount(); n != 0 {
		t.Fatalf("expected zero subscribers, got %d", n)
	}
	bus.Emit(&Event{Type: "late"})
}

package bus

import (
	"context"
	"encoding/json"
	"testing"
)

func TestCrossProcessFanOut(t *testing.T) {
	broker := NewBroker()
	p1 := broker.Bus()
	p2 := broker.Bus()

	var got1, got2 []Event
	p1.Subscribe("r1", func(evt Event) { got1 = append(got1, evt) })
	p2.Subscribe("r1", func(evt Event) { got2 = append(got2, evt) })

	evt := Event{Room: "r1", Kind: KindMessage, Payload: json.RawMessage(`{"text":"hi"}`)}
	if err := p1.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(got1) != 1 {
		t.Errorf("Expected the publishing process to deliver to itself, got %d events", len(got1))
	}
	if len(got2) != 1 {
		t.Fatalf("Expected the other process to receive the event, got %d events", len(got2))
	}
	if got2[0].Kind != KindMessage || string(got2[0].Payload) != `{"text":"hi"}` {
		t.Errorf("Event did not round-trip: %+v", got2[0])
	}
}

func TestRoomScoping(t *testing.T) {
	broker := NewBroker()
	b := broker.Bus()

	var got []Event
	b.Subscribe("r1", func(evt Event) { got = append(got, evt) })

	b.Publish(context.Background(), Event{Room: "r2", Kind: KindMessage})
	if len(got) != 0 {
		t.Errorf("Expected no delivery for an unsubscribed room, got %d events", len(got))
	}
}

func TestPublisherFIFO(t *testing.T) {
	broker := NewBroker()
	pub := broker.Bus()
	sub := broker.Bus()

	var order []string
	sub.Subscribe("r1", func(evt Event) { order = append(order, evt.Kind) })

	ctx := context.Background()
	for _, kind := range []string{"a", "b", "c", "d"} {
		pub.Publish(ctx, Event{Room: "r1", Kind: kind})
	}

	want := []string{"a", "b", "c", "d"}
	if len(order) != len(want) {
		t.Fatalf("Expected %d deliveries, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected publish order preserved, got %v", order)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	broker := NewBroker()
	b := broker.Bus()

	count := 0
	b.Subscribe("r1", func(Event) { count++ })
	b.Publish(context.Background(), Event{Room: "r1", Kind: KindRoster})
	b.Unsubscribe("r1")
	b.Publish(context.Background(), Event{Room: "r1", Kind: KindRoster})

	if count != 1 {
		t.Errorf("Expected exactly one delivery before unsubscribe, got %d", count)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	broker := NewBroker()
	b := broker.Bus()

	count := 0
	b.Subscribe("r1", func(Event) { count++ })
	b.Subscribe("r1", func(Event) { count += 100 })

	b.Publish(context.Background(), Event{Room: "r1", Kind: KindRoster})
	if count != 1 {
		t.Errorf("Expected the first handler to stay registered, got count=%d", count)
	}
}

func TestClosedBusReceivesNothing(t *testing.T) {
	broker := NewBroker()
	closed := broker.Bus()
	live := broker.Bus()

	count := 0
	closed.Subscribe("r1", func(Event) { count++ })
	closed.Close()

	live.Publish(context.Background(), Event{Room: "r1", Kind: KindRoster})
	if count != 0 {
		t.Errorf("Expected closed bus to receive nothing, got %d", count)
	}
}

package api

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("o1")

	evt := Event{Type: "shipment.registered", OrderID: "o1", Data: map[string]any{"x": 1}}
	b.Publish(evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["x"].(int) != 1 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe("o1", ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel should be closed after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
		// acceptable if already drained and closed
	}
}

func TestBrokerFirehoseTopic(t *testing.T) {
	b := NewBroker()
	all := b.Subscribe(TopicAll)
	defer b.Unsubscribe(TopicAll, all)
	other := b.Subscribe("o2")
	defer b.Unsubscribe("o2", other)

	b.Publish(Event{Type: "labelFile.ready", OrderID: "o1"})

	select {
	case got := <-all:
		if got.OrderID != "o1" {
			t.Fatalf("got order %s", got.OrderID)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("firehose subscriber missed the event")
	}
	select {
	case got := <-other:
		t.Fatalf("o2 subscriber received foreign event: %+v", got)
	default:
	}
}

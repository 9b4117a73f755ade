package api

import (
	"sync"
)

// Event is one order-scoped shipping event pushed to connected clients.
type Event struct {
	Type    string
	OrderID string
	Data    map[string]any
}

// TopicAll receives every order's events; the admin order list subscribes
// here instead of per-order.
const TopicAll = "*"

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // topic -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	if m := b.subs[topic]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, topic)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(evt Event) {
	b.mu.Lock()
	for _, topic := range []string{evt.OrderID, TopicAll} {
		for ch := range b.subs[topic] {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	b.mu.Unlock()
}

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string         `json:"type"`
	OrderID string         `json:"orderId,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// ShipmentEventsWSHandler handles /shipping/v2/shipment-events/ws. Admin
// panels connect here to see shipment status changes and label events live;
// ?order_id= narrows the stream to one order, otherwise all orders flow.
func (s *Server) ShipmentEventsWSHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	topic := r.URL.Query().Get("order_id")
	if topic == "" {
		topic = TopicAll
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)

	// Reader goroutine: consume control frames, signal close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			msg := wsMessage{Type: evt.Type, OrderID: evt.OrderID, Data: evt.Data}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

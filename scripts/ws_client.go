// Package main runs a demo WebSocket client for shipment events: it creates
// an order, subscribes to the event stream and pushes a shipment through it.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string         `json:"type"`
	OrderID string         `json:"orderId,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Create an order via the substrate endpoint (dev mode: no secret set).
	body := []byte(`{"number":"demo-1","billing":{"firstName":"Demo","lastName":"Customer","streetAddress1":"Kai 1","locality":"Tallinn","postalCode":"10111","country":"EE"},"items":[{"name":"Mug","quantity":1,"weight":0.4}]}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/shipping/v2/orders/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var order struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		log.Fatal(err)
	}
	log.Printf("Order ID: %s", order.ID)

	// Connect WS, following all orders.
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/shipping/v2/shipment-events/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			data, _ := json.Marshal(m.Data)
			log.Printf("WS <- %s order=%s %s", m.Type, m.OrderID, data)
		}
	}()

	// Trigger an event via shipment create; with no aggregator configured
	// this fails and emits nothing, but against a sandbox it streams.
	time.Sleep(500 * time.Millisecond)
	createBody := []byte(fmt.Sprintf(`{"orderId":%q}`, order.ID))
	createReq, _ := http.NewRequest(http.MethodPost, base+"/shipping/v2/shipment/create", bytes.NewReader(createBody))
	createReq.Header.Set("Content-Type", "application/json")
	_, _ = http.DefaultClient.Do(createReq)

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}

package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"shipsync/internal/model"
	"shipsync/internal/store"
	"shipsync/internal/token"
)

const whSecret = "wh-secret"

func signedBody(t *testing.T, claims token.Claims) []byte {
	t.Helper()
	tok, err := token.Sign(claims, whSecret, time.Minute, nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	b, _ := json.Marshal(map[string]string{"payload": tok})
	return b
}

func TestWebhookRejectsBadBodies(t *testing.T) {
	d := NewWebhookDispatcher(store.NewMemory(), nil, whSecret)
	for _, body := range []string{"", "{", `{"payload":""}`, `{"payload":"not.a.jwt"}`} {
		err := d.Handle(context.Background(), []byte(body))
		if !errors.Is(err, ErrBadPayload) {
			t.Fatalf("body %q: expected ErrBadPayload, got %v", body, err)
		}
		if StatusFromError(err) != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400", body)
		}
	}
	// Wrong secret.
	tok, _ := token.Sign(token.Claims{"eventType": EventShipmentRegistered}, "other", time.Minute, nil)
	b, _ := json.Marshal(map[string]string{"payload": tok})
	if err := d.Handle(context.Background(), b); !errors.Is(err, ErrBadPayload) {
		t.Fatalf("expected ErrBadPayload, got %v", err)
	}
}

func TestWebhookRegistered(t *testing.T) {
	m := store.NewMemory()
	o, _ := m.CreateOrder(context.Background(), model.Order{Meta: map[string]string{model.MetaShipmentID: "sh_1"}})
	api := &fakeAPI{shipment: model.Shipment{ID: "sh_1", Status: model.ShipmentStatusRegistered}}
	d := NewWebhookDispatcher(m, api, whSecret)

	// The second link carries a comma, which must survive storage intact.
	commaLink := "https://track.example.com/find?ids=CC124,EE"
	body := signedBody(t, token.Claims{
		"eventType":  EventShipmentRegistered,
		"shipmentId": "sh_1",
		"data": map[string]any{
			"parcels": []map[string]string{
				{"carrierParcelId": "CC123", "trackingLink": "https://track.example.com/CC123"},
				{"carrierParcelId": "CC124", "trackingLink": commaLink},
			},
		},
	})
	if err := d.Handle(context.Background(), body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := m.GetOrder(context.Background(), o.ID)
	if got.GetMeta(model.MetaShipmentStatus) != model.ShipmentStatusRegistered {
		t.Fatalf("status = %q", got.GetMeta(model.MetaShipmentStatus))
	}
	var links []string
	if err := json.Unmarshal([]byte(got.GetMeta(model.MetaTrackingInfo)), &links); err != nil {
		t.Fatalf("tracking meta not a JSON array: %q", got.GetMeta(model.MetaTrackingInfo))
	}
	if len(links) != 2 || links[0] != "https://track.example.com/CC123" || links[1] != commaLink {
		t.Fatalf("links = %v", links)
	}
	notes, _ := m.ListOrderNotes(context.Background(), o.ID)
	if len(notes) != 1 || !strings.Contains(notes[0], "CC123") {
		t.Fatalf("notes = %v", notes)
	}
}

func TestWebhookRegisteredUpstreamDisagreement(t *testing.T) {
	// Upstream already moved past registered: the event still applies.
	m := store.NewMemory()
	o, _ := m.CreateOrder(context.Background(), model.Order{Meta: map[string]string{model.MetaShipmentID: "sh_1"}})
	api := &fakeAPI{shipment: model.Shipment{ID: "sh_1", Status: "pending"}}
	d := NewWebhookDispatcher(m, api, whSecret)
	body := signedBody(t, token.Claims{"eventType": EventShipmentRegistered, "shipmentId": "sh_1"})
	if err := d.Handle(context.Background(), body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := m.GetOrder(context.Background(), o.ID)
	if got.GetMeta(model.MetaShipmentStatus) != model.ShipmentStatusRegistered {
		t.Fatalf("status = %q", got.GetMeta(model.MetaShipmentStatus))
	}

	// Upstream says the registration failed: the event is dropped quietly.
	m2 := store.NewMemory()
	o2, _ := m2.CreateOrder(context.Background(), model.Order{Meta: map[string]string{model.MetaShipmentID: "sh_2"}})
	api2 := &fakeAPI{shipment: model.Shipment{ID: "sh_2", Status: model.ShipmentStatusRegistrationFailed}}
	d2 := NewWebhookDispatcher(m2, api2, whSecret)
	body2 := signedBody(t, token.Claims{"eventType": EventShipmentRegistered, "shipmentId": "sh_2"})
	if err := d2.Handle(context.Background(), body2); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got2, _ := m2.GetOrder(context.Background(), o2.ID)
	if got2.GetMeta(model.MetaShipmentStatus) != "" {
		t.Fatalf("dropped event changed status to %q", got2.GetMeta(model.MetaShipmentStatus))
	}
}

func TestWebhookRegistrationFailed(t *testing.T) {
	m := store.NewMemory()
	o, _ := m.CreateOrder(context.Background(), model.Order{Meta: map[string]string{model.MetaShipmentID: "sh_2"}})
	d := NewWebhookDispatcher(m, nil, whSecret)

	body := signedBody(t, token.Claims{
		"eventType":  EventShipmentRegistrationFailed,
		"shipmentId": "sh_2",
		"data": map[string]any{
			"errors": []map[string]any{
				{"message": "Invalid address", "cause": []map[string]any{
					{"message": "postalCode missing"},
				}},
			},
		},
	})
	if err := d.Handle(context.Background(), body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := m.GetOrder(context.Background(), o.ID)
	if got.GetMeta(model.MetaShipmentStatus) != model.ShipmentStatusRegistrationFailed {
		t.Fatalf("status = %q", got.GetMeta(model.MetaShipmentStatus))
	}
	notes, _ := m.ListOrderNotes(context.Background(), o.ID)
	if len(notes) != 1 || !strings.Contains(notes[0], "Invalid address; postalCode missing") {
		t.Fatalf("notes = %v", notes)
	}
}

func TestWebhookUnknownShipment(t *testing.T) {
	d := NewWebhookDispatcher(store.NewMemory(), nil, whSecret)
	for _, eventType := range []string{EventShipmentRegistered, EventShipmentRegistrationFailed} {
		body := signedBody(t, token.Claims{"eventType": eventType, "shipmentId": "ghost"})
		err := d.Handle(context.Background(), body)
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", eventType, err)
		}
		if got := StatusFromError(err); got != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", eventType, got)
		}
	}
}

func TestWebhookLabelReady(t *testing.T) {
	m := store.NewMemory()
	o1, _ := m.CreateOrder(context.Background(), model.Order{Meta: map[string]string{model.MetaShipmentID: "sh_a"}})
	o2, _ := m.CreateOrder(context.Background(), model.Order{Meta: map[string]string{model.MetaShipmentID: "sh_b"}})
	d := NewWebhookDispatcher(m, nil, whSecret)

	body := signedBody(t, token.Claims{
		"eventType": EventLabelFileReady,
		"data": map[string]any{
			// sh_ghost has no order; the others must still be marked.
			"shipmentIds": []string{"sh_a", "sh_ghost", "sh_b"},
			"labelFileId": "lf_1",
		},
	})
	if err := d.Handle(context.Background(), body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	for _, id := range []string{o1.ID, o2.ID} {
		got, _ := m.GetOrder(context.Background(), id)
		if got.GetMeta(model.MetaLabelPrinted) != "yes" {
			t.Fatalf("order %s not marked", id)
		}
	}
}

func TestWebhookUnknownEventAcknowledged(t *testing.T) {
	d := NewWebhookDispatcher(store.NewMemory(), nil, whSecret)
	body := signedBody(t, token.Claims{"eventType": "shipment.somethingNew", "shipmentId": "sh_1"})
	if err := d.Handle(context.Background(), body); err != nil {
		t.Fatalf("unknown events must be acknowledged, got %v", err)
	}
}

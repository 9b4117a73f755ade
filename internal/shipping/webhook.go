package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"shipsync/internal/metrics"
	"shipsync/internal/model"
	"shipsync/internal/store"
	"shipsync/internal/token"
)

// Webhook event types the aggregator delivers.
const (
	EventShipmentRegistered         = "shipment.registered"
	EventShipmentRegistrationFailed = "shipment.registrationFailed"
	EventLabelFileReady             = "labelFile.ready"
)

// WebhookLeeway tolerates clock skew on inbound webhook tokens.
const WebhookLeeway = 5 * time.Minute

// ErrBadPayload marks webhook bodies that fail decoding or verification;
// handlers answer 400 and the aggregator retries.
var ErrBadPayload = errors.New("webhook: bad payload")

// WebhookDispatcher decodes signed webhook bodies and applies their events
// to locally stored orders.
type WebhookDispatcher struct {
	Store  store.Store
	API    API
	Events EventSink
	Secret string

	Now func() time.Time
}

func NewWebhookDispatcher(s store.Store, api API, secret string) *WebhookDispatcher {
	return &WebhookDispatcher{Store: s, API: api, Events: nopSink{}, Secret: secret, Now: time.Now}
}

func (d *WebhookDispatcher) sink() EventSink {
	if d.Events == nil {
		return nopSink{}
	}
	return d.Events
}

// Handle processes one raw webhook body. The body is {"payload": <JWT>};
// a bad body or token returns ErrBadPayload with no side effects. Unknown
// event types are logged and acknowledged.
func (d *WebhookDispatcher) Handle(ctx context.Context, rawBody []byte) error {
	var envelope struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil || envelope.Payload == "" {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%w: invalid body", ErrBadPayload)
	}
	claims, err := token.Verify(envelope.Payload, d.Secret, WebhookLeeway, d.Now)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	payload, err := decodePayload(claims)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	switch payload.EventType {
	case EventShipmentRegistered:
		err = d.handleRegistered(ctx, payload)
	case EventShipmentRegistrationFailed:
		err = d.handleRegistrationFailed(ctx, payload)
	case EventLabelFileReady:
		err = d.handleLabelReady(ctx, payload)
	default:
		log.Printf("webhook: ignoring event type %q", payload.EventType)
		metrics.WebhookEvents.WithLabelValues("other", "ignored").Inc()
		return nil
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.WebhookEvents.WithLabelValues(payload.EventType, status).Inc()
	return err
}

// decodePayload lifts the flat claims map into the typed payload via a JSON
// round trip, so nested data decodes with the usual tags.
func decodePayload(claims token.Claims) (model.WebhookPayload, error) {
	var p model.WebhookPayload
	b, err := json.Marshal(map[string]any(claims))
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, err
	}
	if p.EventType == "" {
		return p, errors.New("missing eventType")
	}
	return p, nil
}

// orderForShipment finds the order carrying the shipment id and re-checks
// that its stored id still matches, guarding against meta rewritten between
// event emission and delivery.
func (d *WebhookDispatcher) orderForShipment(ctx context.Context, shipmentID string) (model.Order, error) {
	if shipmentID == "" {
		return model.Order{}, errors.New("webhook: empty shipment id")
	}
	o, err := d.Store.FindOrderByMeta(ctx, model.MetaShipmentID, shipmentID)
	if err != nil {
		return model.Order{}, fmt.Errorf("webhook: order for shipment %s: %w", shipmentID, err)
	}
	if o.GetMeta(model.MetaShipmentID) != shipmentID {
		return model.Order{}, fmt.Errorf("webhook: order %s shipment id mismatch", o.ID)
	}
	return o, nil
}

func (d *WebhookDispatcher) handleRegistered(ctx context.Context, p model.WebhookPayload) error {
	o, err := d.orderForShipment(ctx, p.ShipmentID)
	if err != nil {
		return err
	}
	// Confirm against the API before trusting the event. Best effort: a
	// transient API failure, or a shipment that already advanced past
	// registered, must not lose the webhook. Only a confirmed upstream
	// registration failure drops the event.
	if d.API != nil {
		if sh, err := d.API.GetShipment(ctx, p.ShipmentID); err != nil {
			log.Printf("webhook: confirm shipment %s: %v", p.ShipmentID, err)
		} else if sh.Status == model.ShipmentStatusRegistrationFailed {
			log.Printf("webhook: shipment %s failed upstream, dropping registered event", p.ShipmentID)
			return nil
		}
	}
	links := make([]string, 0, len(p.Data.Parcels))
	notes := make([]string, 0, len(p.Data.Parcels))
	for _, parcel := range p.Data.Parcels {
		if parcel.TrackingLink == "" {
			continue
		}
		links = append(links, parcel.TrackingLink)
		notes = append(notes, fmt.Sprintf(`<a href=%q target="_blank">%s</a>`, parcel.TrackingLink, parcel.CarrierParcelID))
	}
	meta := map[string]string{model.MetaShipmentStatus: model.ShipmentStatusRegistered}
	if len(links) > 0 {
		// JSON array, not a joined string: tracking URLs may carry commas.
		b, _ := json.Marshal(links)
		meta[model.MetaTrackingInfo] = string(b)
	}
	if err := d.Store.SetOrderMeta(ctx, o.ID, meta); err != nil {
		return err
	}
	if len(notes) > 0 {
		if err := d.Store.AddOrderNote(ctx, o.ID, "Shipment registered. Tracking: "+strings.Join(notes, ", ")); err != nil {
			return err
		}
	}
	d.sink().PublishOrderEvent(o.ID, EventShipmentRegistered, map[string]any{"trackingLinks": links})
	return nil
}

func (d *WebhookDispatcher) handleRegistrationFailed(ctx context.Context, p model.WebhookPayload) error {
	o, err := d.orderForShipment(ctx, p.ShipmentID)
	if err != nil {
		return err
	}
	msgs := CollectErrorMessages(p.Data.Errors)
	note := "Shipment registration failed."
	if len(msgs) > 0 {
		note += " " + strings.Join(msgs, "; ")
	}
	if err := d.Store.SetOrderMeta(ctx, o.ID, map[string]string{model.MetaShipmentStatus: model.ShipmentStatusRegistrationFailed}); err != nil {
		return err
	}
	if err := d.Store.AddOrderNote(ctx, o.ID, note); err != nil {
		return err
	}
	d.sink().PublishOrderEvent(o.ID, EventShipmentRegistrationFailed, map[string]any{"errors": msgs})
	return nil
}

// handleLabelReady marks every order whose shipment is covered by the label
// file. Orders we cannot map are logged and skipped; one stray shipment id
// must not fail the whole event.
func (d *WebhookDispatcher) handleLabelReady(ctx context.Context, p model.WebhookPayload) error {
	for _, shipmentID := range p.Data.ShipmentIDs {
		o, err := d.Store.FindOrderByMeta(ctx, model.MetaShipmentID, shipmentID)
		if err != nil {
			log.Printf("webhook: label ready: shipment %s: %v", shipmentID, err)
			continue
		}
		if err := d.Store.SetOrderMeta(ctx, o.ID, map[string]string{model.MetaLabelPrinted: "yes"}); err != nil {
			return err
		}
		if err := d.Store.AddOrderNote(ctx, o.ID, "Shipping label ready for download."); err != nil {
			return err
		}
		d.sink().PublishOrderEvent(o.ID, EventLabelFileReady, map[string]any{"labelFileId": p.Data.LabelFileID})
	}
	return nil
}

// StatusFromError maps a dispatcher error to the HTTP status the webhook
// endpoint should answer with. An event for a shipment we cannot map to an
// order is the sender's problem, not ours, so it answers 400 rather than
// 404 or a retryable 5xx.
func StatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrBadPayload) || errors.Is(err, store.ErrNotFound) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

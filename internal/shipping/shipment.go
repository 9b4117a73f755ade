package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"shipsync/internal/model"
	"shipsync/internal/shippingapi"
	"shipsync/internal/store"
)

// defaultParcelWeightKg substitutes for items with no configured weight so
// carriers never see a zero-weight parcel.
const defaultParcelWeightKg = 1.0

// ErrNoShipment marks operations on orders that have no registered shipment
// yet; handlers answer 4xx, not 5xx.
var ErrNoShipment = errors.New("order has no shipment")

// paidStatuses are the order statuses that count as payment complete.
var paidStatuses = map[string]bool{
	"processing": true,
	"completed":  true,
}

// PaymentComplete reports whether an order status means the payment went
// through.
func PaymentComplete(status string) bool { return paidStatuses[status] }

// API is the slice of the aggregator client the shipping pipeline uses.
type API interface {
	CreateShipment(ctx context.Context, req model.ShipmentRequest) (model.Shipment, error)
	UpdateShipment(ctx context.Context, shipmentID string, req model.ShipmentRequest) (model.Shipment, error)
	GetShipment(ctx context.Context, shipmentID string) (model.Shipment, error)
	CreateLabelFile(ctx context.Context, shipmentIDs []string) (model.LabelFile, error)
	GetLabelFile(ctx context.Context, labelFileID string) (model.LabelFile, error)
	ListWebhooks(ctx context.Context) ([]model.RegisteredWebhook, error)
	RegisterWebhook(ctx context.Context, wh model.RegisteredWebhook) (model.RegisteredWebhook, error)
}

// EventSink receives order-scoped events for fan-out to connected admin UIs.
type EventSink interface {
	PublishOrderEvent(orderID, eventType string, data map[string]any)
}

type nopSink struct{}

func (nopSink) PublishOrderEvent(string, string, map[string]any) {}

// ShipmentManager drives order shipments through their remote lifecycle.
type ShipmentManager struct {
	Store  store.Store
	API    API
	Events EventSink

	// Store-side measurement units for line item weight/dimensions.
	WeightUnit    string
	DimensionUnit string
}

func NewShipmentManager(s store.Store, api API, weightUnit, dimensionUnit string) *ShipmentManager {
	return &ShipmentManager{Store: s, API: api, Events: nopSink{}, WeightUnit: weightUnit, DimensionUnit: dimensionUnit}
}

func (sm *ShipmentManager) sink() EventSink {
	if sm.Events == nil {
		return nopSink{}
	}
	return sm.Events
}

// CreateShipment registers a new shipment for the order and stores the
// returned shipment id. On failure the order is annotated and marked
// creationFailed; the error is returned for the caller's HTTP status.
func (sm *ShipmentManager) CreateShipment(ctx context.Context, orderID string) (model.Shipment, error) {
	o, err := sm.Store.GetOrder(ctx, orderID)
	if err != nil {
		return model.Shipment{}, err
	}
	req, err := sm.BuildShipmentRequest(ctx, o)
	if err != nil {
		sm.failOrder(ctx, o.ID, model.ShipmentStatusCreationFailed, err)
		return model.Shipment{}, err
	}
	sh, err := sm.API.CreateShipment(ctx, req)
	if err != nil {
		sm.failOrder(ctx, o.ID, model.ShipmentStatusCreationFailed, err)
		return model.Shipment{}, err
	}
	meta := map[string]string{
		model.MetaShipmentID:     sh.ID,
		model.MetaShipmentStatus: sh.Status,
	}
	if err := sm.Store.SetOrderMeta(ctx, o.ID, meta); err != nil {
		return sh, err
	}
	sm.sink().PublishOrderEvent(o.ID, "shipment.created", map[string]any{"shipmentId": sh.ID})
	return sh, nil
}

// UpdateShipment pushes the order's current receiver and parcels to the
// already-registered shipment.
func (sm *ShipmentManager) UpdateShipment(ctx context.Context, orderID string) (model.Shipment, error) {
	o, err := sm.Store.GetOrder(ctx, orderID)
	if err != nil {
		return model.Shipment{}, err
	}
	shipmentID := o.GetMeta(model.MetaShipmentID)
	if shipmentID == "" {
		return model.Shipment{}, fmt.Errorf("order %s: %w", orderID, ErrNoShipment)
	}
	req, err := sm.BuildShipmentRequest(ctx, o)
	if err != nil {
		sm.failOrder(ctx, o.ID, model.ShipmentStatusUpdateFailed, err)
		return model.Shipment{}, err
	}
	sh, err := sm.API.UpdateShipment(ctx, shipmentID, req)
	if err != nil {
		sm.failOrder(ctx, o.ID, model.ShipmentStatusUpdateFailed, err)
		return model.Shipment{}, err
	}
	if err := sm.Store.SetOrderMeta(ctx, o.ID, map[string]string{model.MetaShipmentStatus: sh.Status}); err != nil {
		return sh, err
	}
	sm.sink().PublishOrderEvent(o.ID, "shipment.updated", map[string]any{"shipmentId": sh.ID})
	return sh, nil
}

// HandlePaymentComplete creates the order's shipment once payment goes
// through. Orders without an aggregator method selected are ignored, and
// orders that already carry a shipment or tracking codes are skipped, so a
// replayed status transition cannot double-create. The bool reports whether
// a shipment was created.
func (sm *ShipmentManager) HandlePaymentComplete(ctx context.Context, orderID string) (model.Shipment, bool, error) {
	o, err := sm.Store.GetOrder(ctx, orderID)
	if err != nil {
		return model.Shipment{}, false, err
	}
	if o.GetMeta(model.MetaMethodType) == "" || o.GetMeta(model.MetaMethodItemID) == "" {
		return model.Shipment{}, false, nil
	}
	if o.GetMeta(model.MetaShipmentID) != "" || o.GetMeta(model.MetaTrackingInfo) != "" {
		return model.Shipment{}, false, nil
	}
	sh, err := sm.CreateShipment(ctx, orderID)
	if err != nil {
		return model.Shipment{}, false, err
	}
	return sh, true, nil
}

// BuildShipmentRequest assembles the outbound payload: consolidated receiver,
// parcels in carrier units, and the chosen method item.
func (sm *ShipmentManager) BuildShipmentRequest(ctx context.Context, o model.Order) (model.ShipmentRequest, error) {
	methodType := o.GetMeta(model.MetaMethodType)
	itemID := o.GetMeta(model.MetaMethodItemID)
	if methodType == "" || itemID == "" {
		return model.ShipmentRequest{}, fmt.Errorf("order %s has no shipping method selected", o.ID)
	}
	if _, err := sm.Store.GetItem(ctx, itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.ShipmentRequest{}, fmt.Errorf("shipping method item %s is no longer available", itemID)
		}
		return model.ShipmentRequest{}, err
	}
	addr := StandardizeAddress(o.Billing, o.Shipping)
	return model.ShipmentRequest{
		Receiver:          buildReceiver(addr),
		Parcels:           sm.BuildParcels(o.Items),
		ShippingMethod:    model.ShipmentMethod{Type: methodType, ID: itemID},
		MerchantReference: o.Number,
		Metadata:          map[string]string{"orderId": o.ID},
	}, nil
}

func buildReceiver(a model.Address) model.ShipmentReceiver {
	return model.ShipmentReceiver{
		Name:          strings.TrimSpace(a.FirstName + " " + a.LastName),
		CompanyName:   a.Company,
		Country:       a.Country,
		PhoneNumber:   a.PhoneNumber,
		PhoneCountry:  a.PhoneCountry,
		Email:         a.Email,
		StreetAddress: strings.TrimSpace(a.StreetAddress1 + " " + a.StreetAddress2),
		PostalCode:    a.PostalCode,
		Locality:      a.Locality,
		Region:        a.Region,
	}
}

// BuildParcels turns order lines into parcels. Lines flagged for separate
// labels ship one parcel per unit with that line's dimensions; everything
// else accumulates into a single combined parcel.
func (sm *ShipmentManager) BuildParcels(items []model.LineItem) []model.Parcel {
	parcels := []model.Parcel{}
	combined := 0.0
	hasCombined := false
	for _, it := range items {
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		w := WeightKg(it.Weight, sm.WeightUnit)
		if it.SeparateLabel {
			p := model.Parcel{
				Weight: w,
				Length: DimensionM(it.Length, sm.DimensionUnit),
				Width:  DimensionM(it.Width, sm.DimensionUnit),
				Height: DimensionM(it.Height, sm.DimensionUnit),
			}
			if p.Weight <= 0 {
				p.Weight = defaultParcelWeightKg
			}
			for i := 0; i < qty; i++ {
				parcels = append(parcels, p)
			}
			continue
		}
		hasCombined = true
		combined += w * float64(qty)
	}
	if hasCombined || len(parcels) == 0 {
		if combined <= 0 {
			combined = defaultParcelWeightKg
		}
		parcels = append(parcels, model.Parcel{Weight: combined})
	}
	return parcels
}

// failOrder records a shipment failure as order meta plus a readable note.
func (sm *ShipmentManager) failOrder(ctx context.Context, orderID, status string, cause error) {
	if err := sm.Store.SetOrderMeta(ctx, orderID, map[string]string{model.MetaShipmentStatus: status}); err != nil {
		log.Printf("shipment: mark order %s %s: %v", orderID, status, err)
	}
	note := fmt.Sprintf("Shipment %s: %s", status, FailureMessage(cause))
	if err := sm.Store.AddOrderNote(ctx, orderID, note); err != nil {
		log.Printf("shipment: note on order %s: %v", orderID, err)
	}
}

// FailureMessage extracts a readable message from an aggregator error. The
// API usually answers with {"message": ..., "error": ...}; anything else
// falls back to the raw body or the error string.
func FailureMessage(err error) string {
	var apiErr *shippingapi.APIError
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if jsonErr := json.Unmarshal(apiErr.Body, &body); jsonErr == nil {
		parts := []string{}
		if body.Message != "" {
			parts = append(parts, body.Message)
		}
		if body.Error != "" && body.Error != body.Message {
			parts = append(parts, body.Error)
		}
		if len(parts) > 0 {
			return strings.Join(parts, ": ")
		}
	}
	if len(apiErr.Body) > 0 {
		return strings.TrimSpace(string(apiErr.Body))
	}
	return err.Error()
}

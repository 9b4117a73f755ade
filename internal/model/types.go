package model

// Shipping method types as the aggregator API names them.
const (
	MethodTypeParcelMachine = "parcelMachine"
	MethodTypePostOffice    = "postOffice"
	MethodTypeParcelShop    = "parcelShop"
	MethodTypeCourier       = "courier"
	// MethodTypePickupPoint is the consolidated type stored on orders for all
	// pickup-point-based methods (parcelMachine, postOffice, parcelShop).
	MethodTypePickupPoint = "pickupPoint"
)

// Shipment statuses tracked on order metadata.
const (
	ShipmentStatusRegistered         = "registered"
	ShipmentStatusRegistrationFailed = "registrationFailed"
	ShipmentStatusCreationFailed     = "creationFailed"
	ShipmentStatusUpdateFailed       = "updateFailed"
)

// Order meta keys used by the shipping pipeline.
const (
	MetaShipmentID      = "shipping_shipment_id"
	MetaShipmentStatus  = "shipping_shipment_status"
	MetaMethodType      = "shipping_method_type"
	MetaMethodItemID    = "shipping_method_item_id"
	MetaPickupPointName = "shipping_pickup_point_name"
	MetaTrackingInfo    = "shipping_tracking_info"
	MetaLabelPrinted    = "shipping_label_printed"
)

// MethodItem is one row of the local pickup-point/courier-service cache.
type MethodItem struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	MethodType    string `json:"methodType"`
	StreetAddress string `json:"streetAddress,omitempty"`
	Locality      string `json:"locality,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	CarrierCode   string `json:"carrierCode"`
	CountryCode   string `json:"countryCode"`
}

// LocalityGroup is a set of cached items sharing a locality. Groups are
// rendered most-populated first in checkout dropdowns.
type LocalityGroup struct {
	Locality string       `json:"locality"`
	Items    []MethodItem `json:"items"`
}

// Catalog is the carrier/country/method catalog returned by the remote
// GET /shipping-methods endpoint.
type Catalog struct {
	Countries []CatalogCountry `json:"countries"`
}

type CatalogCountry struct {
	CountryCode string           `json:"countryCode"`
	Carriers    []CatalogCarrier `json:"carriers"`
}

type CatalogCarrier struct {
	CarrierCode string `json:"carrierCode"`
	// ShippingMethods groups concrete method types, e.g.
	// [{"parcelMachine": ["parcelMachine"]}, {"courier": ["courier"]}].
	ShippingMethods []map[string][]string `json:"shippingMethods"`
}

// ItemListResponse is the body of the remote pickup-points / courier-services
// endpoints. Exactly one of the two slices is populated per call.
type ItemListResponse struct {
	CountryCode     string    `json:"countryCode"`
	PickupPoints    []APIItem `json:"pickupPoints,omitempty"`
	CourierServices []APIItem `json:"courierServices,omitempty"`
}

// APIItem is a single pickup point or courier service as the remote API
// returns it.
type APIItem struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	StreetAddress string `json:"streetAddress"`
	Locality      string `json:"locality"`
	PostalCode    string `json:"postalCode"`
	CarrierCode   string `json:"carrierCode"`
}

// Address holds one side (billing or shipping) of an order's contact data.
type Address struct {
	FirstName      string `json:"firstName,omitempty"`
	LastName       string `json:"lastName,omitempty"`
	Company        string `json:"company,omitempty"`
	StreetAddress1 string `json:"streetAddress1,omitempty"`
	StreetAddress2 string `json:"streetAddress2,omitempty"`
	Locality       string `json:"locality,omitempty"`
	Region         string `json:"region,omitempty"`
	PostalCode     string `json:"postalCode,omitempty"`
	Country        string `json:"country,omitempty"`
	PhoneCountry   string `json:"phoneCountry,omitempty"`
	PhoneNumber    string `json:"phoneNumber,omitempty"`
	Email          string `json:"email,omitempty"`
}

// LineItem is one purchasable line on an order, with physical attributes in
// store units.
type LineItem struct {
	Name          string  `json:"name"`
	Quantity      int     `json:"quantity"`
	Weight        float64 `json:"weight"`
	Length        float64 `json:"length,omitempty"`
	Width         float64 `json:"width,omitempty"`
	Height        float64 `json:"height,omitempty"`
	SeparateLabel bool    `json:"separateLabel,omitempty"`
}

// Order is the slice of the commerce order the shipping pipeline needs.
type Order struct {
	ID       string            `json:"id"`
	Number   string            `json:"number"`
	Status   string            `json:"status"`
	Billing  Address           `json:"billing"`
	Shipping Address           `json:"shipping"`
	Items    []LineItem        `json:"items"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// GetMeta returns the order meta value for key, or "" when unset.
func (o Order) GetMeta(key string) string {
	if o.Meta == nil {
		return ""
	}
	return o.Meta[key]
}

// ShipmentReceiver is the receiver block of a shipment create/update payload.
type ShipmentReceiver struct {
	Name          string `json:"name"`
	CompanyName   string `json:"companyName,omitempty"`
	Country       string `json:"country"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
	PhoneCountry  string `json:"phoneCountry,omitempty"`
	Email         string `json:"email,omitempty"`
	StreetAddress string `json:"streetAddress,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	Locality      string `json:"locality,omitempty"`
	Region        string `json:"region,omitempty"`
}

// Parcel is a single physical parcel of a shipment. Weight in kilograms,
// dimensions in meters.
type Parcel struct {
	Weight float64 `json:"weight"`
	Length float64 `json:"length,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// ShipmentMethod selects the delivery method item for a shipment.
type ShipmentMethod struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ShipmentRequest is the outbound POST/PATCH /shipments body.
type ShipmentRequest struct {
	Receiver          ShipmentReceiver  `json:"receiver"`
	Parcels           []Parcel          `json:"parcels"`
	ShippingMethod    ShipmentMethod    `json:"shippingMethod"`
	MerchantReference string            `json:"merchantReference,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Shipment is the remote shipment record as echoed back by the API.
type Shipment struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// WebhookParcel appears in shipment.registered webhook payloads.
type WebhookParcel struct {
	CarrierParcelID string `json:"carrierParcelId"`
	TrackingLink    string `json:"trackingLink"`
}

// WebhookError is a node of the nested error tree delivered with
// shipment.registrationFailed events.
type WebhookError struct {
	Message     string         `json:"message,omitempty"`
	Description string         `json:"description,omitempty"`
	Cause       []WebhookError `json:"cause,omitempty"`
}

// WebhookData carries the event-specific fields of a webhook payload token.
type WebhookData struct {
	Parcels     []WebhookParcel `json:"parcels,omitempty"`
	Errors      []WebhookError  `json:"errors,omitempty"`
	ShipmentIDs []string        `json:"shipmentIds,omitempty"`
	LabelFileID string          `json:"labelFileId,omitempty"`
}

// WebhookPayload is the decoded claims blob of an inbound webhook token.
type WebhookPayload struct {
	EventType  string      `json:"eventType"`
	ShipmentID string      `json:"shipmentId,omitempty"`
	Data       WebhookData `json:"data"`
}

// LabelFile is the remote label-file record.
type LabelFile struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	URL         string   `json:"url,omitempty"`
	ShipmentIDs []string `json:"shipmentIds,omitempty"`
}

// RegisteredWebhook is one entry of the remote webhook registry.
type RegisteredWebhook struct {
	ID            string   `json:"id,omitempty"`
	URL           string   `json:"url"`
	EnabledEvents []string `json:"enabledEvents,omitempty"`
}

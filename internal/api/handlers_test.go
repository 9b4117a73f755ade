package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shipsync/internal/config"
	"shipsync/internal/model"
	"shipsync/internal/shipping"
	"shipsync/internal/token"
)

const (
	testAccessKey = "ak_test"
	testSecretKey = "sk_test"
	testItemID    = "3f1a0e9c-0000-0000-0000-000000000001"
)

// newAggregator serves a minimal fake of the remote shipping API.
func newAggregator(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/shipping-methods", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.Catalog{Countries: []model.CatalogCountry{
			{CountryCode: "EE", Carriers: []model.CatalogCarrier{{
				CarrierCode:     "omniva",
				ShippingMethods: []map[string][]string{{"parcelMachine": {"parcelMachine"}}},
			}}},
		}})
	})
	mux.HandleFunc("/shipping-methods/pickup-points", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.ItemListResponse{
			CountryCode: "EE",
			PickupPoints: []model.APIItem{
				{ID: testItemID, Name: "Tallinn Kaubamaja", Type: "parcelMachine", StreetAddress: "Gonsiori 2", Locality: "Tallinn", PostalCode: "10143"},
			},
		})
	})
	mux.HandleFunc("/shipments", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.Shipment{ID: "sh_100", Status: "pending"})
	})
	mux.HandleFunc("/shipments/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.Shipment{ID: strings.TrimPrefix(r.URL.Path, "/shipments/"), Status: model.ShipmentStatusRegistered})
	})
	mux.HandleFunc("/webhooks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(model.RegisteredWebhook{ID: "wh_1"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"webhooks": []model.RegisteredWebhook{}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	agg := newAggregator(t)
	s, err := NewServer(config.Config{
		AccessKey:     testAccessKey,
		SecretKey:     testSecretKey,
		APIBaseURL:    agg.URL,
		PublicBaseURL: "http://localhost:8080",
		WeightUnit:    "kg",
		DimensionUnit: "cm",
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func adminToken(t *testing.T) string {
	t.Helper()
	tok, err := token.Sign(token.Claims{"accessKey": testAccessKey}, testSecretKey, time.Hour, nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func adminReq(t *testing.T, method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	return req
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
}

func TestSyncEndpoint(t *testing.T) {
	s := newTestServer(t)
	tok, err := s.Syncer.TriggerToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	body, _ := json.Marshal(map[string]string{"token": tok})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/shipping/v2/sync-shipping-method-items", bytes.NewReader(body))
	s.SyncHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("sync: got %d: %s", rr.Code, rr.Body.String())
	}
	var res shipping.SyncResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Synced != 1 || res.Items != 1 {
		t.Fatalf("result = %+v", res)
	}
	// The cache is now queryable.
	rr = httptest.NewRecorder()
	s.MethodItemsHandler(rr, httptest.NewRequest(http.MethodGet, "/shipping/v2/shipping-method-items?carrier=omniva&country=EE&method_type=parcelMachine", nil))
	if rr.Code != 200 {
		t.Fatalf("items: got %d", rr.Code)
	}
	var out struct {
		Localities []model.LocalityGroup `json:"localities"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Localities) != 1 || out.Localities[0].Locality != "Tallinn" {
		t.Fatalf("localities = %+v", out.Localities)
	}
}

func TestSyncEndpointRejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"token": "garbage"})
	rr := httptest.NewRecorder()
	s.SyncHandler(rr, httptest.NewRequest(http.MethodPost, "/shipping/v2/sync-shipping-method-items", bytes.NewReader(body)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("got %d", rr.Code)
	}
}

func TestSyncEndpointLocked(t *testing.T) {
	s := newTestServer(t)
	if ok, _ := s.Store.AcquireLock(context.Background(), shipping.SyncLockName, shipping.SyncLockTTL); !ok {
		t.Fatal("lock")
	}
	tok, _ := s.Syncer.TriggerToken()
	body, _ := json.Marshal(map[string]string{"token": tok})
	rr := httptest.NewRecorder()
	s.SyncHandler(rr, httptest.NewRequest(http.MethodPost, "/shipping/v2/sync-shipping-method-items", bytes.NewReader(body)))
	if rr.Code != http.StatusConflict {
		t.Fatalf("got %d, want 409", rr.Code)
	}
}

func TestMethodItemsValidation(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.MethodItemsHandler(rr, httptest.NewRequest(http.MethodGet, "/shipping/v2/shipping-method-items?carrier=omniva", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d", rr.Code)
	}
}

func seedTestOrder(t *testing.T, s *Server) model.Order {
	t.Helper()
	if err := s.Store.ReplaceItems(context.Background(), "EE", "omniva", "parcelMachine", []model.MethodItem{
		{ID: testItemID, Name: "Tallinn Kaubamaja", Type: "parcelMachine", StreetAddress: "Gonsiori 2", Locality: "Tallinn", PostalCode: "10143"},
	}); err != nil {
		t.Fatalf("seed items: %v", err)
	}
	o, err := s.Store.CreateOrder(context.Background(), model.Order{
		Number:  "1001",
		Billing: model.Address{FirstName: "Mari", LastName: "Maasikas", StreetAddress1: "Kai 1", Locality: "Tallinn", PostalCode: "10111", Country: "EE"},
		Items:   []model.LineItem{{Name: "Mug", Quantity: 1, Weight: 0.4}},
		Meta: map[string]string{
			model.MetaMethodType:   model.MethodTypePickupPoint,
			model.MetaMethodItemID: testItemID,
		},
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func TestShipmentCreateEndpoint(t *testing.T) {
	s := newTestServer(t)
	o := seedTestOrder(t, s)
	body, _ := json.Marshal(map[string]string{"orderId": o.ID})
	rr := httptest.NewRecorder()
	s.ShipmentCreateHandler(rr, adminReq(t, http.MethodPost, "/shipping/v2/shipment/create", body))
	if rr.Code != 200 {
		t.Fatalf("create: got %d: %s", rr.Code, rr.Body.String())
	}
	got, _ := s.Store.GetOrder(context.Background(), o.ID)
	if got.GetMeta(model.MetaShipmentID) != "sh_100" {
		t.Fatalf("meta = %v", got.Meta)
	}
}

func TestShipmentEndpointsRequireAuth(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"orderId":"1"}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/shipping/v2/shipment/create", bytes.NewReader(body))
	s.ShipmentCreateHandler(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rr.Code)
	}
	// Wrong access key in an otherwise valid token.
	tok, _ := token.Sign(token.Claims{"accessKey": "someone-else"}, testSecretKey, time.Hour, nil)
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/shipping/v2/shipment/create", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	s.ShipmentCreateHandler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("got %d, want 403", rr.Code)
	}
}

func TestWebhookEndpoint(t *testing.T) {
	s := newTestServer(t)
	o := seedTestOrder(t, s)
	if err := s.Store.SetOrderMeta(context.Background(), o.ID, map[string]string{model.MetaShipmentID: "sh_100"}); err != nil {
		t.Fatalf("meta: %v", err)
	}
	payload, err := token.Sign(token.Claims{
		"eventType":  shipping.EventShipmentRegistered,
		"shipmentId": "sh_100",
		"data": map[string]any{
			"parcels": []map[string]string{{"carrierParcelId": "CC1", "trackingLink": "https://track.example.com/CC1"}},
		},
	}, testSecretKey, time.Minute, nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	body, _ := json.Marshal(map[string]string{"payload": payload})
	rr := httptest.NewRecorder()
	s.WebhookHandler(rr, httptest.NewRequest(http.MethodPost, "/shipping/v2/webhook", bytes.NewReader(body)))
	if rr.Code != 200 {
		t.Fatalf("webhook: got %d: %s", rr.Code, rr.Body.String())
	}
	got, _ := s.Store.GetOrder(context.Background(), o.ID)
	if got.GetMeta(model.MetaShipmentStatus) != model.ShipmentStatusRegistered {
		t.Fatalf("status = %q", got.GetMeta(model.MetaShipmentStatus))
	}
}

func TestWebhookEndpointBadBody(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.WebhookHandler(rr, httptest.NewRequest(http.MethodPost, "/shipping/v2/webhook", strings.NewReader("{")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d", rr.Code)
	}
}

func TestOrderSelectItem(t *testing.T) {
	s := newTestServer(t)
	o := seedTestOrder(t, s)
	body, _ := json.Marshal(map[string]string{"itemId": testItemID})
	rr := httptest.NewRecorder()
	s.OrderHandler(rr, adminReq(t, http.MethodPost, "/shipping/v2/orders/"+o.ID+"/select-item", body))
	if rr.Code != 200 {
		t.Fatalf("select-item: got %d: %s", rr.Code, rr.Body.String())
	}
	got, _ := s.Store.GetOrder(context.Background(), o.ID)
	if got.Shipping.StreetAddress1 != "Gonsiori 2" || got.Shipping.Locality != "Tallinn" || got.Shipping.PostalCode != "10143" {
		t.Fatalf("shipping address not copied: %+v", got.Shipping)
	}
	if got.GetMeta(model.MetaPickupPointName) != "Tallinn Kaubamaja" {
		t.Fatalf("meta = %v", got.Meta)
	}
	if got.GetMeta(model.MetaMethodType) != model.MethodTypePickupPoint {
		t.Fatalf("method type = %q", got.GetMeta(model.MetaMethodType))
	}
}

func TestOrderSelectCourierByCarrier(t *testing.T) {
	s := newTestServer(t)
	o := seedTestOrder(t, s)
	courierID := "3f1a0e9c-0000-0000-0000-000000000002"
	if err := s.Store.ReplaceItems(context.Background(), "EE", "omniva", model.MethodTypeCourier, []model.MethodItem{
		{ID: courierID, Name: "Omniva courier", Type: model.MethodTypeCourier},
	}); err != nil {
		t.Fatalf("seed courier: %v", err)
	}
	body, _ := json.Marshal(map[string]string{"carrier": "omniva"})
	rr := httptest.NewRecorder()
	s.OrderHandler(rr, adminReq(t, http.MethodPost, "/shipping/v2/orders/"+o.ID+"/select-item", body))
	if rr.Code != 200 {
		t.Fatalf("select courier: got %d: %s", rr.Code, rr.Body.String())
	}
	got, _ := s.Store.GetOrder(context.Background(), o.ID)
	if got.GetMeta(model.MetaMethodItemID) != courierID {
		t.Fatalf("item id = %q", got.GetMeta(model.MetaMethodItemID))
	}
	if got.GetMeta(model.MetaMethodType) != model.MethodTypeCourier {
		t.Fatalf("method type = %q", got.GetMeta(model.MetaMethodType))
	}
	// Courier selection leaves the shipping address alone.
	if got.Shipping.StreetAddress1 != "" {
		t.Fatalf("shipping address touched: %+v", got.Shipping)
	}
}

func TestShipmentStatusEndpoint(t *testing.T) {
	s := newTestServer(t)
	o := seedTestOrder(t, s)
	_ = s.Store.SetOrderMeta(context.Background(), o.ID, map[string]string{
		model.MetaShipmentID:     "sh_100",
		model.MetaShipmentStatus: model.ShipmentStatusRegistered,
		model.MetaTrackingInfo:   `["https://track.example.com/find?ids=CC1,EE"]`,
	})
	rr := httptest.NewRecorder()
	s.ShipmentStatusHandler(rr, adminReq(t, http.MethodGet, "/shipping/v2/shipment/status?order_id="+o.ID, nil))
	if rr.Code != 200 {
		t.Fatalf("status: got %d", rr.Code)
	}
	var out struct {
		Status        string   `json:"status"`
		TrackingLinks []string `json:"trackingLinks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != model.ShipmentStatusRegistered || len(out.TrackingLinks) != 1 {
		t.Fatalf("out = %+v", out)
	}
	if out.TrackingLinks[0] != "https://track.example.com/find?ids=CC1,EE" {
		t.Fatalf("tracking link mangled: %q", out.TrackingLinks[0])
	}
}

func TestOrderStatusPaymentComplete(t *testing.T) {
	s := newTestServer(t)
	o := seedTestOrder(t, s)
	body, _ := json.Marshal(map[string]string{"status": "processing"})
	rr := httptest.NewRecorder()
	s.OrderHandler(rr, adminReq(t, http.MethodPost, "/shipping/v2/orders/"+o.ID+"/status", body))
	if rr.Code != 200 {
		t.Fatalf("status: got %d: %s", rr.Code, rr.Body.String())
	}
	var out struct {
		Status          string `json:"status"`
		ShipmentCreated bool   `json:"shipmentCreated"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "processing" || !out.ShipmentCreated {
		t.Fatalf("out = %+v", out)
	}
	got, _ := s.Store.GetOrder(context.Background(), o.ID)
	if got.Status != "processing" || got.GetMeta(model.MetaShipmentID) != "sh_100" {
		t.Fatalf("order = status %q meta %v", got.Status, got.Meta)
	}
	// Replaying the transition keeps the existing shipment.
	rr = httptest.NewRecorder()
	s.OrderHandler(rr, adminReq(t, http.MethodPost, "/shipping/v2/orders/"+o.ID+"/status", body))
	if rr.Code != 200 {
		t.Fatalf("replay: got %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ShipmentCreated {
		t.Fatal("replayed transition created another shipment")
	}
}

func TestShipmentUpdateWithoutShipmentIsCallerError(t *testing.T) {
	s := newTestServer(t)
	o := seedTestOrder(t, s)
	body, _ := json.Marshal(map[string]string{"orderId": o.ID})
	rr := httptest.NewRecorder()
	s.ShipmentUpdateHandler(rr, adminReq(t, http.MethodPost, "/shipping/v2/shipment/update", body))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

func TestOTASyncEndpoint(t *testing.T) {
	s := newTestServer(t)
	tok, err := shipping.SignURLToken(s.Cfg.PublicBaseURL+"/shipping/v2/ota-sync", testSecretKey, nil)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	body, _ := json.Marshal(map[string]string{"token": tok})
	rr := httptest.NewRecorder()
	s.OTASyncHandler(rr, httptest.NewRequest(http.MethodPost, "/shipping/v2/ota-sync", bytes.NewReader(body)))
	if rr.Code != 200 {
		t.Fatalf("ota: got %d: %s", rr.Code, rr.Body.String())
	}
	var out struct {
		Steps map[string]string `json:"steps"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Steps["catalogSync"] != "ok" || out.Steps["webhookRegistration"] != "ok" {
		t.Fatalf("steps = %v", out.Steps)
	}
	hash, err := s.Store.GetOption(context.Background(), "shipping_webhook_registration")
	if err != nil || hash == "" {
		t.Fatalf("registration hash not stored: %q err=%v", hash, err)
	}
}

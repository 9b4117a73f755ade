package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"shipsync/internal/metrics"
	"shipsync/internal/model"
	"shipsync/internal/shipping"
)

// HealthHandler answers liveness probes.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SyncHandler handles POST /shipping/v2/sync-shipping-method-items. The body
// carries a self-signed trigger token; the advisory lock makes concurrent
// triggers collapse to one running sync.
func (s *Server) SyncHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := s.Syncer.VerifyTrigger(req.Token); err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid sync token", r.URL.Path)
		return
	}
	ok, err := s.Store.AcquireLock(r.Context(), shipping.SyncLockName, shipping.SyncLockTTL)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Lock failed", err.Error(), r.URL.Path)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "locked"})
		return
	}
	// The triggering client has long since timed out; run with our own
	// deadline instead of the request's.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	defer func() { _ = s.Store.ReleaseLock(ctx, shipping.SyncLockName) }()
	res, err := s.Syncer.SyncAll(ctx)
	if err != nil {
		writeProblem(w, http.StatusBadGateway, "Sync failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// OTASyncHandler handles POST /shipping/v2/ota-sync: a remotely triggered
// maintenance pass running catalog sync and webhook registration, reporting
// per-step outcomes.
func (s *Server) OTASyncHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	otaURL := s.Cfg.PublicBaseURL + "/shipping/v2/ota-sync"
	if err := shipping.VerifyURLToken(req.Token, otaURL, s.Cfg.SecretKey, nil); err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid ota token", r.URL.Path)
		return
	}
	steps := map[string]string{}
	if res, err := s.Syncer.SyncAll(r.Context()); err != nil {
		steps["catalogSync"] = "failed: " + err.Error()
	} else if res.Failed > 0 {
		steps["catalogSync"] = "partial"
	} else {
		steps["catalogSync"] = "ok"
	}
	if err := s.Registrar.EnsureRegistered(r.Context(), true); err != nil {
		steps["webhookRegistration"] = "failed: " + err.Error()
	} else {
		steps["webhookRegistration"] = "ok"
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

// WebhookHandler handles POST /shipping/v2/webhook from the aggregator.
func (s *Server) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Read failed", err.Error(), r.URL.Path)
		return
	}
	if err := s.Webhooks.Handle(r.Context(), body); err != nil {
		status := shipping.StatusFromError(err)
		writeProblem(w, status, "Webhook rejected", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MethodItemsHandler handles GET /shipping/v2/shipping-method-items, the
// checkout dropdown feed: cached items grouped by locality. A hit also
// nudges the background sync when the cache has gone stale.
func (s *Server) MethodItemsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	country, carrier, methodType := q.Get("country"), q.Get("carrier"), q.Get("method_type")
	if carrier == "" || country == "" {
		writeProblem(w, http.StatusBadRequest, "Missing parameters", "carrier and country are required", r.URL.Path)
		return
	}
	s.Syncer.MaybeSync(r.Context())
	groups, err := s.Store.ItemsGroupedByLocality(r.Context(), country, carrier, methodType)
	if err != nil {
		writeStoreError(w, err, "List items failed", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"localities": groups})
}

// CountriesHandler handles GET /shipping/v2/shipping-method-items/countries.
func (s *Server) CountriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	carrier, methodType := q.Get("carrier"), q.Get("method_type")
	if carrier == "" || methodType == "" {
		writeProblem(w, http.StatusBadRequest, "Missing parameters", "carrier and method_type are required", r.URL.Path)
		return
	}
	countries, err := s.Store.AvailableCountries(r.Context(), carrier, methodType)
	if err != nil {
		writeStoreError(w, err, "List countries failed", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"countries": countries})
}

// ShipmentCreateHandler handles POST /shipping/v2/shipment/create.
func (s *Server) ShipmentCreateHandler(w http.ResponseWriter, r *http.Request) {
	s.shipmentOp(w, r, "create", s.Shipments.CreateShipment)
}

// ShipmentUpdateHandler handles POST /shipping/v2/shipment/update.
func (s *Server) ShipmentUpdateHandler(w http.ResponseWriter, r *http.Request) {
	s.shipmentOp(w, r, "update", s.Shipments.UpdateShipment)
}

func (s *Server) shipmentOp(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) (model.Shipment, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	var req struct {
		OrderID string `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", "orderId required", r.URL.Path)
		return
	}
	sh, err := fn(r.Context(), req.OrderID)
	if err != nil {
		metrics.ShipmentOps.WithLabelValues(op, "error").Inc()
		writeStoreError(w, err, "Shipment "+op+" failed", r.URL.Path)
		return
	}
	metrics.ShipmentOps.WithLabelValues(op, "ok").Inc()
	writeJSON(w, http.StatusOK, sh)
}

// ShipmentStatusHandler handles GET /shipping/v2/shipment/status?order_id=.
func (s *Server) ShipmentStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing parameters", "order_id is required", r.URL.Path)
		return
	}
	o, err := s.Store.GetOrder(r.Context(), orderID)
	if err != nil {
		writeStoreError(w, err, "Order lookup failed", r.URL.Path)
		return
	}
	var tracking []string
	if t := o.GetMeta(model.MetaTrackingInfo); t != "" {
		if err := json.Unmarshal([]byte(t), &tracking); err != nil {
			tracking = []string{t}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orderId":       o.ID,
		"shipmentId":    o.GetMeta(model.MetaShipmentID),
		"status":        o.GetMeta(model.MetaShipmentStatus),
		"trackingLinks": tracking,
		"labelPrinted":  o.GetMeta(model.MetaLabelPrinted) == "yes",
	})
}

// OrderHandler handles the order substrate:
//
//	POST /shipping/v2/orders/                 create
//	GET  /shipping/v2/orders/{id}             fetch
//	POST /shipping/v2/orders/{id}/select-item choose a pickup point
//	POST /shipping/v2/orders/{id}/status      transition order status
func (s *Server) OrderHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/shipping/v2/orders/")
	if rest == "" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var o model.Order
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		created, err := s.Store.CreateOrder(r.Context(), o)
		if err != nil {
			writeStoreError(w, err, "Create order failed", r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, created)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		o, err := s.Store.GetOrder(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, "Order lookup failed", r.URL.Path)
			return
		}
		notes, _ := s.Store.ListOrderNotes(r.Context(), id)
		writeJSON(w, http.StatusOK, map[string]any{"order": o, "notes": notes})
		return
	}
	if len(parts) == 2 && parts[1] == "select-item" {
		s.selectItem(w, r, id)
		return
	}
	if len(parts) == 2 && parts[1] == "status" {
		s.updateStatus(w, r, id)
		return
	}
	writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
}

// selectItem stores the chosen method item on the order and, for pickup
// points, copies the point's address over the shipping address so the
// carrier routes to the machine rather than the customer's home. Courier
// selections carry a carrier code instead of an item id; the cached courier
// service for the order's country resolves the item.
func (s *Server) selectItem(w http.ResponseWriter, r *http.Request, orderID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ItemID  string `json:"itemId"`
		Carrier string `json:"carrier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.ItemID == "" && req.Carrier == "") {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", "itemId or carrier required", r.URL.Path)
		return
	}
	o, err := s.Store.GetOrder(r.Context(), orderID)
	if err != nil {
		writeStoreError(w, err, "Order lookup failed", r.URL.Path)
		return
	}
	if req.ItemID == "" {
		country := o.Shipping.Country
		if country == "" {
			country = o.Billing.Country
		}
		id, err := s.Store.GetCourierItemID(r.Context(), country, req.Carrier)
		if err != nil {
			writeStoreError(w, err, "Courier service lookup failed", r.URL.Path)
			return
		}
		req.ItemID = id
	}
	item, err := s.Store.GetItem(r.Context(), req.ItemID)
	if err != nil {
		writeStoreError(w, err, "Method item lookup failed", r.URL.Path)
		return
	}
	methodType := model.MethodTypePickupPoint
	meta := map[string]string{model.MetaMethodItemID: item.ID}
	if item.MethodType == model.MethodTypeCourier {
		methodType = model.MethodTypeCourier
	} else {
		meta[model.MetaPickupPointName] = item.Name
		o.Shipping.StreetAddress1 = item.StreetAddress
		o.Shipping.StreetAddress2 = ""
		o.Shipping.Locality = item.Locality
		o.Shipping.PostalCode = item.PostalCode
		o.Shipping.Country = item.CountryCode
		if err := s.Store.UpdateOrder(r.Context(), o); err != nil {
			writeStoreError(w, err, "Order update failed", r.URL.Path)
			return
		}
	}
	meta[model.MetaMethodType] = methodType
	if err := s.Store.SetOrderMeta(r.Context(), orderID, meta); err != nil {
		writeStoreError(w, err, "Order update failed", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": orderID, "item": item, "methodType": methodType})
}

// updateStatus transitions the order status. Reaching a paid status creates
// the shipment, mirroring the commerce side's payment-complete hook; orders
// that already carry a shipment or tracking codes are left alone. A shipment
// failure annotates the order but does not fail the status transition.
func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request, orderID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", "status required", r.URL.Path)
		return
	}
	o, err := s.Store.GetOrder(r.Context(), orderID)
	if err != nil {
		writeStoreError(w, err, "Order lookup failed", r.URL.Path)
		return
	}
	o.Status = req.Status
	if err := s.Store.UpdateOrder(r.Context(), o); err != nil {
		writeStoreError(w, err, "Order update failed", r.URL.Path)
		return
	}
	shipmentCreated := false
	if shipping.PaymentComplete(req.Status) {
		if _, created, err := s.Shipments.HandlePaymentComplete(r.Context(), orderID); err != nil {
			log.Printf("payment complete: shipment for order %s: %v", orderID, err)
		} else {
			shipmentCreated = created
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orderId":         orderID,
		"status":          req.Status,
		"shipmentCreated": shipmentCreated,
	})
}

// LabelsCreateHandler handles POST /shipping/v2/labels/create.
func (s *Server) LabelsCreateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	var req struct {
		OrderIDs []string `json:"orderIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	lf, err := s.Labels.CreateLabels(r.Context(), req.OrderIDs)
	if err != nil {
		writeStoreError(w, err, "Label creation failed", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, lf)
}

// LabelsGetHandler handles GET /shipping/v2/labels?label_file_id=.
func (s *Server) LabelsGetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	id := r.URL.Query().Get("label_file_id")
	if id == "" {
		writeProblem(w, http.StatusBadRequest, "Missing parameters", "label_file_id is required", r.URL.Path)
		return
	}
	lf, err := s.Labels.GetLabelFile(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "Label lookup failed", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, lf)
}

// LabelsMarkDownloadedHandler handles POST /shipping/v2/labels/mark-as-downloaded.
func (s *Server) LabelsMarkDownloadedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	var req struct {
		OrderIDs []string `json:"orderIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := s.Labels.MarkDownloaded(r.Context(), req.OrderIDs); err != nil {
		writeStoreError(w, err, "Mark downloaded failed", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

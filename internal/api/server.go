package api

import (
	"context"
	"log"
	"net/http"
	"strings"

	"shipsync/internal/config"
	"shipsync/internal/shipping"
	"shipsync/internal/shippingapi"
	"shipsync/internal/store"
)

type Server struct {
	Cfg       config.Config
	Store     store.Store
	Broker    EventBroker
	Syncer    *shipping.Syncer
	Shipments *shipping.ShipmentManager
	Webhooks  *shipping.WebhookDispatcher
	Labels    *shipping.LabelManager
	Registrar *shipping.Registrar
}

// NewServer wires the store, broker and shipping pipeline from cfg. With no
// DATABASE_URL the in-memory store is used.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := sp.MigrateDir(context.Background(), "db/migrations"); err != nil {
			return nil, err
		}
		s = sp
	}
	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			log.Printf("redis broker unavailable, falling back to memory: %v", err)
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	client := shippingapi.New(cfg.APIBaseURL, cfg.AccessKey, cfg.SecretKey)
	srv := &Server{
		Cfg:       cfg,
		Store:     s,
		Broker:    broker,
		Syncer:    shipping.NewSyncer(s, client, cfg.SecretKey, cfg.PublicBaseURL+"/shipping/v2/sync-shipping-method-items"),
		Shipments: shipping.NewShipmentManager(s, client, cfg.WeightUnit, cfg.DimensionUnit),
		Webhooks:  shipping.NewWebhookDispatcher(s, client, cfg.SecretKey),
		Labels:    shipping.NewLabelManager(s, client),
		Registrar: shipping.NewRegistrar(s, client, cfg.AccessKey, cfg.PublicBaseURL+"/shipping/v2/webhook"),
	}
	sink := brokerSink{broker}
	srv.Shipments.Events = sink
	srv.Webhooks.Events = sink
	return srv, nil
}

// brokerSink adapts the event broker to the shipping pipeline's sink.
type brokerSink struct{ b EventBroker }

func (s brokerSink) PublishOrderEvent(orderID, eventType string, data map[string]any) {
	s.b.Publish(Event{Type: eventType, OrderID: orderID, Data: data})
}

// Routes registers every handler on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/debug", s.DebugJSON)

	mux.HandleFunc("/shipping/v2/sync-shipping-method-items", s.SyncHandler)
	mux.HandleFunc("/shipping/v2/ota-sync", s.OTASyncHandler)
	mux.HandleFunc("/shipping/v2/webhook", s.WebhookHandler)

	mux.HandleFunc("/shipping/v2/shipping-method-items", s.MethodItemsHandler)
	mux.HandleFunc("/shipping/v2/shipping-method-items/countries", s.CountriesHandler)

	mux.HandleFunc("/shipping/v2/shipment/create", s.ShipmentCreateHandler)
	mux.HandleFunc("/shipping/v2/shipment/update", s.ShipmentUpdateHandler)
	mux.HandleFunc("/shipping/v2/shipment/status", s.ShipmentStatusHandler)

	mux.HandleFunc("/shipping/v2/orders/", s.OrderHandler)

	mux.HandleFunc("/shipping/v2/labels/create", s.LabelsCreateHandler)
	mux.HandleFunc("/shipping/v2/labels", s.LabelsGetHandler)
	mux.HandleFunc("/shipping/v2/labels/mark-as-downloaded", s.LabelsMarkDownloadedHandler)

	mux.HandleFunc("/shipping/v2/shipment-events/ws", s.ShipmentEventsWSHandler)
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// SyncRuns counts catalog sync runs by outcome
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "catalog_sync_runs_total", Help: "Catalog sync runs by outcome."},
		[]string{"status"},
	)
	// CachedItems tracks how many method items the last sync cached
	CachedItems = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "catalog_cached_items", Help: "Method items written by the last catalog sync."},
	)
	// WebhookEvents counts inbound webhook events by type and outcome
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_events_total", Help: "Inbound webhook events by type and outcome."},
		[]string{"event_type", "status"},
	)
	// ShipmentOps counts shipment create/update calls by outcome
	ShipmentOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shipment_operations_total", Help: "Shipment operations by kind and outcome."},
		[]string{"op", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(SyncRuns)
		Registry.MustRegister(CachedItems)
		Registry.MustRegister(WebhookEvents)
		Registry.MustRegister(ShipmentOps)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

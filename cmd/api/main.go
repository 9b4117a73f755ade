package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shipsync/internal/api"
	"shipsync/internal/config"
	"shipsync/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	srv, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	metrics.RegisterDefault()

	mux := http.NewServeMux()
	srv.Routes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Keep the item cache fresh and our webhook callback registered.
	srv.Syncer.Start(ctx, cfg.SyncCheckInterval)
	go func() {
		if err := srv.Registrar.EnsureRegistered(ctx, false); err != nil {
			log.Printf("webhook registration: %v", err)
		}
	}()

	handler := api.WithRateLimit(cfg.RateRPS, cfg.RateBurst, api.WithObservability(mux))
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on :%s", cfg.Port)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

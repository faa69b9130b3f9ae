package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/intervoxai/intervox/internal/config"
	"github.com/intervoxai/intervox/internal/observability"
	"github.com/intervoxai/intervox/internal/proxy"
	"github.com/intervoxai/intervox/internal/store"
)

func main() {
	cfg, err := config.LoadProxy()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	latency := observability.NewLatencyWindow(0)

	var records store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("session store init failed: %v", err)
		}
		records = pg
		log.Printf("session store: postgres")
	} else {
		records = store.NewMemoryStore()
		log.Printf("session store: in-memory (set DATABASE_URL to persist)")
	}
	defer records.Close()

	registry := proxy.NewRegistry(cfg.CredentialTTL)
	server := proxy.New(cfg, registry, metrics, latency, records)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: server.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartJanitor(runCtx, time.Minute)

	go func() {
		log.Printf("proxy listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

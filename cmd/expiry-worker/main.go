package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robertarktes/event-ticketing/internal/app"
	"github.com/robertarktes/event-ticketing/internal/config"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

// expiry-worker fails purchases whose payment never completed so their
// inventory and discount uses go back on sale.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	a, err := app.Build(context.Background(), cfg, logger)
	defer a.Close()
	if err != nil {
		log.Fatalf("failed to build app: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.WithFields(map[string]interface{}{
		"ttl":      cfg.PurchaseTTL.String(),
		"interval": cfg.SweepInterval.String(),
	}).Info("expiry worker started")
	a.Sweeper.Run(ctx, cfg.SweepInterval)
	logger.Info("Shutdown expiry worker")
}

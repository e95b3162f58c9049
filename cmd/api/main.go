package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-ticketing/internal/adapters/redis"
	"github.com/robertarktes/event-ticketing/internal/app"
	"github.com/robertarktes/event-ticketing/internal/config"
	apihttp "github.com/robertarktes/event-ticketing/internal/http"
	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/payment"
	"github.com/robertarktes/event-ticketing/internal/rateLimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	a, err := app.Build(context.Background(), cfg, logger)
	defer a.Close()
	if err != nil {
		log.Fatalf("failed to build app: %v", err)
	}

	deps := apihttp.Deps{
		Checkout:  a.Checkout,
		Machine:   a.Machine,
		Inventory: a.Inventory,
		Discounts: a.Discounts,
		Gate:      a.Gate,
		Catalog:   a.Catalog,
		Queries:   a.Store,
		Verifier:  payment.NewWebhookVerifier(cfg.PaymentWebhookSecret, payment.DefaultTolerance),
		Auth:      apihttp.NewAuthenticator(cfg.JWTSecret),
		FeeRate:   cfg.FeeRate,
		Currency:  cfg.Currency,
		Ready:     a.Ping,
	}

	if a.AuditLog != nil {
		deps.Audit = a.AuditLog
	}

	var (
		rl    *rateLimit.RateLimiter
		idemp *idempotency.Idempotency
	)
	if cfg.RedisAddr != "" {
		client := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		cache := redis.NewCache(client)
		a.AddCheck(cache.Ping)
		rl = rateLimit.NewRateLimiter(client, logger)
		idemp = idempotency.NewIdempotency(redis.NewIdempotency(client), 24*time.Hour)
		deps.WebhookLog = redis.NewWebhookLog(client, 72*time.Hour)
	} else {
		logger.Warn("REDIS_ADDR not set, rate limiting and idempotency keys disabled")
	}

	r := apihttp.SetupRouter(apihttp.NewHandlers(deps), logger, rl, idemp)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	logger.Info("Server exiting")
}

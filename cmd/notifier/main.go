package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-ticketing/internal/adapters/rabbit"
	"github.com/robertarktes/event-ticketing/internal/config"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/notify"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

// notifier emails buyers their tickets as tickets.issued events arrive.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.SMTPAddr == "" {
		log.Fatal("SMTP_ADDR is required")
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "notifier")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()

	consumer, err := rabbit.NewConsumer(conn, rabbit.Exchange, "notifier.tickets", []string{domain.EventTicketsIssued}, logger)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	deliverer := notify.NewDeliverer(
		notify.NewQRRenderer(300),
		notify.NewMailer(cfg.SMTPAddr, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom),
		logger,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("notifier started")
	if err := consumer.Consume(ctx, deliverer.HandleMessage); err != nil {
		logger.WithError(err).Error("consumer stopped")
	}
	logger.Info("Shutdown notifier")
}

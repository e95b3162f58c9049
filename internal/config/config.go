package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// MinSecretLen is the shortest JWT_SECRET Load accepts.
const MinSecretLen = 16

type Config struct {
	HTTPAddr     string
	Store        string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTSecret    string
	OTLPEndpoint string

	PurchaseTTL        time.Duration
	SweepInterval      time.Duration
	FeeRate            decimal.Decimal
	Currency           string
	ReserveMaxAttempts int

	PaymentAPIURL        string
	PaymentAPIKey        string
	PaymentWebhookSecret string
	TicketSigningKey     string
	PublicBaseURL        string

	SMTPAddr     string
	SMTPUser     string
	SMTPPassword string
	MailFrom     string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		Store:                getEnv("STORE", "crdb"),
		CRDBDSN:              os.Getenv("CRDB_DSN"),
		MongoURI:             os.Getenv("MONGO_URI"),
		MongoDB:              getEnv("MONGO_DB", "ticketing"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RabbitURL:            os.Getenv("RABBIT_URL"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		PurchaseTTL:          getEnvDuration("PURCHASE_TTL", 30*time.Minute),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", time.Minute),
		Currency:             getEnv("CURRENCY", "MXN"),
		ReserveMaxAttempts:   getEnvInt("RESERVE_MAX_ATTEMPTS", 8),
		PaymentAPIURL:        os.Getenv("PAYMENT_API_URL"),
		PaymentAPIKey:        os.Getenv("PAYMENT_API_KEY"),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		TicketSigningKey:     os.Getenv("TICKET_SIGNING_KEY"),
		PublicBaseURL:        getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		SMTPAddr:             os.Getenv("SMTP_ADDR"),
		SMTPUser:             os.Getenv("SMTP_USER"),
		SMTPPassword:         os.Getenv("SMTP_PASSWORD"),
		MailFrom:             getEnv("MAIL_FROM", "tickets@localhost"),
	}

	fee, err := decimal.NewFromString(getEnv("FEE_RATE", "0.10"))
	if err != nil {
		return nil, errors.Wrap(err, "parse FEE_RATE")
	}
	if fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errors.Newf("FEE_RATE must be in [0, 1), got %s", fee)
	}
	cfg.FeeRate = fee

	if cfg.Store != "crdb" && cfg.Store != "memory" {
		return nil, errors.Newf("unknown STORE %q", cfg.Store)
	}
	if cfg.ReserveMaxAttempts < 1 {
		return nil, errors.New("RESERVE_MAX_ATTEMPTS must be at least 1")
	}
	if len(cfg.JWTSecret) < MinSecretLen {
		return nil, errors.Newf("JWT_SECRET must be at least %d bytes", MinSecretLen)
	}
	if cfg.TicketSigningKey == "" {
		cfg.TicketSigningKey = cfg.JWTSecret
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

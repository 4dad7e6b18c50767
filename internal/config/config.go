package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTPublicKey string
	OTLPEndpoint string
	LogLevel     string

	HoldTTL        time.Duration
	PaymentTimeout time.Duration

	SchedulerPollInterval time.Duration
	SchedulerConcurrency  int
	SchedulerBatchSize    int
	SchedulerLease        time.Duration

	PlatformWalletID      string
	GatewayCheckoutURL    string
	GatewayCallbackSecret string
	NotifyBuffer          int

	IdempotencyTTL  time.Duration
	HoldsPerUserMin int
	HoldsPerIPMin   int
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:     envString("HTTP_ADDR", ":8080"),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      envString("MONGO_DB", "showtime"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		JWTPublicKey: os.Getenv("JWT_PUBLIC_KEY"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:     envString("LOG_LEVEL", "info"),

		HoldTTL:        envDuration("HOLD_TTL", 5*time.Minute),
		PaymentTimeout: envDuration("PAYMENT_TIMEOUT", 10*time.Minute),

		SchedulerPollInterval: envDuration("SCHEDULER_POLL_INTERVAL", time.Minute),
		SchedulerConcurrency:  envInt("SCHEDULER_CONCURRENCY", 10),
		SchedulerBatchSize:    envInt("SCHEDULER_BATCH_SIZE", 100),
		SchedulerLease:        envDuration("SCHEDULER_LEASE", 10*time.Minute),

		PlatformWalletID:      envString("PLATFORM_WALLET_ID", "platform"),
		GatewayCheckoutURL:    envString("GATEWAY_CHECKOUT_URL", "https://checkout.example.com/session"),
		GatewayCallbackSecret: os.Getenv("GATEWAY_CALLBACK_SECRET"),
		NotifyBuffer:          envInt("NOTIFY_BUFFER", 1024),

		IdempotencyTTL:  envDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		HoldsPerUserMin: envInt("RATE_LIMIT_HOLDS_PER_USER", 10),
		HoldsPerIPMin:   envInt("RATE_LIMIT_HOLDS_PER_IP", 100),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d <= 0 {
		return def
	}
	return d
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

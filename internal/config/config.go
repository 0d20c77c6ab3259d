package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel string
	HTTPPort int
	RunLocal bool

	AWSRegion        string
	CheckoutsTable   string
	OrdersTable      string
	IdempotencyTable string
	IdempotencyTTL   time.Duration
	EventsQueueURL   string
	MetricsNamespace string

	MongoURI                    string
	MongoDatabase               string
	MongoConnectTimeout         time.Duration
	MongoServerSelectionTimeout time.Duration
	MongoMaxPoolSize            int

	JWTSecret string

	RazorpayKeyID     string
	RazorpaySecretKey string
	GatewayCurrency   string
	GatewayTimeout    time.Duration
}

func Load() Config {
	return Config{
		AppEnv:   getEnv("APP_ENV", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPPort: getEnvInt("HTTP_PORT", 8080),
		RunLocal: getEnvBool("RUN_LOCAL", false),

		AWSRegion:        getEnv("AWS_REGION", ""),
		CheckoutsTable:   getEnv("CHECKOUTS_TABLE", "checkouts"),
		OrdersTable:      getEnv("ORDERS_TABLE", "orders"),
		IdempotencyTable: getEnv("IDEMPOTENCY_TABLE", "idempotency"),
		IdempotencyTTL:   getEnvDuration("IDEMPOTENCY_TTL", 48*time.Hour),
		EventsQueueURL:   getEnv("EVENTS_QUEUE_URL", ""),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "Kixor/Checkout"),

		MongoURI:                    getEnv("MONGO_URI", ""),
		MongoDatabase:               getEnv("MONGO_DATABASE", "kixor"),
		MongoConnectTimeout:         getEnvDuration("MONGO_CONNECT_TIMEOUT", 10*time.Second),
		MongoServerSelectionTimeout: getEnvDuration("MONGO_SERVER_SELECTION_TIMEOUT", 5*time.Second),
		MongoMaxPoolSize:            getEnvInt("MONGO_MAX_POOL_SIZE", 50),

		JWTSecret: getEnv("JWT_SECRET", ""),

		RazorpayKeyID:     getEnv("RAZORPAY_KEY_ID", ""),
		RazorpaySecretKey: getEnv("RAZORPAY_SECRET_KEY", ""),
		GatewayCurrency:   getEnv("GATEWAY_CURRENCY", "INR"),
		GatewayTimeout:    getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
	}
}

// Missing lists required settings that are unset.
func (c Config) Missing() []string {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.RazorpayKeyID == "" {
		missing = append(missing, "RAZORPAY_KEY_ID")
	}
	if c.RazorpaySecretKey == "" {
		missing = append(missing, "RAZORPAY_SECRET_KEY")
	}
	return missing
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)

	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}

	return n
}

func getEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// getEnvDuration accepts Go durations ("10s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

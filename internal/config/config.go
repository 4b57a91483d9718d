package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewLedgerConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	AuthJWTSecret string
	NodeID        int64

	// SupportAdminID is the administrator that owns lazily created conversations.
	SupportAdminID int64

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis   RedisConfig
	Gateway GatewayConfig
	Storage StorageConfig
	Events  EventsConfig

	Scheduler SchedulerConfig
}

// TelemetryConfig covers logging and OpenTelemetry export. Standard OTEL_*
// variables take precedence over the penwork-specific ones.
type TelemetryConfig struct {
	LogLevel  string
	LogFormat string

	OtelEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	JobTimeout  time.Duration
	// Jobs is a comma separated allow list; empty runs every job.
	Jobs string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// LockTTL bounds how long a cross-instance assignment lock may be held.
	LockTTL time.Duration

	SessionRate  float64
	SessionBurst int
}

// Enabled reports whether a Redis endpoint is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type GatewayConfig struct {
	Provider       string
	MerchantID     string
	MerchantSecret string
	Currency       string
	CheckoutURL    string
	ReturnURL      string
	CancelURL      string
	NotifyURL      string
}

type StorageConfig struct {
	// Driver is "os" for a local directory or "memory" for ephemeral storage.
	Driver  string
	BaseDir string
}

type EventsConfig struct {
	QueueSize        int
	SubscriberBuffer int
	// RedisChannel enables cross-instance fan-out when Redis is configured.
	RedisChannel string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:        getenv("APP_SERVICE", "penwork"),
		AppVersion:     getenv("APP_VERSION", "0.1.0"),
		Environment:    getenv("ENVIRONMENT", "development"),
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret:  strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		NodeID:         getenvInt64("NODE_ID", 1),
		SupportAdminID: getenvInt64("SUPPORT_ADMIN_ID", 0),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "penwork"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),

		Redis: RedisConfig{
			Addr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password:     strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:           int(getenvInt64("REDIS_DB", 0)),
			LockTTL:      time.Duration(getenvInt64("REDIS_LOCK_TTL_MS", 5000)) * time.Millisecond,
			SessionRate:  getenvFloat("GATEWAY_SESSION_RATE", 0.5),
			SessionBurst: int(getenvInt64("GATEWAY_SESSION_BURST", 5)),
		},
		Gateway: GatewayConfig{
			Provider:       strings.ToLower(getenv("GATEWAY_PROVIDER", "payhere")),
			MerchantID:     strings.TrimSpace(getenv("GATEWAY_MERCHANT_ID", "")),
			MerchantSecret: strings.TrimSpace(getenv("GATEWAY_MERCHANT_SECRET", "")),
			Currency:       strings.ToUpper(getenv("GATEWAY_CURRENCY", "LKR")),
			CheckoutURL:    getenv("GATEWAY_CHECKOUT_URL", "https://sandbox.payhere.lk/pay/checkout"),
			ReturnURL:      getenv("GATEWAY_RETURN_URL", ""),
			CancelURL:      getenv("GATEWAY_CANCEL_URL", ""),
			NotifyURL:      getenv("GATEWAY_NOTIFY_URL", ""),
		},
		Storage: StorageConfig{
			Driver:  strings.ToLower(getenv("STORAGE_DRIVER", "os")),
			BaseDir: getenv("STORAGE_DIR", "./data/files"),
		},
		Events: EventsConfig{
			QueueSize:        int(getenvInt64("EVENTS_QUEUE_SIZE", 1024)),
			SubscriberBuffer: int(getenvInt64("EVENTS_SUBSCRIBER_BUFFER", 32)),
			RedisChannel:     getenv("EVENTS_REDIS_CHANNEL", "penwork:events"),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			RunInterval: time.Duration(getenvInt64("SCHEDULER_INTERVAL_SECONDS", 300)) * time.Second,
			JobTimeout:  time.Duration(getenvInt64("SCHEDULER_JOB_TIMEOUT_SECONDS", 60)) * time.Second,
			Jobs:        getenv("SCHEDULER_JOBS", ""),
		},
	}

	cfg.Environment = strings.TrimSpace(getenv("DEPLOYMENT_ENV", cfg.Environment))
	cfg.AppVersion = strings.TrimSpace(getenv("SERVICE_VERSION", cfg.AppVersion))
	cfg.Telemetry = TelemetryConfig{
		LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OtelEnabled:   getenvBool("OTEL_ENABLED", cfg.IsProduction()),
		OTLPEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
		OTLPProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))),
		SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}

	return cfg
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

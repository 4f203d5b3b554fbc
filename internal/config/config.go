package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the process configuration and the plan catalogue.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPlanCatalogHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	AdminToken  string

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

	Redis        RedisConfig
	Tenant       TenantConfig
	RateLimit    RateLimitConfig
	Metrics      MetricsConfig
	Stream       StreamConfig
	Scoring      ScoringConfig
	Provisioning ProvisioningConfig
	Session      SessionConfig
}

// TelemetryConfig carries logging and OpenTelemetry export settings.
type TelemetryConfig struct {
	LogLevel  string
	LogFormat string

	OtelEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured. Without redis the
// service falls back to in-process stores.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type TenantConfig struct {
	CacheTTL      time.Duration
	LookupTimeout time.Duration
	TrialPeriod   time.Duration
}

type RateLimitConfig struct {
	FailOpen bool

	ProvisioningRate  float64
	ProvisioningBurst int
}

type MetricsConfig struct {
	Retention time.Duration
	Timeout   time.Duration
}

type StreamConfig struct {
	Shards        int
	MaxLen        int64
	AppendTimeout time.Duration
}

type ScoringConfig struct {
	FeatureURL    string
	ClusteringURL string
	IntentURL     string
	CallTimeout   time.Duration
	Window        string
}

type ProvisioningConfig struct {
	Enabled   bool
	Workers   int
	QueueSize int
	Timeout   time.Duration
	LockTTL   time.Duration
	TrainURL  string

	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3UsePathStyle bool
}

type SessionConfig struct {
	TTL time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	scoringBase := strings.TrimSpace(getenv("SCORING_BASE_URL", "http://localhost:9000"))

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "intentflow"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		AdminToken:   strings.TrimSpace(getenv("ADMIN_TOKEN", "")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "intentflow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Tenant: TenantConfig{
			CacheTTL:      getenvDuration("TENANT_CACHE_TTL", time.Minute),
			LookupTimeout: getenvDuration("TENANT_LOOKUP_TIMEOUT", 500*time.Millisecond),
			TrialPeriod:   getenvDuration("TRIAL_PERIOD", 14*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			FailOpen:          getenvBool("RATE_LIMIT_FAIL_OPEN", true),
			ProvisioningRate:  getenvFloat("PROVISIONING_RATE_PER_SECOND", 1),
			ProvisioningBurst: getenvInt("PROVISIONING_BURST", 5),
		},
		Metrics: MetricsConfig{
			Retention: getenvDuration("METRICS_RETENTION", 48*time.Hour),
			Timeout:   getenvDuration("METRICS_TIMEOUT", 250*time.Millisecond),
		},
		Stream: StreamConfig{
			Shards:        getenvInt("STREAM_SHARDS", 16),
			MaxLen:        int64(getenvInt("STREAM_MAX_LEN", 1_000_000)),
			AppendTimeout: getenvDuration("STREAM_APPEND_TIMEOUT", 500*time.Millisecond),
		},
		Scoring: ScoringConfig{
			FeatureURL:    getenv("SCORING_FEATURE_URL", scoringBase),
			ClusteringURL: getenv("SCORING_CLUSTERING_URL", scoringBase),
			IntentURL:     getenv("SCORING_INTENT_URL", scoringBase),
			CallTimeout:   getenvDuration("SCORING_CALL_TIMEOUT", 800*time.Millisecond),
			Window:        getenv("SCORING_WINDOW", "7d"),
		},
		Provisioning: ProvisioningConfig{
			Enabled:        getenvBool("PROVISIONING_ENABLED", true),
			Workers:        getenvInt("PROVISIONING_WORKERS", 4),
			QueueSize:      getenvInt("PROVISIONING_QUEUE_SIZE", 256),
			Timeout:        getenvDuration("PROVISIONING_TIMEOUT", 2*time.Minute),
			LockTTL:        getenvDuration("PROVISIONING_LOCK_TTL", 10*time.Minute),
			TrainURL:       getenv("PROVISIONING_TRAIN_URL", scoringBase),
			S3Bucket:       strings.TrimSpace(getenv("MODELS_S3_BUCKET", "")),
			S3Region:       getenv("MODELS_S3_REGION", "us-east-1"),
			S3Endpoint:     strings.TrimSpace(getenv("MODELS_S3_ENDPOINT", "")),
			S3UsePathStyle: getenvBool("MODELS_S3_PATH_STYLE", false),
		},
		Session: SessionConfig{
			TTL: getenvDuration("SESSION_TTL", 30*time.Minute),
		},
	}
	cfg.Telemetry = loadTelemetry(cfg)

	return cfg
}

// loadTelemetry reads the standard OTEL_* variables. Export defaults to on
// only in production.
func loadTelemetry(cfg Config) TelemetryConfig {
	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}
	return TelemetryConfig{
		LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OtelEnabled:   getenvBool("OTEL_ENABLED", cfg.IsProduction()),
		OTLPEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
		OTLPProtocol:  strings.ToLower(strings.TrimSpace(protocol)),
		SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

// IsProduction reports whether the process runs in production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
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

// getenvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}

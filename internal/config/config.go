package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const EnvironmentProduction = "production"

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

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

	LockBackend   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitMQURL      string
	RabbitMQExchange string

	Webhook   WebhookConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Relayer   RelayerConfig
	Pipeline  PipelineFileConfig

	AttributionWindow time.Duration
	InstanceID        string
	NodeID            int64
}

type WebhookConfig struct {
	// EnforceSignature rejects deliveries whose HMAC does not match. When false a
	// mismatch is logged and the delivery is still processed.
	EnforceSignature  bool
	SecretKey         string
	ShopifyAPIVersion string
	ResolverCacheTTL  time.Duration
	MaxBodyBytes      int64
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// RateLimitConfig throttles referral API callers with a redis token bucket.
type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

type RelayerConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type PipelineFileConfig struct {
	Name  string
	Paths []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	hostname, _ := os.Hostname()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "loyaltyrail"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  strings.ToLower(strings.TrimSpace(getenv("ENVIRONMENT", "development"))),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "loyaltyrail"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 1800)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 300)),

		LockBackend:   strings.ToLower(getenv("SCHEDULER_LOCK_BACKEND", "db")),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		RabbitMQURL:      strings.TrimSpace(getenv("RABBITMQ_URL", "")),
		RabbitMQExchange: getenv("RABBITMQ_EXCHANGE", "loyaltyrail.events"),

		Webhook: WebhookConfig{
			EnforceSignature:  getenvBool("ENFORCE_SIGNATURE", false),
			SecretKey:         strings.TrimSpace(getenv("WEBHOOK_SECRET_KEY", "")),
			ShopifyAPIVersion: getenv("SHOPIFY_API_VERSION", "2024-10"),
			ResolverCacheTTL:  getenvDuration("RESOLVER_CACHE_TTL", 30*time.Second),
			MaxBodyBytes:      getenvInt64("WEBHOOK_MAX_BODY_BYTES", 1<<20),
		},
		Auth: AuthConfig{
			JWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
			JWTIssuer: strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
		},
		RateLimit: RateLimitConfig{
			Enabled: getenvBool("RATE_LIMIT_ENABLED", false),
			Rate:    getenvFloat("RATE_LIMIT_RATE", 10),
			Burst:   int(getenvInt64("RATE_LIMIT_BURST", 20)),
		},
		Relayer: RelayerConfig{
			URL:     strings.TrimRight(strings.TrimSpace(getenv("RELAYER_URL", "http://localhost:8545")), "/"),
			Token:   strings.TrimSpace(getenv("RELAYER_TOKEN", "")),
			Timeout: getenvDuration("RELAYER_TIMEOUT", 20*time.Second),
		},
		Pipeline: PipelineFileConfig{
			Name:  getenv("PIPELINE_CONFIG_NAME", "pipeline"),
			Paths: parseList(getenv("PIPELINE_CONFIG_PATHS", "/etc/loyaltyrail,.")),
		},

		AttributionWindow: getenvDuration("ATTRIBUTION_WINDOW", 30*24*time.Hour),
		InstanceID:        getenv("INSTANCE_ID", hostname),
		NodeID:            getenvInt64("SNOWFLAKE_NODE_ID", 1),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

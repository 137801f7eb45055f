package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Observability
	OTLPEndpoint string
	OTelEnabled  bool

	// Supabase (PostgREST + GoTrue admin)
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseJWTSecret  string

	// Direct Postgres backend; empty keeps PostgREST for data access.
	DatabaseURL string
	AutoMigrate bool

	// Redis for idempotency and rate limiting; empty uses in-process state.
	RedisURL string

	// FACTA lender API
	FactaAPIURL         string
	FactaCredentials    string // user:password
	LenderTimeout       time.Duration
	SubmitRatePerMinute int
	IdempotencyTTL      time.Duration

	// CORS
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelEnabled:  getEnv("OTEL_ENABLED", "false") == "true",

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		AutoMigrate: getEnv("AUTO_MIGRATE", "false") == "true",

		RedisURL: getEnv("REDIS_URL", ""),

		FactaAPIURL:         getEnv("FACTA_API_URL", "https://webservice.facta.com.br"),
		FactaCredentials:    getEnv("FACTA_API_CREDENTIALS", ""),
		LenderTimeout:       getEnvDuration("LENDER_TIMEOUT", 30*time.Second),
		SubmitRatePerMinute: getEnvInt("SUBMIT_RATE_PER_MINUTE", 30),
		IdempotencyTTL:      getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}
}

// TracingEndpoint returns the OTLP endpoint, or "" when export is disabled.
func (c *Config) TracingEndpoint() string {
	if !c.OTelEnabled {
		return ""
	}
	return c.OTLPEndpoint
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

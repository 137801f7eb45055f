package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/config"
	"github.com/boddenberg/crm-consignado-go/internal/handler"
	"github.com/boddenberg/crm-consignado-go/internal/infra/cache"
	"github.com/boddenberg/crm-consignado-go/internal/infra/client"
	"github.com/boddenberg/crm-consignado-go/internal/infra/observability"
	"github.com/boddenberg/crm-consignado-go/internal/infra/postgres"
	"github.com/boddenberg/crm-consignado-go/internal/infra/ratelimit"
	"github.com/boddenberg/crm-consignado-go/internal/infra/resilience"
	"github.com/boddenberg/crm-consignado-go/internal/infra/supabase"
	"github.com/boddenberg/crm-consignado-go/internal/port"
	"github.com/boddenberg/crm-consignado-go/internal/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const serviceName = "crm-consignado"

// dataBackend is everything the services persist through.
type dataBackend interface {
	port.TenantStore
	port.TenantProvisioner
	port.ProposalStore
	port.SalesStore
	port.AuditLogger
}

func main() {
	// --- Load .env file (for local development) ---
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, serviceName)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Bool("redis", cfg.RedisURL != ""),
		zap.Int("submit_rate_per_minute", cfg.SubmitRatePerMinute),
	)

	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" || cfg.SupabaseJWTSecret == "" {
		logger.Fatal("SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY and SUPABASE_JWT_SECRET are required")
	}

	ctx := context.Background()

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(ctx, cfg.TracingEndpoint(), serviceName)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Supabase (identity admin always; data unless Postgres is configured) ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	supabaseClient := supabase.NewClient(
		httpClient,
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		resilience.NewCircuitBreaker("supabase", supabase.IsClientError, logger),
		resilienceCfg,
		logger,
	)

	checks := []handler.HealthCheck{{Name: "supabase", Ping: supabaseClient.Ping}}

	var data dataBackend = supabaseClient
	if cfg.DatabaseURL != "" {
		store, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.MaxConcurrency, logger)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer store.Close()

		if cfg.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		data = store
		checks = append(checks, handler.HealthCheck{Name: "postgres", Ping: store.Ping})
		logger.Info("using Postgres as data backend")
	} else {
		logger.Info("using Supabase PostgREST as data backend", zap.String("supabase_url", cfg.SupabaseURL))
	}

	// --- Redis (optional) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		checks = append(checks, handler.HealthCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	var idempotency port.IdempotencyStore
	if rdb != nil {
		idempotency = cache.NewRedisIdempotency(rdb, cfg.IdempotencyTTL, 2*cfg.LenderTimeout)
	} else {
		mem := cache.NewMemoryIdempotency(cfg.IdempotencyTTL)
		defer mem.Close()
		idempotency = mem
		logger.Warn("idempotency keys kept in memory; not shared across replicas")
	}

	limiter := ratelimit.New(rdb, ratelimit.PerMinute(cfg.SubmitRatePerMinute), logger)

	// --- Lender ---
	facta := client.NewFactaClient(
		&http.Client{Timeout: cfg.LenderTimeout},
		cfg.FactaCredentials,
		resilience.NewCircuitBreaker("facta", nil, logger),
		resilience.NewBulkhead(cfg.MaxConcurrency),
		metrics,
		logger,
	)
	if cfg.FactaCredentials == "" {
		logger.Warn("FACTA_API_CREDENTIALS not set; lender calls will be rejected")
	}

	// --- Services ---
	resolver := service.NewCallerResolver(data)
	services := handler.Services{
		Verifier:     service.NewTokenVerifier(cfg.SupabaseJWTSecret, "authenticated"),
		Provisioner:  service.NewProvisioner(data, data, data, metrics, logger),
		Users:        service.NewUserManager(data, supabaseClient, data, resolver, metrics, logger),
		Companies:    service.NewCompanyOnboarding(data, supabaseClient, data, resolver, metrics, logger),
		Submissions:  service.NewSubmissionService(data, facta, data, idempotency, limiter, resolver, cfg.FactaAPIURL, metrics, logger),
		Dashboard:    service.NewDashboardService(data, resolver, logger),
		HealthChecks: checks,
	}

	// --- Router ---
	router := handler.NewRouter(services, cfg.CORSAllowedOrigins, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.LenderTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

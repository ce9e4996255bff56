package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gestor-ciclista/gestor-api/internal/config"
	"github.com/gestor-ciclista/gestor-api/internal/domain"
	"github.com/gestor-ciclista/gestor-api/internal/handler"
	"github.com/gestor-ciclista/gestor-api/internal/infra/cache"
	"github.com/gestor-ciclista/gestor-api/internal/infra/observability"
	"github.com/gestor-ciclista/gestor-api/internal/infra/postgres"
	"github.com/gestor-ciclista/gestor-api/internal/infra/resilience"
	"github.com/gestor-ciclista/gestor-api/internal/infra/s3store"
	"github.com/gestor-ciclista/gestor-api/internal/infra/supabase"
	"github.com/gestor-ciclista/gestor-api/internal/port"
	"github.com/gestor-ciclista/gestor-api/internal/service"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("data_backend", cfg.DataBackend),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.Bool("redis", cfg.RedisURL != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("role_cache_ttl", cfg.RoleCacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("overdue_sweep_interval", cfg.OverdueSweepInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, "gestor-api")
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
	cb := resilience.NewCircuitBreaker("supabase", func(name string, from, to gobreaker.State) {
		logger.Warn("circuit breaker state change",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		metrics.SetBreakerState(name, to)
	})

	// --- Supabase (Auth always; data and storage by default) ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	supabaseClient := supabase.NewClient(
		httpClient,
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		cb,
		resilienceCfg,
		logger,
	)

	// --- Persistence ---
	var store port.Store = supabaseClient
	if cfg.DataBackend == config.BackendPostgres {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns), logger)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()
		store = postgres.NewStore(pool, logger)
		logger.Info("using direct Postgres as data backend")
	} else {
		logger.Info("using Supabase REST as data backend", zap.String("supabase_url", cfg.SupabaseURL))
	}

	var storage port.ObjectStorage = supabase.NewStorage(supabaseClient, cfg.AvatarBucket)
	if cfg.StorageBackend == config.BackendS3 {
		storage = s3store.New(s3store.Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.AvatarBucket,
			PublicBaseURL:   cfg.S3PublicBaseURL,
		}, logger)
		logger.Info("using S3 for avatars", zap.String("endpoint", cfg.S3Endpoint))
	}

	// --- Cache ---
	var roles port.Cache[domain.Role]
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		roles = cache.NewRedis[domain.Role](rdb, "gestor:role:", cfg.RoleCacheTTL, logger)
		logger.Info("role cache backed by redis")
	} else {
		mem := cache.New[domain.Role](cfg.RoleCacheTTL)
		defer mem.Close()
		roles = mem
	}

	// --- Audit dispatcher ---
	dispatcher := service.NewDispatcher(store, cfg.AuditQueueSize, metrics, logger)
	dispatcher.Start()

	// --- Services ---
	auditSvc := service.NewAuditService(store, logger)
	ciclistaSvc := service.NewCiclistaService(store, storage, dispatcher, auditSvc, metrics, logger)
	invoiceSvc := service.NewInvoiceService(store, dispatcher, metrics, logger)
	authSvc := service.NewAuthService(supabaseClient, store, roles, cfg.SupabaseJWTSecret, metrics, logger)
	userSvc := service.NewUserService(supabaseClient, store, roles, dispatcher, metrics, logger)
	avatarSvc := service.NewAvatarService(store, storage, dispatcher, cfg.AvatarSize, cfg.MaxUploadBytes, metrics, logger)
	dashboardSvc := service.NewDashboardService(store, logger)

	// --- Background workers ---
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		service.RunOverdueSweeper(ctx, invoiceSvc, cfg.OverdueSweepInterval, logger)
	}()

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Ciclistas:   ciclistaSvc,
		Invoices:    invoiceSvc,
		Audit:       auditSvc,
		Users:       userSvc,
		Auth:        authSvc,
		Avatars:     avatarSvc,
		Dashboard:   dashboardSvc,
		Store:       store,
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     metrics,
		Logger:      logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	<-sweeperDone
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("audit queue not drained", zap.Error(err))
	}

	logger.Info("server stopped")
}

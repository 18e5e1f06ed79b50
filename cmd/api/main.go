//	@title			Filegate API
//	@version		1.0
//	@description	File-ingestion gateway: uploads, content extraction, and pluggable storage backends behind an access gate.
//
//	@host		localhost:8080
//	@BasePath	/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/filegate/service/internal/admin"
	"github.com/filegate/service/internal/audit"
	"github.com/filegate/service/internal/auth"
	"github.com/filegate/service/internal/config"
	"github.com/filegate/service/internal/credentials"
	"github.com/filegate/service/internal/db"
	"github.com/filegate/service/internal/extract"
	"github.com/filegate/service/internal/gate"
	appMiddleware "github.com/filegate/service/internal/middleware"
	"github.com/filegate/service/internal/ratelimit"
	"github.com/filegate/service/internal/storage"
	"github.com/filegate/service/internal/upload"

	_ "github.com/filegate/service/docs/swagger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	cfgStore := config.NewStore(cfg)

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	// Durable sessions and audit trail are optional; without a database the
	// gateway runs fully in-memory.
	var sessions credentials.SessionStore = credentials.NewMemorySessionStore()
	var auditSinks []audit.Sink
	if cfg.DatabaseURL != "" {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
		pool, err := db.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()
		sessions = credentials.NewPostgresSessionStore(pool)
		auditSinks = append(auditSinks, audit.NewPostgresSink(pool))
	}

	creds := credentials.NewStore(&credentials.Set{
		AdminUser:         cfg.AdminUser,
		AdminPassword:     cfg.AdminPassword,
		AdminPasswordHash: cfg.AdminPasswordHash,
		JWTSecret:         []byte(cfg.JWTSecret),
		AccessTTL:         cfg.AccessTokenTTL,
		RefreshTTL:        cfg.RefreshTokenTTL,
	}, sessions)

	driver, err := storage.FromConfig(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	resolver := storage.NewResolver(driver, logger)

	limiter := ratelimit.New(ratelimit.Strategy(cfg.RateLimitStrategy), cfg.RateLimitRequests, cfg.RateLimitWindow)
	lockout := gate.NewLockout(cfg.LockoutThreshold, cfg.LockoutWindow)
	auditLog := audit.New(logger, auditSinks...)
	defer auditLog.Close()

	accessGate := gate.New(cfgStore, creds, limiter, lockout, auditLog, logger)

	var ocr *extract.OCRClient
	if cfg.OCREndpoint != "" {
		ocr = extract.NewOCRClient(cfg.OCREndpoint, cfg.StorageTimeout)
	}
	uploadSvc := upload.NewService(cfgStore, resolver, &extract.TextExtractor{}, ocr, logger)
	uploadHandler := upload.NewHandler(uploadSvc, resolver, logger)
	authHandler := auth.NewHandler(creds, lockout, logger)
	adminHandler := admin.NewHandler(cfgStore, resolver, creds, logger)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.RequestLogger(logger))
	r.Use(appMiddleware.Metrics)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", admin.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Swagger UI — available at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Group(authHandler.Routes)

		// Everything else passes the access gate
		r.Group(func(r chi.Router) {
			r.Use(accessGate.Middleware)
			r.Group(uploadHandler.Routes)
			r.Group(adminHandler.Routes)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.AppEnv),
			zap.String("storage_type", cfg.StorageType))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

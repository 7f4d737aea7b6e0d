package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camo/internal/auth"
	"camo/internal/catalog"
	"camo/internal/config"
	"camo/internal/document"
	"camo/internal/handler"
	"camo/internal/metrics"
	"camo/internal/middleware"
	"camo/internal/repository"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	var logOutput io.Writer = os.Stdout
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, cfg.LogMaxFiles)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer logFile.Close()
		logOutput = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(logOutput, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"driver", cfg.Driver,
		"collection_prefix", cfg.CollectionPrefix,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open %s backend: %v", cfg.Driver, err)
	}
	defer closeBackend()

	// Document registry with logging and metrics around every operation
	registry := document.NewRegistry(backend, logger)
	registry.Use(document.LoggingMiddleware(logger))
	registry.Use(metrics.Middleware())

	manifest, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	types, err := manifest.Register(registry)
	if err != nil {
		log.Fatalf("Failed to register document types: %v", err)
	}
	if err := registry.CreateIndexes(ctx); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}
	logger.Info("document types registered", "count", len(types))

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()
	handler.NewDocumentHandler(registry, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	// Build middleware chain
	// Order: CORS → Recovery → Auth → Metrics → Routes
	// Metrics wraps the mux directly so it sees the matched pattern
	h := metrics.Instrument("", mux)
	if cfg.JWKSURL != "" {
		verifier, err := auth.NewJWTVerifier(ctx, cfg.JWKSURL, logger,
			auth.WithIssuer(cfg.JWTIssuer),
			auth.WithAudience(cfg.JWTAudience),
		)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
		defer verifier.Close()
		h = middleware.AuthMiddleware(verifier, logger, "/health", "/metrics")(h)
	} else {
		logger.Warn("JWKS_URL not set, API is unauthenticated")
	}
	h = middleware.Recovery(logger)(h)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

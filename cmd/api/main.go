// Package main is the entry point for the audit API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ledgerline/recordtrail/internal/api"
	"github.com/ledgerline/recordtrail/internal/attribution"
	"github.com/ledgerline/recordtrail/internal/audit"
	"github.com/ledgerline/recordtrail/internal/config"
	"github.com/ledgerline/recordtrail/internal/db"
	"github.com/ledgerline/recordtrail/internal/health"
	"github.com/ledgerline/recordtrail/internal/lock"
	"github.com/ledgerline/recordtrail/internal/middleware"
	"github.com/ledgerline/recordtrail/internal/note"
	"github.com/ledgerline/recordtrail/internal/registry"
	"github.com/ledgerline/recordtrail/internal/revision"
	"github.com/ledgerline/recordtrail/internal/tracing"
	"github.com/ledgerline/recordtrail/internal/undo"
)

func main() {
	configFile := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("recordtrail audit API server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	ctx := context.Background()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "recordtrail-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampling,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Metrics
	promRegistry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	auditMetrics := audit.NewMetrics()
	if err := httpMetrics.Register(promRegistry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}
	if err := auditMetrics.Register(promRegistry); err != nil {
		logger.Error("failed to register audit metrics", "error", err)
		os.Exit(1)
	}

	// Core engine wiring. No ambient user provider on the server: actors
	// come from bearer tokens via the middleware, or stay absent.
	resolver := attribution.NewResolver(nil)
	repo := audit.NewPostgresRepository(conn, logger)
	recorder, err := audit.NewRecorder(repo, resolver, auditMetrics, logger)
	if err != nil {
		logger.Error("failed to build recorder", "error", err)
		os.Exit(1)
	}

	reg := registry.New()
	noteStore := note.NewPostgresStore(conn, logger)
	if err := reg.Register(registry.Entry{
		Tag:   note.TypeTag,
		New:   func() registry.Auditable { return &note.Note{} },
		Store: noteStore,
	}); err != nil {
		logger.Error("failed to register note type", "error", err)
		os.Exit(1)
	}

	reconstructor := revision.NewReconstructor(repo, reg, auditMetrics, logger)
	undoer := undo.NewEngine(reg, auditMetrics, logger)
	noteService := note.NewService(noteStore, recorder)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	var identityLock *lock.IdentityLock
	if cfg.SerializeBy && redisClient != nil {
		identityLock = lock.NewIdentityLock(redisClient, cfg.LockTTL)
		logger.Info("per-identity write serialization enabled", "ttl", cfg.LockTTL)
	}

	dbChecker := health.NewDBChecker(conn)
	var redisChecker *health.RedisChecker
	if redisClient != nil {
		redisChecker = health.NewRedisChecker(redisClient)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dbChecker.HealthCheck(checkCtx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","component":"database"}`))
			return
		}
		if redisChecker != nil {
			if err := redisChecker.HealthCheck(checkCtx); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unhealthy","component":"redis"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	handler := api.NewHandler(repo, reconstructor, undoer, reg, logger)
	handler.Routes(mux)
	api.NewNoteHandler(noteService, identityLock, logger).Routes(mux)

	// Middleware: RequestID -> RemoteAddress -> Actor -> Logging -> Metrics
	actorExtractor := middleware.NewActorExtractor(cfg.JWTSecret)
	var wrapped http.Handler = mux
	wrapped = middleware.HTTPMetrics(httpMetrics)(wrapped)
	wrapped = middleware.Logging(logger)(wrapped)
	wrapped = actorExtractor.Middleware(wrapped)
	wrapped = middleware.RemoteAddress(wrapped)
	wrapped = middleware.RequestID(wrapped)
	wrapped = otelhttp.NewHandler(wrapped, "recordtrail-api")

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      wrapped,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"gateway-fleet-backend/config"
	"gateway-fleet-backend/internal/activation"
	"gateway-fleet-backend/internal/api"
	"gateway-fleet-backend/internal/audit"
	"gateway-fleet-backend/internal/auth"
	"gateway-fleet-backend/internal/command"
	"gateway-fleet-backend/internal/db"
	"gateway-fleet-backend/internal/live"
	"gateway-fleet-backend/internal/notification"
	"gateway-fleet-backend/internal/schemasync"
	"gateway-fleet-backend/internal/telemetry"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "gatewayd ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Auth.JWTSecret == "" {
		logger.Fatalf("auth.jwt_secret must be configured")
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auditor := audit.NewRecorder(gormDB)
	creds := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	activationSvc := activation.NewService(activation.NewGormStore(gormDB), creds, auditor, &cfg.Activation)
	ipLimiter, codeLimiter := activationSvc.Limiters()
	go ipLimiter.RunCleanup(ctx, cfg.Activation.Window)
	go codeLimiter.RunCleanup(ctx, cfg.Activation.Window)

	// Alarm notifications are optional; without VAPID keys the pipeline
	// simply runs with no dispatcher.
	var alarms telemetry.AlarmDispatcher
	if cfg.Push.Enabled && cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		})
		pool.Start(ctx)
		alarms = pool
		logger.Printf("alarm notification pool started with %d workers", cfg.WorkerPool.Size)
	} else {
		logger.Println("push notifications disabled; alarms will not be delivered")
	}

	latest := telemetry.NewCache(cfg.Telemetry.Staleness, cfg.Telemetry.Sweep)
	pipeline := telemetry.NewPipeline(
		latest,
		telemetry.NewGormPointStore(gormDB),
		alarms,
		cfg.Telemetry.IngestRatePerSec,
		cfg.Telemetry.IngestBurst,
		cfg.Telemetry.MaxBatchSize,
	)

	queue := command.NewQueue(gormDB)
	schemas := schemasync.NewSynchronizer(gormDB)

	hub := live.NewHub(creds, pipeline, auditor)
	go hub.RunProber(ctx, cfg.Live.PingInterval)

	handler := api.NewHandler(cfg, gormDB, activationSvc, creds, pipeline, queue, hub, schemas, auditor)
	router := api.NewRouter(handler)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}

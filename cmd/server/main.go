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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appingestion "github.com/orderbridge/backend/internal/application/ingestion"
	"github.com/orderbridge/backend/internal/domain/ingestion"
	"github.com/orderbridge/backend/internal/domain/shared/valueobject"
	"github.com/orderbridge/backend/internal/infrastructure/config"
	"github.com/orderbridge/backend/internal/infrastructure/connector"
	"github.com/orderbridge/backend/internal/infrastructure/erp"
	"github.com/orderbridge/backend/internal/infrastructure/logger"
	"github.com/orderbridge/backend/internal/infrastructure/parser"
	"github.com/orderbridge/backend/internal/infrastructure/persistence"
	"github.com/orderbridge/backend/internal/infrastructure/scheduler"
	"github.com/orderbridge/backend/internal/infrastructure/storage"
	"github.com/orderbridge/backend/internal/interfaces/http/handler"
	"github.com/orderbridge/backend/internal/interfaces/http/middleware"
	"github.com/orderbridge/backend/internal/interfaces/http/router"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting OrderBridge ingestion service",
		zap.String("version", version),
		zap.String("env", cfg.App.Env),
		zap.Int("sources", len(cfg.Sources)),
	)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to the database
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database,
		logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level)))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	// Persistence: deduplication ledger and REST source cursors
	ledger := persistence.NewGormDeduplicationLedger(db.DB, cfg.Ingestion.StaleClaimAfter)
	cursors := persistence.NewGormCursorStore(db.DB)

	// Raw payload archive (optional)
	var archive ingestion.RawArchive
	if cfg.Archive.Enabled {
		s3Archive, err := storage.NewS3RawArchive(&cfg.Archive, log)
		if err != nil {
			log.Fatal("Failed to initialize raw payload archive", zap.Error(err))
		}
		bucketCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = s3Archive.EnsureBucket(bucketCtx)
		cancel()
		if err != nil {
			log.Fatal("Failed to ensure archive bucket exists", zap.Error(err))
		}
		archive = s3Archive
		log.Info("Raw payload archive enabled", zap.String("bucket", cfg.Archive.Bucket))
	} else {
		archive = storage.NewStubRawArchive()
		log.Warn("Raw payload archive disabled; payloads will not be retained")
	}

	// ERP delivery client, shared by all sources
	erpClient, err := erp.NewClient(erp.Config{
		BaseURL:           cfg.ERP.BaseURL,
		Token:             cfg.ERP.Token,
		Timeout:           cfg.ERP.Timeout,
		RequestsPerSecond: cfg.ERP.RequestsPerSecond,
		Burst:             cfg.ERP.Burst,
	}, log)
	if err != nil {
		log.Fatal("Failed to create ERP client", zap.Error(err))
	}

	// Normalizer, shared by all sources
	normalizer := appingestion.NewOrderNormalizer(appingestion.NormalizerConfig{
		DefaultCurrency:    valueobject.Currency(cfg.Ingestion.DefaultCurrency),
		DefaultPhoneRegion: cfg.Ingestion.DefaultPhoneRegion,
		ShippingLeadDays:   cfg.Ingestion.ShippingLeadDays,
	}, log)

	// Poll scheduler
	schedulerConfig := scheduler.DefaultPollSchedulerConfig()
	schedulerConfig.MaxConcurrentSources = cfg.Ingestion.MaxConcurrentSources
	sched, err := scheduler.NewPollScheduler(schedulerConfig, log)
	if err != nil {
		log.Fatal("Failed to create poll scheduler", zap.Error(err))
	}

	// One pipeline per configured source
	pipelineConfig := appingestion.PipelineConfig{
		MaxDeliveryAttempts: cfg.Ingestion.MaxDeliveryAttempts,
		RetryBackoffBase:    cfg.Ingestion.RetryBackoffBase,
		RetryBackoffCap:     cfg.Ingestion.RetryBackoffCap,
	}
	connectors := make([]ingestion.SourceConnector, 0, len(cfg.Sources))
	for _, desc := range cfg.Descriptors() {
		msgParser, err := parser.ForFormat(desc.Format)
		if err != nil {
			log.Fatal("Failed to create parser",
				zap.String("source_id", desc.ID), zap.Error(err))
		}
		conn, err := connector.ForDescriptor(desc, cursors, log)
		if err != nil {
			log.Fatal("Failed to create source connector",
				zap.String("source_id", desc.ID), zap.Error(err))
		}
		connectors = append(connectors, conn)

		pipeline := appingestion.NewPipeline(desc, conn, msgParser, normalizer,
			ledger, erpClient, archive, pipelineConfig, log)
		if err := sched.Register(pipeline, desc.PollInterval); err != nil {
			log.Fatal("Failed to register source",
				zap.String("source_id", desc.ID), zap.Error(err))
		}
		log.Info("Registered source",
			zap.String("source_id", desc.ID),
			zap.String("kind", string(desc.Kind)),
			zap.String("format", string(desc.Format)),
			zap.Duration("poll_interval", desc.PollInterval),
		)
	}
	defer func() {
		for _, conn := range connectors {
			if err := conn.Close(); err != nil {
				log.Warn("Failed to close connector",
					zap.String("source_id", conn.SourceID()), zap.Error(err))
			}
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		log.Fatal("Failed to start poll scheduler", zap.Error(err))
	}

	// Status HTTP server
	engine := gin.New()
	rateLimiter := middleware.NewRateLimiter(120, time.Minute)
	defer rateLimiter.Close()
	engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Secure(),
		middleware.CORS(),
		logger.GinMiddleware(log, "/healthz", "/readyz"),
		middleware.RateLimit(rateLimiter),
	)

	systemHandler := handler.NewSystemHandler(db.DB, version)
	engine.GET("/healthz", systemHandler.Healthz)
	engine.GET("/readyz", systemHandler.Readyz)

	ingestionHandler := handler.NewIngestionHandler(sched, ledger, log)

	router.NewRouter(engine).
		Register(systemHandler).
		Register(ingestionHandler).
		Setup()

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Status server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Error("Status server failed", zap.Error(err))
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error("Poll scheduler did not stop cleanly", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Status server did not stop cleanly", zap.Error(err))
	}

	log.Info("Shutdown complete")
}

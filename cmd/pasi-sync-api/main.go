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

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/pasi-sync-api/api/swagger"
	"github.com/noah-isme/pasi-sync-api/internal/handler"
	"github.com/noah-isme/pasi-sync-api/internal/middleware"
	"github.com/noah-isme/pasi-sync-api/internal/models"
	"github.com/noah-isme/pasi-sync-api/internal/repository"
	"github.com/noah-isme/pasi-sync-api/internal/service"
	"github.com/noah-isme/pasi-sync-api/internal/store"
	"github.com/noah-isme/pasi-sync-api/pkg/cache"
	"github.com/noah-isme/pasi-sync-api/pkg/config"
	"github.com/noah-isme/pasi-sync-api/pkg/database"
	"github.com/noah-isme/pasi-sync-api/pkg/jobs"
	"github.com/noah-isme/pasi-sync-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/pasi-sync-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/pasi-sync-api/pkg/middleware/requestid"
	"github.com/noah-isme/pasi-sync-api/pkg/storage"
)

const shutdownTimeout = 15 * time.Second

// @title PASI Sync API
// @version 1.0.0
// @description Reconciles registry course enrollments with the school's student records.
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

type backend struct {
	store  store.Store
	db     *sqlx.DB
	redis  *redis.Client
	checks map[string]handler.ReadinessCheck
}

func (b *backend) close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*backend, error) {
	b := &backend{checks: map[string]handler.ReadinessCheck{}}
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.redis = client
		b.checks["redis"] = func(ctx context.Context) error { return cache.Ping(ctx, client) }
	}

	hub := store.NewHub()
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		logr.Warn("using in-memory record store; data is lost on restart")
		b.store = store.NewMemoryStore(store.WithHub(hub))
	case config.StoreBackendPostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			b.close()
			return nil, err
		}
		b.db = db
		b.checks["postgres"] = db.PingContext

		var publisher store.Publisher = hub
		if b.redis != nil {
			notifier := repository.NewChangeNotifierRepository(b.redis, cfg.Store.ChangeChannel, hub, logr)
			publisher = notifier
			go func() {
				if err := notifier.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logr.Error("record store change listener stopped", zap.Error(err))
				}
			}()
		}
		repo := repository.NewRecordStoreRepository(db, hub, publisher, logr)
		if err := repo.EnsureSchema(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("ensure record store schema: %w", err)
		}
		b.store = repo
	default:
		b.close()
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}
	return b, nil
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	b, err := openBackend(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer b.close()

	courseMap := service.DefaultCourseCodeMap()
	if cfg.Sync.CourseMapFile != "" {
		courseMap, err = service.LoadCourseCodeMap(cfg.Sync.CourseMapFile)
		if err != nil {
			return fmt.Errorf("load course map: %w", err)
		}
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	var summaryCache *service.SummaryCache
	if b.redis != nil && cfg.Report.CacheEnabled {
		summaryCache = service.NewSummaryCache(repository.NewCacheRepository(b.redis, "pasi-sync:", logr), metricsSvc, cfg.Report.CacheTTL, logr)
		invalidation := summaryCache.ForgetOnChange(b.store)
		defer invalidation.Unsubscribe()
	}

	reportSvc := service.NewSyncReportService(b.store, summaryCache, logr)

	linker := service.NewLinker(b.store, courseMap, validate, metricsSvc, logr)
	statusSvc := service.NewStatusService(b.store, validate, logr)
	provisioningSvc := service.NewProvisioningService(b.store, courseMap, validate, logr)

	snapshots, err := storage.NewLocalStorage(cfg.Sync.SnapshotDir)
	if err != nil {
		return err
	}
	for _, raw := range cfg.Sync.TrackedStatuses {
		if _, err := models.ParseInternalStatus(raw); err != nil {
			return fmt.Errorf("SYNC_TRACKED_STATUSES: %w", err)
		}
	}
	runner := service.NewSyncRunner(b.store, courseMap, linker, reportSvc, snapshots, metricsSvc, service.SyncRunOptions{
		TrackedStatuses:   cfg.Sync.TrackedStatuses,
		SnapshotRetention: cfg.Sync.SnapshotRetention,
	}, logr)

	retries := cfg.Sync.WorkerRetries
	if retries == 0 {
		retries = -1
	}
	queue := jobs.NewQueue(service.SyncRunJobType, runner.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Sync.WorkerConcurrency,
		MaxRetries: retries,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()
	runner.UseQueue(queue)

	if cfg.Sync.ActiveSchoolYear != "" {
		sy, err := models.ParseSchoolYear(cfg.Sync.ActiveSchoolYear)
		if err != nil {
			return fmt.Errorf("SYNC_ACTIVE_SCHOOL_YEAR: %w", err)
		}
		if _, err := runner.Enqueue(sy); err != nil {
			logr.Warn("startup classification run not queued", zap.String("schoolYear", sy.Display()), zap.Error(err))
		}
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(logger.Recovery(logr))
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc, "/watch"))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metricsSvc, b.checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/metrics/snapshot", metricsHandler.Snapshot)

	reportHandler := handler.NewSyncReportHandler(reportSvc, runner, logr)
	statusHandler := handler.NewStatusHandler(statusSvc)
	reports := api.Group("/sync-report/:year")
	reports.GET("", reportHandler.Summary)
	reports.GET("/watch", reportHandler.Watch)
	reports.POST("/runs", reportHandler.EnqueueRun)
	reports.GET("/runs/latest", reportHandler.LatestRun)
	reports.GET("/runs/:runId/snapshot", reportHandler.RunSnapshot)
	reports.GET("/buckets/:bucket", reportHandler.ListBucket)
	reports.GET("/buckets/:bucket/export", reportHandler.Export)
	reports.PATCH("/buckets/:bucket/:entryKey/checked", reportHandler.SetChecked)
	reports.PUT("/status-mismatches/:entryKey/status", statusHandler.Change)
	reports.POST("/status-mismatches/:entryKey/status/reset", statusHandler.Reset)

	api.GET("/status/options", statusHandler.Options)
	api.GET("/status/compatibility", statusHandler.Compatibility)

	linkHandler := handler.NewLinkHandler(linker)
	api.POST("/links", linkHandler.Create)

	provisioningHandler := handler.NewProvisioningHandler(provisioningSvc)
	api.GET("/provisioning/lookup", provisioningHandler.Lookup)
	api.GET("/provisioning/drafts/:recordId", provisioningHandler.Draft)
	api.POST("/provisioning", provisioningHandler.Save)

	courseHandler := handler.NewCourseCodeHandler(courseMap)
	api.GET("/course-codes/:code", courseHandler.Resolve)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serverErr := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Env), zap.String("store", cfg.Store.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logr.Info("server stopped")
	return nil
}

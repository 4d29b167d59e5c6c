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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-roster-import/api/swagger"
	"github.com/noah-isme/sma-roster-import/internal/handler"
	"github.com/noah-isme/sma-roster-import/internal/importer"
	"github.com/noah-isme/sma-roster-import/internal/middleware"
	"github.com/noah-isme/sma-roster-import/internal/repository"
	"github.com/noah-isme/sma-roster-import/internal/service"
	"github.com/noah-isme/sma-roster-import/pkg/cache"
	"github.com/noah-isme/sma-roster-import/pkg/config"
	"github.com/noah-isme/sma-roster-import/pkg/database"
	"github.com/noah-isme/sma-roster-import/pkg/jobs"
	"github.com/noah-isme/sma-roster-import/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-roster-import/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-roster-import/pkg/middleware/requestid"
)

// @title SMA Roster Import API
// @version 1.0.0
// @description Bulk import of accounts, classes, course sections, students and scores
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	checks := map[string]handler.Pinger{"postgres": db}

	var cacheRepo service.CacheRepository = repository.NewMemoryCacheRepository()
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	switch {
	case err != nil:
		logr.Warn("redis unavailable, keeping reports in memory", zap.Error(err))
	case redisClient != nil:
		redisRepo := repository.NewCacheRepository(redisClient, logr)
		defer redisRepo.Close() //nolint:errcheck
		cacheRepo = redisRepo
		checks["redis"] = handler.RedisPinger{Client: redisClient}
	}
	reports := service.NewCacheService(cacheRepo, metrics, cfg.Import.ReportTTL, logr)

	roster := repository.NewRosterRepository(db, metrics)
	pipeline := importer.New(roster, importer.Options{
		Concurrency:       cfg.Import.Concurrency,
		ValidationWorkers: cfg.Import.ValidationWorkers,
		MaxFailures:       cfg.Import.MaxFailures,
		MaxFailureRatio:   cfg.Import.MaxFailureRatio,
		Observer:          metrics,
	}, logr.Named("importer"))

	var imports *service.ImportService
	queue := jobs.NewQueue("roster-imports", func(ctx context.Context, job jobs.Job) error {
		return imports.HandleJob(ctx, job)
	}, jobs.QueueConfig{Workers: cfg.Import.AsyncWorkers, Logger: logr})
	imports = service.NewImportService(pipeline, reports, queue, metrics, logr, service.ImportServiceConfig{
		ReportTTL:    cfg.Import.ReportTTL,
		AsyncEnabled: cfg.Import.AsyncEnabled,
	})
	if cfg.Import.AsyncEnabled {
		// Detached from the signal context so Stop can drain queued submissions.
		queue.Start(context.Background())
	}

	identity := service.NewIdentityService(cfg.JWT.Secret)
	importHandler := handler.NewImportHandler(imports, cfg.Import.MaxUploadBytes)
	metricsHandler := handler.NewMetricsHandler(metrics, checks)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = cfg.Import.MaxUploadBytes
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	importRoutes := api.Group("/imports", middleware.Identity(identity))
	importRoutes.POST("", middleware.Audit(logr, "roster_import.submit"), importHandler.Submit)
	importRoutes.GET("/templates", importHandler.Templates)
	importRoutes.GET("/:id", importHandler.Get)
	importRoutes.GET("/:id/export", middleware.Audit(logr, "roster_import.export"), importHandler.Export)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown", zap.Error(err))
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		logr.Warn("import queue shutdown", zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sis-request-api/api/swagger"
	"github.com/noah-isme/sis-request-api/internal/handler"
	"github.com/noah-isme/sis-request-api/internal/middleware"
	"github.com/noah-isme/sis-request-api/internal/models"
	"github.com/noah-isme/sis-request-api/internal/registry"
	"github.com/noah-isme/sis-request-api/internal/repository"
	"github.com/noah-isme/sis-request-api/internal/service"
	"github.com/noah-isme/sis-request-api/pkg/cache"
	"github.com/noah-isme/sis-request-api/pkg/config"
	"github.com/noah-isme/sis-request-api/pkg/database"
	"github.com/noah-isme/sis-request-api/pkg/export"
	"github.com/noah-isme/sis-request-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sis-request-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sis-request-api/pkg/middleware/requestid"
	"github.com/noah-isme/sis-request-api/pkg/storage"
)

// @title SIS Student Request API
// @version 1.0.0
// @description Student request filing, approval workflow and supporting documents
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

var probeRoutes = []string{"/health", "/ready", "/metrics"}

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	reg, err := registry.New(cfg.Requests.WorkflowOverrides)
	if err != nil {
		logr.Fatal("invalid request workflow configuration", zap.Error(err))
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	switch {
	case errors.Is(err, cache.ErrDisabled):
		logr.Info("statistics cache disabled")
	case err != nil:
		logr.Warn("redis unavailable, statistics cache disabled", zap.Error(err))
	default:
		repo := repository.NewCacheRepository(redisClient, logr)
		defer repo.Close() //nolint:errcheck
		cacheRepo = repo
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Requests.StatsCacheTTL, logr, cacheRepo != nil)

	blobs, err := newBlobStorage(ctx, cfg.Storage)
	if err != nil {
		logr.Fatal("failed to init attachment storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}

	formRepo := repository.NewRequestFormRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	referenceRepo := repository.NewReferenceRepository(db)
	studentDir := repository.NewStudentDirectoryRepository(db)

	notifier := service.NewQueuedNotifier(service.NewLogNotifier(logr), cfg.Notifications, metrics, logr)
	notifier.Start(ctx)
	defer notifier.Stop()

	workflowSvc := service.NewRequestWorkflowService(formRepo, reg, auditRepo, logr,
		service.WithWorkflowNotifier(notifier),
		service.WithWorkflowStudentDirectory(studentDir),
		service.WithWorkflowCache(cacheSvc, cfg.Requests.StatsCacheTTL),
		service.WithWorkflowMetrics(metrics),
	)
	attachmentSvc := service.NewRequestAttachmentService(attachmentRepo, formRepo, blobs, auditRepo, logr,
		service.WithAttachmentMaxBytes(cfg.Requests.MaxAttachmentBytes),
		service.WithAttachmentSigner(storage.NewSignedURLSigner(cfg.Storage.DownloadSecret, cfg.Storage.DownloadTTL), cfg.APIPrefix+"/files"),
		service.WithAttachmentMetrics(metrics),
	)
	formSvc := service.NewRequestFormService(service.RequestFormDeps{
		Repo:        formRepo,
		Registry:    reg,
		References:  referenceRepo,
		Students:    studentDir,
		Attachments: attachmentRepo,
		Blobs:       attachmentSvc,
		Workflow:    workflowSvc,
		Audit:       auditRepo,
		Trail:       auditRepo,
		Cache:       cacheSvc,
	}, nil, logr)

	exportSvc := service.NewRequestExportService(formRepo, export.NewCSVExporter(), export.NewPDFExporter(), cfg.Requests.ExportMaxRows, logr)

	reminders := service.NewRequestReminderService(formRepo, notifier, metrics, cfg.Reminders, logr)
	if err := reminders.Start(ctx); err != nil {
		logr.Fatal("failed to schedule request reminders", zap.Error(err))
	}
	defer reminders.Stop()

	authSvc := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, probeRoutes...))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, probeRoutes...))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.RequestOrigin())

	checks := []handler.ReadinessCheck{{Name: "postgres", Probe: db.PingContext}}
	if redisClient != nil {
		checks = append(checks, handler.ReadinessCheck{Name: "redis", Optional: true, Probe: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	metricsHandler := handler.NewMetricsHandler(metrics, checks...)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	requests := handler.NewRequestHandler(formSvc, workflowSvc, attachmentSvc, reg).WithExporter(exportSvc)
	registerRequestRoutes(r.Group(cfg.APIPrefix), requests, middleware.JWT(authSvc))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

func registerRequestRoutes(api *gin.RouterGroup, h *handler.RequestHandler, auth gin.HandlerFunc) {
	api.GET("/files/:token", h.DownloadFile)

	staff := middleware.RequireRoles(models.RoleStaff, models.RoleAdmin, models.RoleSuperAdmin)
	approver := middleware.RequireApprover()

	requests := api.Group("/requests", auth)
	requests.GET("/types", h.Types)
	requests.GET("/types/:code/schema", h.Schema)
	requests.GET("/pending", staff, h.Pending)
	requests.GET("/statistics", staff, h.Statistics)
	requests.GET("/export", staff, h.Export)
	requests.GET("/number/:number", h.GetByNumber)

	requests.GET("", h.List)
	requests.POST("", h.Create)
	requests.GET("/:id", h.Get)
	requests.PUT("/:id", h.Update)
	requests.DELETE("/:id", h.Delete)
	requests.GET("/:id/history", h.History)

	requests.POST("/:id/submit", h.Submit)
	requests.POST("/:id/cancel", h.Cancel)
	requests.POST("/:id/approve", approver, h.Approve)
	requests.POST("/:id/reject", approver, h.Reject)
	requests.POST("/:id/return-for-revision", approver, h.ReturnForRevision)
	requests.POST("/:id/complete", staff, h.Complete)

	requests.GET("/:id/attachments", h.ListAttachments)
	requests.POST("/:id/attachments", h.UploadAttachment)
	requests.DELETE("/:id/attachments/:attachmentId", h.DeleteAttachment)
	requests.GET("/:id/attachments/:attachmentId/download", h.AttachmentLink)
	requests.POST("/:id/attachments/:attachmentId/verify", staff, h.VerifyAttachment)

	requests.POST("/:id/courses/:itemId/decision", staff, h.DecideCourse)
	requests.POST("/:id/equivalencies/:itemId/decision", staff, h.DecideEquivalency)
}

func newBlobStorage(ctx context.Context, cfg config.StorageConfig) (service.BlobStorage, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.StorageDriverMinio:
		return storage.NewMinioStorage(ctx, cfg.Minio)
	default:
		return storage.NewLocalStorage(cfg.LocalDir)
	}
}

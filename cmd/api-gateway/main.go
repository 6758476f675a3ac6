package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-activity-api/api/swagger"
	"github.com/noah-isme/sma-activity-api/internal/handler"
	"github.com/noah-isme/sma-activity-api/internal/middleware"
	"github.com/noah-isme/sma-activity-api/internal/models"
	"github.com/noah-isme/sma-activity-api/internal/repository"
	"github.com/noah-isme/sma-activity-api/internal/service"
	"github.com/noah-isme/sma-activity-api/pkg/cache"
	"github.com/noah-isme/sma-activity-api/pkg/config"
	"github.com/noah-isme/sma-activity-api/pkg/database"
	"github.com/noah-isme/sma-activity-api/pkg/jobs"
	"github.com/noah-isme/sma-activity-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-activity-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-activity-api/pkg/middleware/requestid"
)

// @title SMA Activity API
// @version 1.0.0
// @description Student activity hours, evidence review and progress tracking
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := database.NewMigrator(db, logr).Migrate(migrateCtx)
		cancel()
		if err != nil {
			logr.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}

	location, err := time.LoadLocation(cfg.Progress.Timezone)
	if err != nil {
		logr.Warn("unknown progress timezone, falling back to UTC", zap.String("timezone", cfg.Progress.Timezone), zap.Error(err))
		location = time.UTC
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewActivityEnrollmentRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	snapshotRepo := repository.NewProgressSnapshotRepository(db)
	targetRepo := repository.NewProgramTargetRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	var locker service.Locker = service.NewKeyedMutex()
	if redisClient != nil {
		locker = repository.NewRedisLocker(redisClient, 50*time.Millisecond, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Progress.CacheTTL, logr, cfg.Progress.CacheEnabled && redisClient != nil)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	progressSvc := service.NewProgressService(studentRepo, enrollmentRepo, activityRepo, snapshotRepo, targetRepo, locker, cacheSvc, metricsSvc, logr, service.ProgressServiceConfig{
		LockTTL:  cfg.Progress.LockTTL,
		LockWait: cfg.Progress.LockWait,
		CacheTTL: cfg.Progress.CacheTTL,
		Location: location,
	})

	worker := service.NewRecalculationWorker(progressSvc, logr)
	queue := jobs.NewQueue("progress-recalculation", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Recalc.Workers,
		BufferSize: cfg.Recalc.BufferSize,
		MaxRetries: cfg.Recalc.MaxRetries,
		RetryDelay: cfg.Recalc.RetryDelay,
		Logger:     logr,
	})
	metricsSvc.TrackRecalculationQueue(queue.Pending)
	dispatcher := service.NewRecalculationDispatcher(queue, studentRepo, logr)

	evidenceSvc := service.NewEvidenceService(enrollmentRepo, progressSvc, dispatcher, metricsSvc, validate, logr)
	exportSvc := service.NewExportService(snapshotRepo, studentRepo, targetRepo, progressSvc.CurrentAcademicYear, service.ExportConfig{
		Enabled:  cfg.Exports.Enabled,
		PDFTitle: cfg.Exports.PDFTitle,
	}, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	evidenceHandler := handler.NewEvidenceHandler(evidenceSvc)
	progressHandler := handler.NewProgressHandler(progressSvc, dispatcher, exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error { return database.Ready(ctx, db) },
		"redis":    cacheRepo.Ping,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := string(models.RoleAdmin)
	teacher := string(models.RoleTeacher)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))
	secured.GET("/auth/me", authHandler.Me)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	secured.GET("/metrics/summary", adminOnly, metricsHandler.Snapshot)

	enrollments := secured.Group("/activity-enrollments/:id", middleware.RBAC(admin, teacher))
	enrollments.POST("/participation", middleware.Audit(userRepo, models.AuditActionParticipationUpdate, "activity_enrollment"), evidenceHandler.ConfirmParticipation)
	enrollments.POST("/evidence/approve", middleware.Audit(userRepo, models.AuditActionEvidenceApprove, "activity_enrollment"), evidenceHandler.Approve)
	enrollments.POST("/evidence/reject", middleware.Audit(userRepo, models.AuditActionEvidenceReject, "activity_enrollment"), evidenceHandler.Reject)

	secured.GET("/students/:id/progress", middleware.RBAC(admin, teacher, "SELF"), middleware.WithResponseMeta(), progressHandler.Get)
	secured.POST("/students/:id/progress/recalculate", adminOnly, middleware.Audit(userRepo, models.AuditActionProgressRecalculate, "student_progress"), progressHandler.Recalculate)
	secured.POST("/progress/recalculate", adminOnly, middleware.Audit(userRepo, models.AuditActionProgressRecalculate, "student_progress"), progressHandler.RecalculateBatch)
	secured.GET("/programs/:id/progress/export", adminOnly, progressHandler.Export)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)
	defer queue.Stop()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

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

	_ "github.com/noah-isme/lms-enrollment-api/api/swagger"
	"github.com/noah-isme/lms-enrollment-api/internal/handler"
	internalmiddleware "github.com/noah-isme/lms-enrollment-api/internal/middleware"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	"github.com/noah-isme/lms-enrollment-api/internal/repository"
	"github.com/noah-isme/lms-enrollment-api/internal/service"
	"github.com/noah-isme/lms-enrollment-api/pkg/cache"
	"github.com/noah-isme/lms-enrollment-api/pkg/config"
	"github.com/noah-isme/lms-enrollment-api/pkg/database"
	"github.com/noah-isme/lms-enrollment-api/pkg/events"
	"github.com/noah-isme/lms-enrollment-api/pkg/gateway"
	"github.com/noah-isme/lms-enrollment-api/pkg/jobs"
	"github.com/noah-isme/lms-enrollment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-enrollment-api/pkg/middleware/requestid"
	"github.com/noah-isme/lms-enrollment-api/pkg/retry"
)

// @title LMS Enrollment API
// @version 1.0.0
// @description Enrollment, payment confirmation, access windows and progress tracking for the learning platform.
// @BasePath /api/v1
// @schemes http https
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	reader, err := database.NewPostgresReader(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres replica", zap.Error(err))
	}
	if reader != nil {
		defer reader.Close()
	} else {
		reader = db
	}

	metricsSvc := service.NewMetricsService()
	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, enrollment cache disabled", zap.Error(err))
	}
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		defer redisClient.Close()
		cacheRepo = repository.NewCacheRepository(redisClient, "lms")
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Redis.CacheTTL, logr, redisClient != nil)

	var publisher events.Publisher = events.NewLogPublisher(logr)
	if cfg.Events.AMQPURL != "" {
		amqpPublisher, closeAMQP, err := events.Dial(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			logr.Fatal("failed to connect amqp", zap.Error(err))
		}
		defer closeAMQP() //nolint:errcheck
		publisher = amqpPublisher
	}

	enrollmentRepo := repository.NewEnrollmentRepository(db, reader)
	courseRepo := repository.NewCourseRepository(db)
	batchRepo := repository.NewBatchRepository(db)

	mux := jobs.NewMux()
	service.NewEnrollmentJobs(courseRepo, batchRepo, publisher, logr).Register(mux)
	queue := jobs.NewQueue("enrollment", mux.Process, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.Retries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()

	validate := validator.New()
	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Payment.BaseURL,
		KeyID:     cfg.Payment.KeyID,
		KeySecret: cfg.Payment.KeySecret,
		Timeout:   cfg.Payment.Timeout,
	})
	authSvc := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	poller := service.NewConfirmationPoller(enrollmentRepo, cfg.Confirmation, retry.ContextSleep, metricsSvc, logr)
	guard := service.NewAccessGuard(enrollmentRepo, batchRepo, time.Now, metricsSvc, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, batchRepo, gatewayClient, poller, cacheSvc, queue, validate, metricsSvc, logr, service.EnrollmentServiceConfig{
		DefaultCurrency: cfg.Payment.DefaultCurrency,
		OrderTTL:        cfg.Payment.OrderTTL,
		CacheTTL:        cfg.Redis.CacheTTL,
	})
	progressSvc := service.NewProgressTracker(enrollmentRepo, courseRepo, guard, cacheSvc, queue, validate, metricsSvc, logr, time.Now)
	exportSvc := service.NewExportService(progressSvc, logr, nil, nil)

	if cfg.Sweeper.Enabled {
		sweeper := service.NewPendingOrderSweeper(enrollmentRepo, cfg.Payment.OrderTTL, cfg.Sweeper.Schedule, metricsSvc, logr)
		if err := sweeper.Start(ctx); err != nil {
			logr.Fatal("failed to start pending order sweeper", zap.Error(err))
		}
		defer sweeper.Stop()
	}

	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, guard, progressSvc, exportSvc)
	paymentHandler := handler.NewPaymentHandler(enrollmentSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, readiness)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix, internalmiddleware.JWT(authSvc))
	api.GET("/metrics/summary", internalmiddleware.RequireRoles(models.RoleAdmin), metricsHandler.Summary)

	enrollments := api.Group("/enrollments")
	enrollments.POST("", enrollmentHandler.Enroll)
	enrollments.POST("/free", enrollmentHandler.EnrollFree)
	enrollments.GET("/my-courses", enrollmentHandler.MyCourses)
	enrollments.GET("/check-access/:courseId", enrollmentHandler.CheckAccess)
	enrollments.POST("/progress", enrollmentHandler.UpdateProgress)
	enrollments.GET("/course/:courseId", internalmiddleware.RequireRoles(models.RoleInstructor, models.RoleAdmin), enrollmentHandler.ListByCourse)
	enrollments.GET("/:courseId/progress/export", enrollmentHandler.ExportProgress)
	enrollments.POST("/:id/refund", internalmiddleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Refund)

	payments := api.Group("/payments")
	payments.POST("/order", paymentHandler.CreateOrder)
	payments.POST("/verify", paymentHandler.Verify)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

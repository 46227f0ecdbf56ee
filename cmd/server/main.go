package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/database"
	"github.com/stemsi/exstem-integrity/internal/handler"
	"github.com/stemsi/exstem-integrity/internal/logger"
	"github.com/stemsi/exstem-integrity/internal/middleware"
	"github.com/stemsi/exstem-integrity/internal/notify"
	"github.com/stemsi/exstem-integrity/internal/repository"
	"github.com/stemsi/exstem-integrity/internal/router"
	"github.com/stemsi/exstem-integrity/internal/service"
	"github.com/stemsi/exstem-integrity/internal/validator"
	"github.com/stemsi/exstem-integrity/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Bool("fail_open", cfg.FailOpen).
		Msg("Starting ExStem Integrity Engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	attemptRepo := repository.NewAttemptRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)
	metricsRepo := repository.NewMetricsRepository(pool)
	flagRepo := repository.NewFlagRepository(pool)
	examRepo := repository.NewExamRepository(pool, rdb, cfg.ExamConfigCacheTTL, log)
	studentRepo := repository.NewStudentRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool, rdb)
	leaseRepo := repository.NewLeaseRepository(rdb)

	// ─── Initialize Notifier ───────────────────────────────────────────
	dispatcher := notify.NewQueueDispatcher(rdb)
	var sender notify.Sender
	switch cfg.Notifier {
	case "sendgrid":
		if cfg.SendgridAPIKey == "" {
			log.Fatal().Msg("NOTIFIER=sendgrid requires SENDGRID_API_KEY")
		}
		sender = notify.NewSendgridSender(cfg.SendgridAPIKey, cfg.MailFromName, cfg.MailFromAddress)
	default:
		sender = notify.NewLogSender(log)
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)
	leaseManager := service.NewSessionLeaseManager(leaseRepo, cfg.SessionLeaseTTL, cfg.FailOpen, log)
	attemptService := service.NewAttemptService(attemptRepo, examRepo, leaseManager, monitorRepo, log)
	riskScorer := service.NewRiskScorer(violationRepo, metricsRepo, cfg.Risk, log)
	terminationPolicy := service.NewTerminationPolicy(examRepo)
	flagService := service.NewFlagService(flagRepo, metricsRepo, examRepo, studentRepo, dispatcher, monitorRepo, log)
	violationService := service.NewViolationService(
		attemptRepo, violationRepo, attemptService, riskScorer, flagService, terminationPolicy, monitorRepo, log,
	)
	heartbeatService := service.NewHeartbeatService(attemptRepo, examRepo, leaseManager, cfg.FailOpen, log)
	reviewService := service.NewReviewService(attemptRepo, metricsRepo, examRepo, flagService, violationService)
	monitorService := service.NewMonitorService(monitorRepo)

	violationLimiter := middleware.NewRateLimiter(rdb, cfg.ViolationRateLimit, time.Minute, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, violationService, heartbeatService, log),
		Review:  handler.NewReviewHandler(reviewService, log),
		Monitor: handler.NewMonitorHandler(monitorRepo, reviewService, monitorService, log),
		WS:      handler.NewWSHandler(attemptService, violationService, heartbeatService, violationLimiter, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workersDone := make(chan struct{})

	notificationWorker := worker.NewNotificationWorker(rdb, sender, flagRepo, log)
	go func() {
		notificationWorker.Start(workerCtx)
		close(workersDone)
	}()

	reconcileWorker := worker.NewReconcileWorker(metricsRepo, riskScorer, violationRepo, violationService, log)
	if err := reconcileWorker.Start(cfg.ReconcileSchedule); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.ReconcileSchedule).Msg("Invalid reconcile schedule")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, violationLimiter, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the notification queue to drain.
	reconcileWorker.Stop(shutdownCtx)
	workerCancel()
	select {
	case <-workersDone:
	case <-time.After(worker.DrainTimeout + time.Second):
		log.Warn().Msg("Notification worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

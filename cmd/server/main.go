package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Akhil-Ferry/Smart-city/internal/config"
	"github.com/Akhil-Ferry/Smart-city/internal/database"
	"github.com/Akhil-Ferry/Smart-city/internal/event"
	"github.com/Akhil-Ferry/Smart-city/internal/handlers"
	"github.com/Akhil-Ferry/Smart-city/internal/lifecycle"
	"github.com/Akhil-Ferry/Smart-city/internal/metrics"
	"github.com/Akhil-Ferry/Smart-city/internal/notification"
	"github.com/Akhil-Ferry/Smart-city/internal/realtime"
	"github.com/Akhil-Ferry/Smart-city/internal/recipient"
	"github.com/Akhil-Ferry/Smart-city/internal/scheduler"
)

const (
	serviceName = "alerting-service"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	logger.Info("starting alerting service",
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database); err != nil {
		logger.Error("failed to run database migrations", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()

	alertRepo := database.NewAlertRepository(db, logger)
	userRepo := database.NewUserRepository(db, logger)

	directory := recipient.NewCachedDirectory(userRepo, redisClient, cfg.Redis.CacheTTL, logger)
	resolver := recipient.NewResolver(directory, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := realtime.NewHub(redisClient, logger)
	go hub.Run(ctx)

	collector := metrics.NewCollector(alertRepo, logger)
	go collector.Run(ctx, 30*time.Second)

	var emailSender notification.EmailSender
	if cfg.Notifications.Email.Enabled {
		emailSender = notification.NewSendGridEmailSender(cfg.Notifications.Email, logger)
	}
	var smsSender notification.SMSSender
	if cfg.Notifications.SMS.Enabled {
		smsSender = notification.NewTwilioSMSSender(cfg.Notifications.SMS, logger)
	}
	var webhookSender notification.WebhookSender
	if cfg.Notifications.Webhook.Enabled {
		webhookSender = notification.NewRestyWebhookSender(cfg.Notifications.Webhook, logger)
	}

	dispatcher, err := notification.NewDispatcher(
		cfg.Notifications,
		cfg.Server.BaseURL,
		resolver,
		alertRepo,
		emailSender,
		smsSender,
		hub,
		webhookSender,
		collector,
		logger,
	)
	if err != nil {
		logger.Error("failed to build notification dispatcher", "error", err)
		os.Exit(1)
	}

	var publisher lifecycle.Publisher
	var producer *event.Producer
	if cfg.Kafka.Enabled {
		producer = event.NewProducer(cfg.Kafka, logger)
		defer producer.Close()
		publisher = producer
	}

	controller := lifecycle.NewController(
		alertRepo,
		userRepo,
		dispatcher,
		publisher,
		collector,
		logger,
		lifecycle.Options{
			NotifyOnSeverityUpgrade: cfg.Alerting.NotifyOnSeverityUpgrade,
			DispatchTimeout:         cfg.Alerting.DispatchTimeout,
			AlertTTL:                cfg.Alerting.AlertTTL,
		},
	)

	var consumer *event.Consumer
	if cfg.Kafka.Enabled {
		consumer = event.NewConsumer(cfg.Kafka, cfg.Alerting.DedupeWindow, controller, logger)
		consumer.Start(ctx)
	}

	sched := scheduler.New(cfg.Scheduler, logger)
	if err := scheduler.RegisterSweeps(
		sched,
		cfg.Scheduler,
		cfg.Alerting.ExpirySweepBatch,
		cfg.Notifications.RetryBatch,
		alertRepo,
		userRepo,
		controller,
		dispatcher,
		logger,
	); err != nil {
		logger.Error("failed to register scheduled sweeps", "error", err)
		os.Exit(1)
	}
	sched.Start()

	router := mux.NewRouter()
	alertHandlers := handlers.NewAlertHandlers(controller, alertRepo, hub, logger)
	alertHandlers.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down HTTP server gracefully", "error", err)
	}

	sched.Stop()
	if consumer != nil {
		consumer.Stop()
	}

	logger.Info("service shutdown complete")
}

func setupLogging(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Environment == "development" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", serviceName)
	slog.SetDefault(logger)
	return logger
}

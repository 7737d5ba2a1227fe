package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/tkempf/paperboy/internal/app"
	"github.com/tkempf/paperboy/internal/config"
	"github.com/tkempf/paperboy/internal/domain"
	"github.com/tkempf/paperboy/internal/email"
	"github.com/tkempf/paperboy/internal/httpserver"
	"github.com/tkempf/paperboy/internal/platform/logging"
	"github.com/tkempf/paperboy/internal/postgres"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func runGracefulShutdown(srv *httpserver.Server, stopWorker context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopWorker()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	publishStore := postgres.NewPublishStore(pool, clock, cfg.IdempotencyPendingLease)
	deliveryQueue := postgres.NewDeliveryQueue(pool, clock)
	subscriberStore := postgres.NewSubscriberStore(pool, clock)
	operatorStore := postgres.NewOperatorStore(pool)

	var sender domain.EmailSender = email.NewResendSender(cfg.EmailAPIKey, cfg.EmailFrom)
	sender = email.NewBreakerSender(sender)

	publishService := app.NewPublishService(publishStore)
	subscriptionService := app.NewSubscriptionService(subscriberStore, sender, cfg.BaseURL)

	worker := app.NewDeliveryWorker(deliveryQueue, sender, clock, app.WorkerConfig{
		PollInterval:   cfg.WorkerPollInterval,
		SendTimeout:    cfg.SendTimeout,
		MaxRetries:     cfg.MaxSendRetries,
		InitialBackoff: cfg.InitialSendBackoff,
		MaxBackoff:     cfg.MaxSendBackoff,
	})

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go worker.Run(workerCtx)

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
	}

	srv, err := httpserver.NewServer(cfg, publishService, subscriptionService, operatorStore, healthChecks)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(srv, stopWorker)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

// Standalone delivery worker. Runs the same claim-send-resolve loop as the
// in-process worker in cmd/server; deploy extra instances of this binary to
// scale fan-out independently of the HTTP tier.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tkempf/paperboy/internal/app"
	"github.com/tkempf/paperboy/internal/config"
	"github.com/tkempf/paperboy/internal/domain"
	"github.com/tkempf/paperboy/internal/email"
	"github.com/tkempf/paperboy/internal/platform/logging"
	"github.com/tkempf/paperboy/internal/postgres"
)

func main() {
	drain := flag.Bool("drain", false, "Deliver until the queue is empty, then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Delivery worker starting", "env", cfg.AppEnv, "drain", *drain)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	clock := clockwork.NewRealClock()

	var sender domain.EmailSender = email.NewResendSender(cfg.EmailAPIKey, cfg.EmailFrom)
	sender = email.NewBreakerSender(sender)

	worker := app.NewDeliveryWorker(postgres.NewDeliveryQueue(pool, clock), sender, clock, app.WorkerConfig{
		PollInterval:   cfg.WorkerPollInterval,
		SendTimeout:    cfg.SendTimeout,
		MaxRetries:     cfg.MaxSendRetries,
		InitialBackoff: cfg.InitialSendBackoff,
		MaxBackoff:     cfg.MaxSendBackoff,
	})

	if *drain {
		sent, err := worker.Drain(context.Background())
		if err != nil {
			slog.Error("Drain aborted", "sent", sent, "error", err)
			os.Exit(1)
		}
		slog.Info("Queue drained", "sent", sent)
		return
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker.Run(runCtx)
	slog.Info("Delivery worker stopped")
}

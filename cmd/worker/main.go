package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/budget-tracker/internal/app"
	"github.com/dvloznov/budget-tracker/internal/config"
	"github.com/dvloznov/budget-tracker/internal/logger"
)

func main() {
	envFile := flag.String("env", ".env", "Path to the env file loaded when APP_ENV=local")
	flag.Parse()

	cfg := config.Load(*envFile)
	log := logger.Configure(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.Format == "json"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build services")
	}

	jobQueue := a.NewQueue()
	if err := jobQueue.Start(ctx, a.Runner.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	trig, err := a.NewTrigger(jobQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create trigger")
	}
	trig.Start(ctx)

	log.Info().
		Str("status_at", cfg.Scheduler.StatusAt).
		Str("recurring_at", cfg.Scheduler.RecurAt).
		Str("timezone", cfg.Scheduler.Timezone).
		Msg("Worker service started, waiting for scheduled runs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	trig.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight runs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to release services")
	}

	log.Info().Msg("Worker service exited")
}

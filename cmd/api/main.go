package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/budget-tracker/internal/api"
	"github.com/dvloznov/budget-tracker/internal/api/handlers"
	"github.com/dvloznov/budget-tracker/internal/app"
	"github.com/dvloznov/budget-tracker/internal/config"
	"github.com/dvloznov/budget-tracker/internal/logger"
	"github.com/dvloznov/budget-tracker/internal/trigger"
)

func main() {
	var (
		envFile = flag.String("env", ".env", "Path to the env file loaded when APP_ENV=local")
		port    = flag.String("port", "", "HTTP server port (overrides PORT)")
	)
	flag.Parse()

	cfg := config.Load(*envFile)
	if *port != "" {
		cfg.Server.Port = *port
	}
	log := logger.Configure(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.Format == "json"})

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build services")
	}

	// Start worker in background to process scheduled runs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobQueue := a.NewQueue()
	go func() {
		log.Info().Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, a.Runner.Handle); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	var trig *trigger.Trigger
	if cfg.Scheduler.Enabled {
		trig, err = a.NewTrigger(jobQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create trigger")
		}
		trig.Start(workerCtx)
	} else {
		log.Warn().Msg("Scheduler disabled - jobs only run when triggered over HTTP")
	}

	handler := api.NewRouter(api.RouterConfig{
		Jobs:     handlers.NewJobsHandler(a.Runner, a.Runs, log),
		Devices:  handlers.NewDevicesHandler(a.Registry, cfg.Tokens.MaxPerUser, log),
		Gatherer: a.Prometheus,
		Clock:    a.Clock,
		Log:      log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	if trig != nil {
		trig.Stop()
	}
	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight runs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to release services")
	}

	log.Info().Msg("Server exited")
}

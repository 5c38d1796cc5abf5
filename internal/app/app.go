// Package app builds the service graph shared by the api, worker, migrate
// and cli commands from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/dvloznov/budget-tracker/internal/config"
	"github.com/dvloznov/budget-tracker/internal/devicetoken"
	"github.com/dvloznov/budget-tracker/internal/gcs"
	"github.com/dvloznov/budget-tracker/internal/i18n"
	infraBQ "github.com/dvloznov/budget-tracker/internal/infra/bigquery"
	"github.com/dvloznov/budget-tracker/internal/jobs"
	"github.com/dvloznov/budget-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/budget-tracker/internal/lease"
	"github.com/dvloznov/budget-tracker/internal/metrics"
	"github.com/dvloznov/budget-tracker/internal/migration"
	"github.com/dvloznov/budget-tracker/internal/notify"
	"github.com/dvloznov/budget-tracker/internal/push"
	"github.com/dvloznov/budget-tracker/internal/push/fcm"
	"github.com/dvloznov/budget-tracker/internal/recurring"
	"github.com/dvloznov/budget-tracker/internal/scheduler"
	"github.com/dvloznov/budget-tracker/internal/store"
	"github.com/dvloznov/budget-tracker/internal/store/firestore"
	"github.com/dvloznov/budget-tracker/internal/store/memory"
	"github.com/dvloznov/budget-tracker/internal/trigger"
)

const (
	// StoreFirestore and StoreMemory are the STORE_BACKEND values.
	StoreFirestore = "firestore"
	StoreMemory    = "memory"

	// PushFCM and PushLog are the PUSH_PROVIDER values.
	PushFCM = "fcm"
	PushLog = "log"
)

// ErrUnknownBackend is returned for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown backend")

// Options adjusts the graph per command.
type Options struct {
	// Clock overrides the wall clock, for tests.
	Clock clock.Clock
	// Migration configures the migration job.
	Migration migration.Options
}

// App holds the wired services.
type App struct {
	Config *config.Config
	Log    zerolog.Logger
	Clock  clock.Clock

	Store      store.Store
	Storage    gcs.StorageService
	Catalog    *i18n.Catalog
	Registry   *devicetoken.Registry
	Dispatcher *notify.Dispatcher
	Pushes     *notify.Async

	Metrics    *metrics.Collector
	Prometheus *prometheus.Registry

	Runs   jobs.JobStore
	Runner *jobs.Runner

	closers []func() error
}

func clientOptions(cfg *config.Config) []option.ClientOption {
	if cfg.GCP.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.GCP.CredentialsFile)}
}

// New wires every service described by cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	a := &App{Config: cfg, Log: log, Clock: clk}

	if err := a.build(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config
	gopts := clientOptions(cfg)

	st, err := newStore(ctx, cfg, gopts)
	if err != nil {
		return fmt.Errorf("New: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	a.Storage = gcs.NewGCSStorageService(gopts...)

	a.Catalog, err = i18n.New(cfg.I18n.DefaultLanguage, st, a.Log)
	if err != nil {
		return fmt.Errorf("New: %w", err)
	}
	if cfg.I18n.BundleURI != "" {
		if err := a.Catalog.LoadOverride(ctx, cfg.I18n.BundleURI, a.Storage); err != nil {
			return fmt.Errorf("New: %w", err)
		}
	}

	a.Metrics = metrics.NewCollector()
	a.Prometheus = prometheus.NewRegistry()
	a.Prometheus.MustRegister(
		a.Metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gateway, err := newGateway(ctx, cfg, gopts, a.Log)
	if err != nil {
		return fmt.Errorf("New: %w", err)
	}

	a.Registry = devicetoken.NewRegistry(st, a.Clock, cfg.Tokens.MaxPerUser, a.Log)
	a.Dispatcher = notify.NewDispatcher(st, st, a.Registry, gateway, a.Clock, a.Metrics, a.Log)
	a.Pushes = notify.NewAsync(a.Dispatcher, cfg.Push.Timeout, a.Log)

	locker, err := a.newLocker(cfg)
	if err != nil {
		return fmt.Errorf("New: %w", err)
	}

	runs, err := a.newRunStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("New: %w", err)
	}
	a.Runs = runs

	a.Runner = jobs.NewRunner(jobs.RunnerConfig{
		Locker:     locker,
		LeaseTTL:   cfg.Scheduler.LeaseTTL,
		Store:      runs,
		Clock:      a.Clock,
		Metrics:    a.Metrics,
		MaxRetries: cfg.Scheduler.MaxRetries,
		Log:        a.Log,
	})

	loc := cfg.Scheduler.Location()
	a.Runner.Register(jobs.JobTransactionStatus, scheduler.New(st, a.Catalog, a.Pushes, a.Clock, loc))
	a.Runner.Register(jobs.JobRecurring, recurring.New(st, a.Catalog, a.Pushes, a.Clock, loc))
	a.Runner.Register(jobs.JobMigration, migration.New(st, a.Storage, a.Clock, opts.Migration))

	return nil
}

func newStore(ctx context.Context, cfg *config.Config, gopts []option.ClientOption) (store.Store, error) {
	switch cfg.App.StoreBackend {
	case StoreFirestore:
		return firestore.New(ctx, cfg.GCP.ProjectID, gopts...)
	case StoreMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("store %q: %w", cfg.App.StoreBackend, ErrUnknownBackend)
}

func newGateway(ctx context.Context, cfg *config.Config, gopts []option.ClientOption, log zerolog.Logger) (push.Gateway, error) {
	switch cfg.Push.Provider {
	case PushFCM:
		return fcm.New(ctx, cfg.GCP.ProjectID, gopts...)
	case PushLog:
		return push.NewLogGateway(log), nil
	}
	return nil, fmt.Errorf("push provider %q: %w", cfg.Push.Provider, ErrUnknownBackend)
}

func (a *App) newLocker(cfg *config.Config) (lease.Locker, error) {
	if cfg.Redis.Addr == "" {
		return lease.NewLocal(a.Clock), nil
	}
	client, err := lease.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return lease.NewRedis(client), nil
}

func (a *App) newRunStore(ctx context.Context, cfg *config.Config) (jobs.JobStore, error) {
	runs := inmemory.NewStore()
	if !cfg.BigQuery.Enabled {
		return runs, nil
	}
	ledger, err := infraBQ.NewJobRunLedger(ctx, cfg.GCP.ProjectID, cfg.BigQuery.DatasetID)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, ledger.Close)
	return jobs.NewLedgerStore(runs, ledger, a.Log), nil
}

// Schedules returns the daily trigger times of the scheduled jobs. The
// migration job only runs on demand.
func (a *App) Schedules() []trigger.Schedule {
	return []trigger.Schedule{
		{Job: jobs.JobRecurring, At: a.Config.Scheduler.RecurAt},
		{Job: jobs.JobTransactionStatus, At: a.Config.Scheduler.StatusAt},
	}
}

// NewQueue creates the job queue sized by the scheduler configuration.
func (a *App) NewQueue() *inmemory.Queue {
	return inmemory.NewQueue(a.Config.Scheduler.QueueSize, a.Config.Scheduler.Workers, a.Runs, a.Clock, a.Log)
}

// NewTrigger creates the daily trigger publishing to pub.
func (a *App) NewTrigger(pub jobs.Publisher) (*trigger.Trigger, error) {
	return trigger.New(a.Schedules(), a.Runner, pub, a.Clock, a.Config.Scheduler.Location(), a.Log)
}

// Shutdown waits for in-flight pushes, then closes every client.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Pushes != nil {
		if err := a.Pushes.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("Shutdown: waiting for pushes: %w", err))
		}
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-tracker/internal/lease"
	"github.com/dvloznov/budget-tracker/internal/logger"
	"github.com/dvloznov/budget-tracker/internal/metrics"
)

// DefaultLeaseTTL bounds how long a crashed run can block the next one. A
// live run renews its lease every third of the TTL.
const DefaultLeaseTTL = 15 * time.Minute

// RunnerConfig holds the Runner's collaborators.
type RunnerConfig struct {
	Locker     lease.Locker
	LeaseTTL   time.Duration
	Store      JobStore
	Clock      clock.Clock
	Metrics    *metrics.Collector
	MaxRetries int
	Log        zerolog.Logger
}

// Runner executes registered tasks under a per-job lease and keeps the run
// ledger up to date.
type Runner struct {
	mu    sync.RWMutex
	tasks map[JobType]Task
	cfg   RunnerConfig
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Locker == nil {
		cfg.Locker = lease.NewLocal(cfg.Clock)
	}
	return &Runner{tasks: make(map[JobType]Task), cfg: cfg}
}

// Register binds task to job.
func (r *Runner) Register(job JobType, task Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[job] = task
}

// Jobs returns the registered job names.
func (r *Runner) Jobs() []JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]JobType, 0, len(r.tasks))
	for j := range r.tasks {
		out = append(out, j)
	}
	return out
}

func (r *Runner) task(job JobType) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[job]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	return t, nil
}

// NewRun creates a pending run of job.
func (r *Runner) NewRun(job JobType, trigger Trigger) (*Run, error) {
	if _, err := r.task(job); err != nil {
		return nil, err
	}
	return &Run{
		RunID:      uuid.New().String(),
		Job:        job,
		Trigger:    trigger,
		Status:     JobStatusPending,
		CreatedAt:  r.cfg.Clock.Now(),
		MaxRetries: r.cfg.MaxRetries,
	}, nil
}

// RunNow executes job synchronously and returns the finished run. The
// returned error is the task's error, or ErrJobAlreadyRunning when another
// run holds the job's lease.
func (r *Runner) RunNow(ctx context.Context, job JobType, trigger Trigger) (*Run, error) {
	run, err := r.NewRun(job, trigger)
	if err != nil {
		return nil, err
	}

	run.Start(r.cfg.Clock.Now())
	r.save(ctx, run)

	err = r.Execute(ctx, run)

	run.Finish(r.cfg.Clock.Now(), err)
	r.save(ctx, run)

	return run, err
}

// Handle is a JobHandler for queue consumers.
func (r *Runner) Handle(ctx context.Context, job Job) error {
	run, ok := job.(*Run)
	if !ok {
		return fmt.Errorf("Handle: unexpected job type %T", job)
	}
	return r.Execute(ctx, run)
}

// Execute runs the run's task under the job lease and stores the task's
// result on run. It does not change run's status.
func (r *Runner) Execute(ctx context.Context, run *Run) error {
	task, err := r.task(run.Job)
	if err != nil {
		return err
	}

	log := r.cfg.Log.With().
		Str("job", string(run.Job)).
		Str("run_id", run.RunID).
		Str("trigger", string(run.Trigger)).
		Logger()

	l, err := r.cfg.Locker.Acquire(ctx, string(run.Job), r.cfg.LeaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		log.Warn().Msg("Job already running, skipping")
		r.cfg.Metrics.ObserveJobRun(string(run.Job), string(JobStatusSkipped), 0)
		return ErrJobAlreadyRunning
	}
	if err != nil {
		return fmt.Errorf("Execute: acquiring lease: %w", err)
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Msg("Failed to release job lease")
		}
	}()
	stop := r.keepAlive(ctx, l, log)
	defer stop()

	log.Info().Msg("Job started")
	start := r.cfg.Clock.Now()

	res, err := task.Run(logger.WithContext(ctx, log))
	run.Result = &res

	elapsed := r.cfg.Clock.Now().Sub(start)
	job := string(run.Job)
	r.cfg.Metrics.AddJobRecords(job, "processed", res.Processed)
	r.cfg.Metrics.AddJobRecords(job, "skipped", res.Skipped)
	r.cfg.Metrics.AddJobRecords(job, "failed", res.Failed)
	r.cfg.Metrics.AddBatchCommits(job, res.Commits)

	if err != nil {
		r.cfg.Metrics.ObserveJobRun(job, string(JobStatusFailed), elapsed)
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("Job failed")
		return err
	}

	r.cfg.Metrics.ObserveJobRun(job, string(JobStatusCompleted), elapsed)
	log.Info().
		Int("candidates", res.Candidates).
		Int("processed", res.Processed).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Int("commits", res.Commits).
		Dur("elapsed", elapsed).
		Msg("Job completed")
	return nil
}

// keepAlive renews l every third of the lease TTL until the returned stop
// function is called. A lost lease ends the renewals.
func (r *Runner) keepAlive(ctx context.Context, l lease.Lease, log zerolog.Logger) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-r.cfg.Clock.After(r.cfg.LeaseTTL / 3):
			}
			err := l.Renew(ctx, r.cfg.LeaseTTL)
			if errors.Is(err, lease.ErrLost) {
				log.Error().Msg("Job lease lost, another run may start")
				return
			}
			if err != nil {
				log.Warn().Err(err).Msg("Failed to renew job lease")
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (r *Runner) save(ctx context.Context, run *Run) {
	if r.cfg.Store == nil {
		return
	}
	if err := r.cfg.Store.SaveRun(ctx, run); err != nil {
		r.cfg.Log.Error().Err(err).Str("run_id", run.RunID).Msg("Failed to save job run")
	}
}

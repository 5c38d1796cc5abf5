package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// JobType names one of the scheduled jobs.
type JobType string

const (
	// JobTransactionStatus moves overdue transactions and sends reminders.
	JobTransactionStatus JobType = "transaction-status"
	// JobRecurring generates the next occurrence of every recurring rule.
	JobRecurring JobType = "recurring-transactions"
	// JobMigration backfills missing status and recurrence fields.
	JobMigration JobType = "migration"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerCLI       Trigger = "cli"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
	// JobStatusSkipped indicates another run of the same job held the lease.
	JobStatusSkipped JobStatus = "skipped"
)

var (
	// ErrJobAlreadyRunning is returned when a run of the same job is in flight.
	ErrJobAlreadyRunning = errors.New("job is already running")
	// ErrUnknownJob is returned for a job name with no registered task.
	ErrUnknownJob = errors.New("unknown job")
	// ErrRunNotFound is returned by a JobStore for an unknown run id.
	ErrRunNotFound = errors.New("job run not found")
)

// ParseJobType validates a job name.
func ParseJobType(s string) (JobType, error) {
	switch t := JobType(s); t {
	case JobTransactionStatus, JobRecurring, JobMigration:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJob, s)
}

// Result summarizes one run of a job.
type Result struct {
	// Candidates is the number of records the job looked at.
	Candidates int `json:"candidates"`
	// Processed is the number of records the job acted on.
	Processed int `json:"processed"`
	// Skipped is the number of records left alone, e.g. already handled by
	// an earlier run.
	Skipped int `json:"skipped"`
	// Failed is the number of records that could not be processed.
	Failed int `json:"failed"`
	// Ops and Commits count batched writes.
	Ops     int `json:"ops"`
	Commits int `json:"commits"`
	// Pushes is the number of push deliveries started.
	Pushes int `json:"pushes"`
}

// Summary renders the result for operators.
func (r Result) Summary() string {
	return fmt.Sprintf("processed %d of %d candidates (%d skipped, %d failed), %d writes in %d commits, %d pushes",
		r.Processed, r.Candidates, r.Skipped, r.Failed, r.Ops, r.Commits, r.Pushes)
}

// Task is the body of a job.
type Task interface {
	Run(ctx context.Context) (Result, error)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) (Result, error)

// Run implements Task.
func (f TaskFunc) Run(ctx context.Context) (Result, error) {
	return f(ctx)
}

// Run is one execution of a job.
type Run struct {
	// RunID is the unique identifier for this run.
	RunID string `json:"run_id"`

	// Job is the job being run.
	Job JobType `json:"job"`

	// Trigger is what started the run.
	Trigger Trigger `json:"trigger"`

	// Status is the current status of the run.
	Status JobStatus `json:"status"`

	// CreatedAt is when the run was requested.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the run started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the run completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the run failed.
	Error string `json:"error,omitempty"`

	// Result is set once the task returned.
	Result *Result `json:"result,omitempty"`

	// RetryCount is the number of times this run has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for queued work.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (r *Run) GetID() string {
	return r.RunID
}

// GetType implements the Job interface.
func (r *Run) GetType() JobType {
	return r.Job
}

// GetStatus implements the Job interface.
func (r *Run) GetStatus() JobStatus {
	return r.Status
}

// Terminal reports whether the run reached a final status.
func (r *Run) Terminal() bool {
	switch r.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusSkipped:
		return true
	}
	return false
}

// Publisher defines the interface for publishing runs to a queue.
type Publisher interface {
	// Publish enqueues a run for asynchronous processing.
	Publish(ctx context.Context, run *Run) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming runs from a queue.
type Consumer interface {
	// Start begins consuming runs from the queue.
	// The handler function is called for each run received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming and waits for in-flight runs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving runs.
type JobStore interface {
	// SaveRun saves or updates a run's state.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns retrieves runs with optional filtering, newest first.
	ListRuns(ctx context.Context, filter JobFilter) ([]*Run, error)
}

// JobFilter defines filtering criteria for listing runs.
type JobFilter struct {
	// Job filters runs by job.
	Job JobType

	// Status filters runs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// Ledger receives every finished run, e.g. for analytics.
type Ledger interface {
	RecordRun(ctx context.Context, run *Run) error
}

// Start marks the run as running.
func (r *Run) Start(now time.Time) {
	r.Status = JobStatusRunning
	r.StartedAt = &now
	r.CompletedAt = nil
}

// Finish records the outcome of the run's task.
func (r *Run) Finish(now time.Time, err error) {
	r.CompletedAt = &now
	switch {
	case err == nil:
		r.Status = JobStatusCompleted
		r.Error = ""
	case errors.Is(err, ErrJobAlreadyRunning):
		r.Status = JobStatusSkipped
		r.Error = err.Error()
	default:
		r.Status = JobStatusFailed
		r.Error = err.Error()
	}
}

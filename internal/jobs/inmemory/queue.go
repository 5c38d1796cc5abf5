package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-tracker/internal/jobs"
)

// DefaultWorkers is the number of concurrent workers when none is set.
const DefaultWorkers = 2

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for run distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	jobChan   chan *jobs.Run
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	clock     clock.Clock
	workers   int
	log       zerolog.Logger
	closed    bool
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many runs can be queued before Publish blocks.
func NewQueue(bufferSize, workers int, store jobs.JobStore, clk clock.Clock, log zerolog.Logger) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Queue{
		jobChan:   make(chan *jobs.Run, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		clock:     clk,
		workers:   workers,
		log:       log,
	}
}

// Publish implements the Publisher interface.
// It enqueues a run for asynchronous processing.
func (q *Queue) Publish(ctx context.Context, run *jobs.Run) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	// Generate run ID if not provided
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = jobs.JobStatusPending
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = q.clock.Now()
	}

	if q.store != nil {
		if err := q.store.SaveRun(ctx, run); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
	}

	// Enqueue with context cancellation support
	select {
	case q.jobChan <- run:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// It starts the worker goroutines that process runs with handler.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

// worker processes runs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case run := <-q.jobChan:
			if run == nil {
				return
			}

			q.processRun(ctx, run, handler)
		}
	}
}

// processRun executes a single run with retry logic. A run skipped because
// another one held the lease is not retried.
func (q *Queue) processRun(ctx context.Context, run *jobs.Run, handler jobs.JobHandler) {
	run.Start(q.clock.Now())
	q.save(ctx, run)

	err := handler(ctx, run)

	run.Finish(q.clock.Now(), err)

	if err != nil && !errors.Is(err, jobs.ErrJobAlreadyRunning) && run.RetryCount < run.MaxRetries {
		run.RetryCount++
		run.Status = jobs.JobStatusRetrying
		q.save(ctx, run)

		// Re-enqueue with linear backoff
		backoff := time.Duration(run.RetryCount) * time.Second
		q.clock.AfterFunc(backoff, func() {
			run.Status = jobs.JobStatusPending
			run.StartedAt = nil
			run.CompletedAt = nil
			if err := q.Publish(ctx, run); err != nil {
				q.log.Error().Err(err).Str("run_id", run.RunID).Msg("Failed to re-enqueue job run")
			}
		})
		return
	}

	q.save(ctx, run)
}

func (q *Queue) save(ctx context.Context, run *jobs.Run) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveRun(ctx, run); err != nil {
		q.log.Error().Err(err).Str("run_id", run.RunID).Msg("Failed to save job run")
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight runs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)

// Package migration backfills transaction fields that older records lack:
// a missing status becomes paid and a missing isRecurring becomes false.
package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/dvloznov/budget-tracker/internal/batch"
	"github.com/dvloznov/budget-tracker/internal/domain"
	"github.com/dvloznov/budget-tracker/internal/gcs"
	"github.com/dvloznov/budget-tracker/internal/jobs"
	"github.com/dvloznov/budget-tracker/internal/logger"
	"github.com/dvloznov/budget-tracker/internal/store"
)

// Store is the part of the document store the migration needs.
type Store interface {
	store.Batcher
	ScanTransactions(ctx context.Context, fn func(store.Document) error) error
}

// Report describes one migration run.
type Report struct {
	RunAt            time.Time `json:"run_at"`
	DryRun           bool      `json:"dry_run"`
	Scanned          int       `json:"scanned"`
	Updated          int       `json:"updated"`
	MissingStatus    int       `json:"missing_status"`
	MissingRecurring int       `json:"missing_recurring"`
	Commits          int       `json:"commits"`
}

// Options tunes a Job.
type Options struct {
	// DryRun counts the records that would change without writing.
	DryRun bool
	// ReportURI, when set, receives a JSON Report (gs:// only).
	ReportURI string
}

// Job is the backfill migration.
type Job struct {
	store   Store
	storage gcs.StorageService
	clock   clock.Clock
	opts    Options
}

// New creates a migration Job. storage may be nil when no report is
// uploaded.
func New(s Store, storage gcs.StorageService, clk clock.Clock, opts Options) *Job {
	return &Job{store: s, storage: storage, clock: clk, opts: opts}
}

// missing reports whether field is absent or null.
func missing(data map[string]interface{}, field string) bool {
	v, ok := data[field]
	return !ok || v == nil
}

// Backfill returns the fields to set on a document, or nil when it is
// already complete.
func Backfill(data map[string]interface{}, now time.Time) map[string]interface{} {
	fields := map[string]interface{}{}
	if missing(data, domain.FieldStatus) {
		fields[domain.FieldStatus] = string(domain.StatusPaid)
	}
	if missing(data, domain.FieldIsRecurring) {
		fields[domain.FieldIsRecurring] = false
	}
	if len(fields) == 0 {
		return nil
	}
	fields[domain.FieldUpdatedAt] = now
	return fields
}

// Migrate scans every transaction and patches incomplete ones. Writes go
// through a batch writer, so each full chunk is committed before more
// updates are queued.
func (j *Job) Migrate(ctx context.Context) (Report, error) {
	now := j.clock.Now()
	rep := Report{RunAt: now, DryRun: j.opts.DryRun}
	w := batch.NewWriter(j.store)

	err := j.store.ScanTransactions(ctx, func(doc store.Document) error {
		rep.Scanned++
		fields := Backfill(doc.Data, now)
		if fields == nil {
			return nil
		}
		if _, ok := fields[domain.FieldStatus]; ok {
			rep.MissingStatus++
		}
		if _, ok := fields[domain.FieldIsRecurring]; ok {
			rep.MissingRecurring++
		}
		rep.Updated++

		if j.opts.DryRun {
			return nil
		}
		return w.Enqueue(ctx, store.UpdateOp(store.CollectionTransactions, doc.ID, fields))
	})
	if err != nil {
		rep.Commits = w.Stats().Commits
		return rep, fmt.Errorf("Migrate: scanning transactions: %w", err)
	}

	if err := w.Commit(ctx); err != nil {
		rep.Commits = w.Stats().Commits
		return rep, fmt.Errorf("Migrate: %w", err)
	}
	rep.Commits = w.Stats().Commits

	return rep, nil
}

// UploadReport writes rep as JSON to uri.
func (j *Job) UploadReport(ctx context.Context, uri string, rep Report) error {
	if j.storage == nil {
		return fmt.Errorf("UploadReport: no storage service configured")
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("UploadReport: encoding report: %w", err)
	}
	if err := j.storage.Upload(ctx, uri, data, "application/json"); err != nil {
		return fmt.Errorf("UploadReport: %w", err)
	}
	return nil
}

// Run implements jobs.Task. A report upload failure is logged but does not
// fail the run.
func (j *Job) Run(ctx context.Context) (jobs.Result, error) {
	log := logger.FromContext(ctx)

	rep, err := j.Migrate(ctx)
	res := jobs.Result{
		Candidates: rep.Scanned,
		Processed:  rep.Updated,
		Skipped:    rep.Scanned - rep.Updated,
		Commits:    rep.Commits,
	}
	if !rep.DryRun {
		res.Ops = rep.Updated
	}
	if err != nil {
		return res, err
	}

	log.Info().
		Bool("dry_run", rep.DryRun).
		Int("scanned", rep.Scanned).
		Int("updated", rep.Updated).
		Int("missing_status", rep.MissingStatus).
		Int("missing_recurring", rep.MissingRecurring).
		Msg("Migration finished")

	if j.opts.ReportURI != "" {
		if err := j.UploadReport(ctx, j.opts.ReportURI, rep); err != nil {
			log.Error().Err(err).Str("uri", j.opts.ReportURI).Msg("Failed to upload migration report")
		}
	}

	return res, nil
}

// Ensure Job implements jobs.Task.
var _ jobs.Task = (*Job)(nil)

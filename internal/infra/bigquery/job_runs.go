// Package bigquery records finished job runs in the BigQuery job_runs table
// so run history can be analysed alongside the rest of the dataset.
package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/budget-tracker/internal/jobs"
)

const jobRunsTable = "job_runs"

// maxErrorLen bounds error_message, matching the column limits used
// elsewhere in the dataset.
const maxErrorLen = 2000

// JobRunRow is one row of job_runs.
type JobRunRow struct {
	RunID   string `bigquery:"run_id"`  // REQUIRED
	Job     string `bigquery:"job"`     // REQUIRED
	Trigger string `bigquery:"trigger"` // NULLABLE
	Status  string `bigquery:"status"`  // REQUIRED

	CreatedTS  time.Time              `bigquery:"created_ts"`  // REQUIRED
	StartedTS  bigquery.NullTimestamp `bigquery:"started_ts"`  // NULLABLE
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Candidates int64 `bigquery:"candidates"`
	Processed  int64 `bigquery:"processed"`
	Skipped    int64 `bigquery:"skipped"`
	Failed     int64 `bigquery:"failed"`
	Writes     int64 `bigquery:"writes"`
	Commits    int64 `bigquery:"commits"`
	Pushes     int64 `bigquery:"pushes"`

	RetryCount   int64  `bigquery:"retry_count"`
	ErrorMessage string `bigquery:"error_message"` // NULLABLE

	Metadata bigquery.NullJSON `bigquery:"metadata"` // NULLABLE
}

func nullTimestamp(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: *t, Valid: true}
}

// NewJobRunRow maps a run to its ledger row.
func NewJobRunRow(run *jobs.Run) (*JobRunRow, error) {
	row := &JobRunRow{
		RunID:      run.RunID,
		Job:        string(run.Job),
		Trigger:    string(run.Trigger),
		Status:     string(run.Status),
		CreatedTS:  run.CreatedAt,
		StartedTS:  nullTimestamp(run.StartedAt),
		FinishedTS: nullTimestamp(run.CompletedAt),
		RetryCount: int64(run.RetryCount),
	}

	errMsg := run.Error
	if len(errMsg) > maxErrorLen {
		errMsg = errMsg[:maxErrorLen]
	}
	row.ErrorMessage = errMsg

	if r := run.Result; r != nil {
		row.Candidates = int64(r.Candidates)
		row.Processed = int64(r.Processed)
		row.Skipped = int64(r.Skipped)
		row.Failed = int64(r.Failed)
		row.Writes = int64(r.Ops)
		row.Commits = int64(r.Commits)
		row.Pushes = int64(r.Pushes)

		summary, err := json.Marshal(map[string]string{"summary": r.Summary()})
		if err != nil {
			return nil, fmt.Errorf("NewJobRunRow: encoding metadata: %w", err)
		}
		row.Metadata = bigquery.NullJSON{JSONVal: string(summary), Valid: true}
	}

	return row, nil
}

// EnsureJobRunsTableWithClient creates the job_runs table if it doesn't exist.
func EnsureJobRunsTableWithClient(ctx context.Context, client *bigquery.Client, datasetID string) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.%s`"+` (
			run_id        STRING NOT NULL,
			job           STRING NOT NULL,
			trigger       STRING,
			status        STRING NOT NULL,
			created_ts    TIMESTAMP NOT NULL,
			started_ts    TIMESTAMP,
			finished_ts   TIMESTAMP,
			candidates    INT64,
			processed     INT64,
			skipped       INT64,
			failed        INT64,
			writes        INT64,
			commits       INT64,
			pushes        INT64,
			retry_count   INT64,
			error_message STRING,
			metadata      JSON
		)
		PARTITION BY DATE(created_ts)
	`, client.Project(), datasetID, jobRunsTable)

	if err := runQuery(ctx, client.Query(sql)); err != nil {
		return fmt.Errorf("EnsureJobRunsTable: %w", err)
	}
	return nil
}

// InsertJobRunWithClient appends a row to job_runs using the provided
// BigQuery client.
func InsertJobRunWithClient(ctx context.Context, client *bigquery.Client, datasetID string, row *JobRunRow) error {
	inserter := client.Dataset(datasetID).Table(jobRunsTable).Inserter()
	// run_id doubles as the insert id so a retried insert is deduplicated.
	saver := &bigquery.StructSaver{Struct: row, InsertID: row.RunID + "-" + row.Status}
	if err := inserter.Put(ctx, saver); err != nil {
		return fmt.Errorf("InsertJobRun: inserting row: %w", err)
	}
	return nil
}

func runQuery(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}

	return nil
}

// JobRunLedger is the BigQuery implementation of jobs.Ledger. It holds a
// shared client to avoid a new connection per run.
type JobRunLedger struct {
	client    *bigquery.Client
	datasetID string
}

// NewJobRunLedger creates a ledger writing to projectID.datasetID.job_runs.
func NewJobRunLedger(ctx context.Context, projectID, datasetID string) (*JobRunLedger, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewJobRunLedger: creating client: %w", err)
	}
	return &JobRunLedger{client: client, datasetID: datasetID}, nil
}

// EnsureTable creates job_runs when missing.
func (l *JobRunLedger) EnsureTable(ctx context.Context) error {
	return EnsureJobRunsTableWithClient(ctx, l.client, l.datasetID)
}

// RecordRun implements jobs.Ledger.
func (l *JobRunLedger) RecordRun(ctx context.Context, run *jobs.Run) error {
	row, err := NewJobRunRow(run)
	if err != nil {
		return err
	}
	return InsertJobRunWithClient(ctx, l.client, l.datasetID, row)
}

// Close closes the BigQuery client connection.
func (l *JobRunLedger) Close() error {
	if l.client != nil {
		return l.client.Close()
	}
	return nil
}

// Ensure JobRunLedger implements jobs.Ledger.
var _ jobs.Ledger = (*JobRunLedger)(nil)

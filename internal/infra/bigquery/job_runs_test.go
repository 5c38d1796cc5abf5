package bigquery

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/budget-tracker/internal/jobs"
)

func TestNewJobRunRow(t *testing.T) {
	created := time.Date(2025, 6, 15, 6, 0, 0, 0, time.UTC)
	started := created.Add(time.Second)
	finished := started.Add(2 * time.Second)

	tests := []struct {
		name  string
		run   *jobs.Run
		check func(t *testing.T, row *JobRunRow)
	}{
		{
			name: "completed run with result",
			run: &jobs.Run{
				RunID:       "run-1",
				Job:         jobs.JobTransactionStatus,
				Trigger:     jobs.TriggerScheduled,
				Status:      jobs.JobStatusCompleted,
				CreatedAt:   created,
				StartedAt:   &started,
				CompletedAt: &finished,
				Result:      &jobs.Result{Candidates: 4, Processed: 3, Skipped: 1, Ops: 6, Commits: 1, Pushes: 3},
			},
			check: func(t *testing.T, row *JobRunRow) {
				if row.Job != "transaction-status" || row.Status != "completed" || row.Trigger != "scheduled" {
					t.Errorf("Unexpected identity columns: %+v", row)
				}
				if !row.StartedTS.Valid || !row.FinishedTS.Valid || !row.FinishedTS.Timestamp.Equal(finished) {
					t.Errorf("Expected timestamps to be set, got %+v / %+v", row.StartedTS, row.FinishedTS)
				}
				if row.Processed != 3 || row.Writes != 6 || row.Pushes != 3 {
					t.Errorf("Unexpected counters: %+v", row)
				}
				var meta map[string]string
				if err := json.Unmarshal([]byte(row.Metadata.JSONVal), &meta); err != nil || meta["summary"] == "" {
					t.Errorf("Expected summary metadata, got %q (%v)", row.Metadata.JSONVal, err)
				}
			},
		},
		{
			name: "failed run without result",
			run: &jobs.Run{
				RunID:     "run-2",
				Job:       jobs.JobMigration,
				Status:    jobs.JobStatusFailed,
				CreatedAt: created,
				Error:     strings.Repeat("x", 3000),
			},
			check: func(t *testing.T, row *JobRunRow) {
				if row.StartedTS.Valid || row.Metadata.Valid {
					t.Error("Expected null started_ts and metadata")
				}
				if len(row.ErrorMessage) != maxErrorLen {
					t.Errorf("Expected error truncated to %d, got %d", maxErrorLen, len(row.ErrorMessage))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := NewJobRunRow(tt.run)
			if err != nil {
				t.Fatalf("NewJobRunRow failed: %v", err)
			}
			tt.check(t, row)
		})
	}
}

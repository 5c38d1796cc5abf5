package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Register(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewCollector()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func TestCollector_Counts(t *testing.T) {
	c := NewCollector()

	c.ObserveJobRun("status", "completed", time.Second)
	c.ObserveJobRun("status", "completed", time.Second)
	c.AddJobRecords("status", "overdue", 3)
	c.AddPushResults(PushPermanent, 2)
	c.AddTokensRemoved(2)
	c.AddBatchCommits("status", 0)

	if got := testutil.ToFloat64(c.jobRuns.WithLabelValues("status", "completed")); got != 2 {
		t.Errorf("job_runs_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.jobRecords.WithLabelValues("status", "overdue")); got != 3 {
		t.Errorf("job_records_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.pushResults.WithLabelValues(PushPermanent)); got != 2 {
		t.Errorf("push_results_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.tokensRemoved); got != 2 {
		t.Errorf("device_tokens_removed_total = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(c.batchCommits); got != 0 {
		t.Errorf("Expected no batch commit series, got %d", got)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveJobRun("status", "failed", time.Second)
	c.AddJobRecords("status", "failed", 1)
	c.AddPushResults(PushSuccess, 1)
	c.AddTokensRemoved(1)
	c.AddBatchCommits("status", 1)
}

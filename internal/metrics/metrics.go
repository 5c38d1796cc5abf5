// Package metrics exposes Prometheus metrics for the scheduled jobs and
// push delivery. A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "budget_tracker"

// Push delivery outcomes.
const (
	PushSuccess   = "success"
	PushPermanent = "permanent"
	PushTransient = "transient"
)

// Collector is a prometheus.Collector for job and push metrics.
type Collector struct {
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobRecords    *prometheus.CounterVec
	batchCommits  *prometheus.CounterVec
	pushResults   *prometheus.CounterVec
	tokensRemoved prometheus.Counter
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "job_runs_total",
				Help:      "The number of job runs by job and final status.",
			}, []string{"job", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "job_duration_seconds",
				Help:      "The time taken by a job run.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			}, []string{"job"},
		),
		jobRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "job_records_total",
				Help:      "The number of records handled by jobs, by outcome.",
			}, []string{"job", "outcome"},
		),
		batchCommits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batch_commits_total",
				Help:      "The number of batched write commits issued by jobs.",
			}, []string{"job"},
		),
		pushResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "push_results_total",
				Help:      "The number of per-token push results by outcome.",
			}, []string{"outcome"},
		),
		tokensRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "device_tokens_removed_total",
				Help:      "The number of device tokens removed after permanent delivery failures.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.jobRuns.Describe(ch)
	c.jobDuration.Describe(ch)
	c.jobRecords.Describe(ch)
	c.batchCommits.Describe(ch)
	c.pushResults.Describe(ch)
	c.tokensRemoved.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.jobRuns.Collect(ch)
	c.jobDuration.Collect(ch)
	c.jobRecords.Collect(ch)
	c.batchCommits.Collect(ch)
	c.pushResults.Collect(ch)
	c.tokensRemoved.Collect(ch)
}

// ObserveJobRun records a finished run.
func (c *Collector) ObserveJobRun(job, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.jobRuns.WithLabelValues(job, status).Inc()
	c.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// AddJobRecords counts n records of a job with the given outcome.
func (c *Collector) AddJobRecords(job, outcome string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.jobRecords.WithLabelValues(job, outcome).Add(float64(n))
}

// AddBatchCommits counts batch commits issued by a job.
func (c *Collector) AddBatchCommits(job string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.batchCommits.WithLabelValues(job).Add(float64(n))
}

// AddPushResults counts per-token push results.
func (c *Collector) AddPushResults(outcome string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.pushResults.WithLabelValues(outcome).Add(float64(n))
}

// AddTokensRemoved counts tokens dropped from the registry.
func (c *Collector) AddTokensRemoved(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.tokensRemoved.Add(float64(n))
}

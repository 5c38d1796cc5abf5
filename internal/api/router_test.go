package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-tracker/internal/api/handlers"
	"github.com/dvloznov/budget-tracker/internal/devicetoken"
	"github.com/dvloznov/budget-tracker/internal/jobs"
	"github.com/dvloznov/budget-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/budget-tracker/internal/metrics"
	"github.com/dvloznov/budget-tracker/internal/store/memory"
)

var epoch = time.Date(2025, 6, 15, 6, 0, 0, 0, time.UTC)

// mockRunner returns a canned run or error for every job.
type mockRunner struct {
	runs   []jobs.JobType
	ctxErr []error
	result *jobs.Result
	err    error
}

func (m *mockRunner) RunNow(ctx context.Context, job jobs.JobType, trigger jobs.Trigger) (*jobs.Run, error) {
	m.runs = append(m.runs, job)
	m.ctxErr = append(m.ctxErr, ctx.Err())
	run := &jobs.Run{RunID: "run-" + string(job), Job: job, Trigger: trigger, Result: m.result}
	return run, m.err
}

type fixture struct {
	handler http.Handler
	runner  *mockRunner
	runs    *inmemory.Store
	users   *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := testclock.NewClock(epoch)
	runner := &mockRunner{}
	runStore := inmemory.NewStore()
	users := memory.New()
	registry := devicetoken.NewRegistry(users, clk, 0, zerolog.Nop())

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector()
	reg.MustRegister(collector)
	collector.ObserveJobRun(string(jobs.JobRecurring), string(jobs.JobStatusCompleted), time.Second)

	h := NewRouter(RouterConfig{
		Jobs:     handlers.NewJobsHandler(runner, runStore, zerolog.Nop()),
		Devices:  handlers.NewDevicesHandler(registry, 3, zerolog.Nop()),
		Gatherer: reg,
		Clock:    clk,
		Log:      zerolog.Nop(),
	})
	return &fixture{handler: h, runner: runner, runs: runStore, users: users}
}

func (f *fixture) do(method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestRunJob(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		err         error
		wantStatus  int
		wantSuccess bool
	}{
		{"success", "/api/jobs/transaction-status/run", nil, http.StatusOK, true},
		{"unknown job", "/api/jobs/nightly-cleanup/run", nil, http.StatusNotFound, false},
		{"already running", "/api/jobs/recurring-transactions/run", fmt.Errorf("Execute: %w", jobs.ErrJobAlreadyRunning), http.StatusConflict, false},
		{"job failure", "/api/jobs/migration/run", errors.New("flush: committing batch of 3 ops: unavailable"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.runner.err = tt.err
			f.runner.result = &jobs.Result{Candidates: 2, Processed: 2, Ops: 4, Commits: 1, Pushes: 2}

			rec, body := f.do(http.MethodPost, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if body["success"] != tt.wantSuccess {
				t.Errorf("Expected success=%v, got %v", tt.wantSuccess, body)
			}
			if tt.wantSuccess {
				if !strings.Contains(body["message"].(string), "processed 2 of 2 candidates") {
					t.Errorf("Unexpected message: %v", body["message"])
				}
			} else if body["error"] == "" || body["error"] == nil {
				t.Errorf("Expected error message, got %v", body)
			}
			if tt.wantStatus == http.StatusInternalServerError {
				if body["error"] != "job failed" {
					t.Errorf("Expected generic error, got %v", body["error"])
				}
				if strings.Contains(rec.Body.String(), "committing batch") {
					t.Errorf("Internal error leaked to client: %s", rec.Body.String())
				}
			}
		})
	}
}

func TestRunJob_RejectsGet(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(http.MethodGet, "/api/jobs/migration/run", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
	if len(f.runner.runs) != 0 {
		t.Error("Expected no run")
	}
}

func TestRunJob_SurvivesClientDisconnect(t *testing.T) {
	f := newFixture(t)
	f.runner.result = &jobs.Result{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/transaction-status/run", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if len(f.runner.ctxErr) != 1 {
		t.Fatalf("Expected one run, got %d", len(f.runner.ctxErr))
	}
	if f.runner.ctxErr[0] != nil {
		t.Errorf("Expected the run context to outlive the request, got %v", f.runner.ctxErr[0])
	}
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestRunsEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.runs.SaveRun(ctx, &jobs.Run{RunID: "r1", Job: jobs.JobMigration, Status: jobs.JobStatusCompleted, CreatedAt: epoch})
	_ = f.runs.SaveRun(ctx, &jobs.Run{RunID: "r2", Job: jobs.JobRecurring, Status: jobs.JobStatusFailed, CreatedAt: epoch.Add(time.Minute)})

	rec, body := f.do(http.MethodGet, "/api/jobs/runs?status=failed", "")
	if rec.Code != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("Expected one failed run, got %d %v", rec.Code, body)
	}

	rec, body = f.do(http.MethodGet, "/api/jobs/runs/r1", "")
	if rec.Code != http.StatusOK || body["run_id"] != "r1" {
		t.Errorf("Expected run r1, got %d %v", rec.Code, body)
	}

	rec, _ = f.do(http.MethodGet, "/api/jobs/runs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestDeviceEndpoints(t *testing.T) {
	f := newFixture(t)

	for _, tok := range []string{"t1", "t2", "t3", "t4"} {
		rec, body := f.do(http.MethodPost, "/api/users/u1/devices", `{"token":"`+tok+`","device_type":"ios"}`)
		if rec.Code != http.StatusCreated || body["success"] != true {
			t.Fatalf("Register %s: got %d %v", tok, rec.Code, body)
		}
	}

	rec, body := f.do(http.MethodGet, "/api/users/u1/devices", "")
	if rec.Code != http.StatusOK || body["count"] != float64(4) {
		t.Fatalf("Expected 4 tokens, got %d %v", rec.Code, body)
	}

	rec, body = f.do(http.MethodPost, "/api/users/u1/devices/cleanup", `{"max_tokens":2}`)
	if rec.Code != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("Expected 2 removed, got %d %v", rec.Code, body)
	}

	rec, _ = f.do(http.MethodDelete, "/api/users/u1/devices/t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on delete, got %d", rec.Code)
	}

	_, body = f.do(http.MethodGet, "/api/users/u1/devices", "")
	if body["count"] != float64(1) {
		t.Errorf("Expected one token left, got %v", body)
	}
}

func TestDeviceEndpoints_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"malformed body", http.MethodPost, "/api/users/u1/devices", `{`},
		{"missing token", http.MethodPost, "/api/users/u1/devices", `{"device_type":"ios"}`},
		{"negative limit", http.MethodPost, "/api/users/u1/devices/cleanup", `{"max_tokens":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := f.do(tt.method, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest || body["success"] != false {
				t.Errorf("Expected 400, got %d %v", rec.Code, body)
			}
		})
	}
}

func TestCleanup_DefaultLimit(t *testing.T) {
	f := newFixture(t)
	for _, tok := range []string{"a", "b", "c", "d", "e"} {
		f.do(http.MethodPost, "/api/users/u1/devices", `{"token":"`+tok+`"}`)
	}

	rec, body := f.do(http.MethodPost, "/api/users/u1/devices/cleanup", "")
	if rec.Code != http.StatusOK || body["count"] != float64(2) {
		t.Errorf("Expected 2 removed with the configured limit of 3, got %d %v", rec.Code, body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("Unexpected health response: %d %v", rec.Code, body)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	f.handler.ServeHTTP(mrec, req)
	if mrec.Code != http.StatusOK || !strings.Contains(mrec.Body.String(), "budget_tracker_job_runs_total") {
		t.Errorf("Expected job run metric in exposition, got %d", mrec.Code)
	}
}

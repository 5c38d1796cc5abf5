package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/dvloznov/budget-tracker/internal/api/middleware"
	"github.com/dvloznov/budget-tracker/internal/devicetoken"
	"github.com/dvloznov/budget-tracker/internal/domain"
	"github.com/dvloznov/budget-tracker/internal/jobs"
	"github.com/dvloznov/budget-tracker/internal/logger"
)

// JobRunner runs a job synchronously.
type JobRunner interface {
	RunNow(ctx context.Context, job jobs.JobType, trigger jobs.Trigger) (*jobs.Run, error)
}

// JobsHandler handles job trigger and run history endpoints.
type JobsHandler struct {
	runner JobRunner
	store  jobs.JobStore
	log    zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(runner JobRunner, store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		runner: runner,
		store:  store,
		log:    log,
	}
}

// RunJob handles POST /api/jobs/{job}/run. The job runs to completion
// before the response is written, even if the client goes away.
func (h *JobsHandler) RunJob(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	job, err := jobs.ParseJobType(name)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	// The run outlives a disconnecting client; its lease and ledger entry
	// must still be settled.
	run, err := h.runner.RunNow(context.WithoutCancel(ctx), job, jobs.TriggerManual)
	switch {
	case errors.Is(err, jobs.ErrJobAlreadyRunning):
		middleware.WriteError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, jobs.ErrUnknownJob):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		middleware.WriteError(w, http.StatusInternalServerError, "job failed")
		return
	}

	message := "completed"
	if run.Result != nil {
		message = run.Result.Summary()
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": message,
		"run_id":  run.RunID,
	})
}

// GetRun handles GET /api/jobs/runs/{id}
func (h *JobsHandler) GetRun(w http.ResponseWriter, r *http.Request, runID string) {
	ctx := r.Context()

	run, err := h.store.GetRun(ctx, runID)
	if errors.Is(err, jobs.ErrRunNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to get run")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, run)
}

// ListRuns handles GET /api/jobs/runs
func (h *JobsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		Job:    jobs.JobType(query.Get("job")),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	runs, err := h.store.ListRuns(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// TokenRegistry manages a user's device tokens.
type TokenRegistry interface {
	Register(ctx context.Context, userID, token string, info devicetoken.DeviceInfo) (domain.TokenMetadata, error)
	Tokens(ctx context.Context, userID string) ([]string, error)
	Remove(ctx context.Context, userID, token string) error
	Cleanup(ctx context.Context, userID string, maxTokens int) ([]string, error)
}

// DevicesHandler handles device token endpoints.
type DevicesHandler struct {
	registry  TokenRegistry
	maxTokens int
	log       zerolog.Logger
}

// NewDevicesHandler creates a new devices handler. maxTokens is the
// cleanup limit used when a request does not name one.
func NewDevicesHandler(registry TokenRegistry, maxTokens int, log zerolog.Logger) *DevicesHandler {
	return &DevicesHandler{
		registry:  registry,
		maxTokens: maxTokens,
		log:       log,
	}
}

type tokenResponse struct {
	Token            string    `json:"token"`
	DeviceName       string    `json:"device_name,omitempty"`
	DeviceType       string    `json:"device_type,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	LastUsed         time.Time `json:"last_used"`
	InteractionCount int       `json:"interaction_count"`
}

// RegisterDevice handles POST /api/users/{userID}/devices
func (h *DevicesHandler) RegisterDevice(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Token      string `json:"token"`
		DeviceName string `json:"device_name"`
		DeviceType string `json:"device_type"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	md, err := h.registry.Register(r.Context(), userID, req.Token, devicetoken.DeviceInfo{Name: req.DeviceName, Type: req.DeviceType})
	if errors.Is(err, devicetoken.ErrInvalidToken) {
		middleware.WriteError(w, http.StatusBadRequest, "Token is required")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to register device")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to register device")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"device": tokenResponse{
			Token:            req.Token,
			DeviceName:       md.DeviceName,
			DeviceType:       md.DeviceType,
			CreatedAt:        md.CreatedAt,
			LastUsed:         md.LastUsed,
			InteractionCount: md.InteractionCount,
		},
	})
}

// ListDevices handles GET /api/users/{userID}/devices
func (h *DevicesHandler) ListDevices(w http.ResponseWriter, r *http.Request, userID string) {
	tokens, err := h.registry.Tokens(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list devices")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list devices")
		return
	}
	if tokens == nil {
		tokens = []string{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tokens": tokens,
		"count":  len(tokens),
	})
}

// RemoveDevice handles DELETE /api/users/{userID}/devices/{token}
func (h *DevicesHandler) RemoveDevice(w http.ResponseWriter, r *http.Request, userID, token string) {
	if err := h.registry.Remove(r.Context(), userID, token); err != nil {
		if errors.Is(err, devicetoken.ErrInvalidToken) {
			middleware.WriteError(w, http.StatusBadRequest, "Token is required")
			return
		}
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to remove device")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to remove device")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// CleanupDevices handles POST /api/users/{userID}/devices/cleanup. An empty
// body uses the configured limit.
func (h *DevicesHandler) CleanupDevices(w http.ResponseWriter, r *http.Request, userID string) {
	req := struct {
		MaxTokens *int `json:"max_tokens"`
	}{}

	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	limit := h.maxTokens
	if req.MaxTokens != nil {
		limit = *req.MaxTokens
	}

	removed, err := h.registry.Cleanup(r.Context(), userID, limit)
	if errors.Is(err, devicetoken.ErrInvalidLimit) {
		middleware.WriteError(w, http.StatusBadRequest, "max_tokens must not be negative")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to clean up devices")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to clean up devices")
		return
	}
	if removed == nil {
		removed = []string{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"removed": removed,
		"count":   len(removed),
	})
}

// Health handles GET /health
func Health(clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   clk.Now().Format(time.RFC3339),
		})
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tasklist-api/internal/domain"
	"tasklist-api/internal/filter"
	"tasklist-api/internal/respond"
	"tasklist-api/internal/tasks"
	"tasklist-api/pkg/logging/logging"
)

// TaskService is what the handlers need from tasks.Service.
type TaskService interface {
	List(ctx context.Context, userID string, f filter.FilterSpec) (tasks.ListResult, error)
	Stats(ctx context.Context, userID string) (tasks.StatsResult, error)
	Create(ctx context.Context, userID string, in tasks.TaskInput) (domain.Task, error)
	Get(ctx context.Context, userID, id string) (domain.Task, error)
	Update(ctx context.Context, userID, id string, in tasks.TaskInput) (domain.Task, error)
	Delete(ctx context.Context, userID, id string) error
}

// TaskHandler serves the /v1/tasks routes. Every route runs behind
// RequireUser, so a user id is always in the context.
type TaskHandler struct {
	Service TaskService
	Filter  filter.Options
}

func NewTaskHandler(svc TaskService, opts filter.Options) *TaskHandler {
	return &TaskHandler{Service: svc, Filter: opts}
}

type listResponse struct {
	Success bool `json:"success"`
	Cached  bool `json:"cached"`
	domain.Page
}

type statsResponse struct {
	Success bool         `json:"success"`
	Cached  bool         `json:"cached"`
	Data    domain.Stats `json:"data"`
}

type taskResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    *domain.Task `json:"data,omitempty"`
}

// List handles GET /v1/tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := domain.UserFromCtx(ctx)
	start := time.Now()

	f := filter.Build(r.URL.Query(), h.Filter)
	res, err := h.Service.List(ctx, userID, f)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	logging.L(ctx).Info("cache_decision",
		zap.String("cache", "list"),
		zap.Bool("cache_hit", res.Cached),
		zap.Int("count", res.Page.Count),
		zap.Duration("total_latency", time.Since(start)),
	)
	respond.JSON(w, http.StatusOK, listResponse{Success: true, Cached: res.Cached, Page: res.Page})
}

// Stats handles GET /v1/tasks/stats/summary.
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := domain.UserFromCtx(ctx)
	start := time.Now()

	res, err := h.Service.Stats(ctx, userID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	logging.L(ctx).Info("cache_decision",
		zap.String("cache", "stats"),
		zap.Bool("cache_hit", res.Cached),
		zap.Duration("total_latency", time.Since(start)),
	)
	respond.JSON(w, http.StatusOK, statsResponse{Success: true, Cached: res.Cached, Data: res.Stats})
}

// Create handles POST /v1/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := domain.UserFromCtx(ctx)

	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	t, err := h.Service.Create(ctx, userID, in)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, taskResponse{Success: true, Message: "task created", Data: &t})
}

// Get handles GET /v1/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := domain.UserFromCtx(ctx)

	t, err := h.Service.Get(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	respond.JSON(w, http.StatusOK, taskResponse{Success: true, Data: &t})
}

// Update handles PUT /v1/tasks/{id}.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := domain.UserFromCtx(ctx)

	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	t, err := h.Service.Update(ctx, userID, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	respond.JSON(w, http.StatusOK, taskResponse{Success: true, Message: "task updated", Data: &t})
}

// Delete handles DELETE /v1/tasks/{id}.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := domain.UserFromCtx(ctx)

	if err := h.Service.Delete(ctx, userID, chi.URLParam(r, "id")); err != nil {
		writeError(ctx, w, err)
		return
	}
	respond.JSON(w, http.StatusOK, taskResponse{Success: true, Message: "task deleted"})
}

func decodeInput(w http.ResponseWriter, r *http.Request) (tasks.TaskInput, bool) {
	var in tasks.TaskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logging.L(r.Context()).Warn("invalid request body", zap.Error(err))

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return in, false
		}
		respond.Error(w, http.StatusBadRequest, "invalid JSON")
		return in, false
	}
	return in, true
}

// writeError maps domain errors onto statuses. Anything unrecognised is a 500
// and is the only case logged at error level.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := logging.L(ctx)

	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		respond.JSON(w, http.StatusBadRequest, respond.ErrorBody{Message: "invalid task", Errors: verr.Problems})
	case errors.Is(err, domain.ErrInvalidTask):
		respond.Error(w, http.StatusBadRequest, "invalid task")
	case errors.Is(err, domain.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "task not found")
	case errors.Is(err, domain.ErrUnauthorized):
		respond.Error(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, domain.ErrRateLimited):
		respond.Error(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrStorageUnavailable):
		logger.Warn("storage unavailable", zap.Error(err))
		respond.Error(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		logger.Error("unhandled error", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

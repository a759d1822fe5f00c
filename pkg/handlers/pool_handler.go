package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/jsonutil"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
	"github.com/ekaya-inc/puzzle-engine/pkg/services"
)

// maxJobsPerRequest bounds operator enqueue requests.
const maxJobsPerRequest = 500

// EnqueueJobsRequest is the body of POST /api/pool/{config}/jobs. Fields are
// raw so that clients may send counts as strings.
type EnqueueJobsRequest struct {
	Count     json.RawMessage `json:"count"`
	ThemeHint json.RawMessage `json:"theme_hint"`
}

// EnqueueJobsResponse lists the jobs created by an enqueue request.
type EnqueueJobsResponse struct {
	Jobs []*models.GenerationJob `json:"jobs"`
}

// ConfigListResponse wraps the configured puzzle shapes.
type ConfigListResponse struct {
	Configs []*models.PuzzleConfig `json:"configs"`
}

// PoolHandler exposes the pool manager over HTTP.
type PoolHandler struct {
	pool   services.PoolService
	logger *zap.Logger
}

// NewPoolHandler creates a new PoolHandler.
func NewPoolHandler(pool services.PoolService, logger *zap.Logger) *PoolHandler {
	return &PoolHandler{pool: pool, logger: logger.Named("pool-handler")}
}

// RegisterRoutes registers the pool handler's routes on the given mux.
func (h *PoolHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/pool"
	mux.HandleFunc("GET "+base+"/configs", h.ListConfigs)
	mux.HandleFunc("GET "+base+"/{config}/stats", h.Stats)
	mux.HandleFunc("POST "+base+"/{config}/allocate", h.Allocate)
	mux.HandleFunc("POST "+base+"/{config}/jobs", h.EnqueueJobs)
	mux.HandleFunc("GET /api/puzzles/{pid}", h.GetPuzzle)
}

// ListConfigs handles GET /api/pool/configs.
func (h *PoolHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.pool.ListConfigs(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "list_configs_failed", err)
		return
	}
	h.respond(w, http.StatusOK, ConfigListResponse{Configs: configs})
}

// Stats handles GET /api/pool/{config}/stats.
func (h *PoolHandler) Stats(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.pool.GetConfig(r.Context(), r.PathValue("config"))
	if err != nil {
		writeServiceError(w, h.logger, "stats_failed", err)
		return
	}

	stats, err := h.pool.PoolStats(r.Context(), cfg.ID)
	if err != nil {
		writeServiceError(w, h.logger, "stats_failed", err)
		return
	}
	h.respond(w, http.StatusOK, stats)
}

// GetPuzzle handles GET /api/puzzles/{pid}. It returns the stored puzzle in
// any status, including its validation report.
func (h *PoolHandler) GetPuzzle(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePuzzleID(w, r, h.logger)
	if !ok {
		return
	}

	p, err := h.pool.GetPuzzle(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "get_puzzle_failed", err)
		return
	}
	h.respond(w, http.StatusOK, p)
}

// Allocate handles POST /api/pool/{config}/allocate. A starved pool with no
// fallback puzzle answers 204.
func (h *PoolHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	served, err := h.pool.ServePuzzle(r.Context(), r.PathValue("config"))
	if err != nil {
		writeServiceError(w, h.logger, "allocate_failed", err)
		return
	}
	if served == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respond(w, http.StatusOK, served)
}

// EnqueueJobs handles POST /api/pool/{config}/jobs.
func (h *PoolHandler) EnqueueJobs(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.pool.GetConfig(r.Context(), r.PathValue("config"))
	if err != nil {
		writeServiceError(w, h.logger, "enqueue_failed", err)
		return
	}

	var req EnqueueJobsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(w, "Invalid request body")
		return
	}

	count, err := jsonutil.FlexibleIntValue(req.Count, 1)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}
	if count < 1 || count > maxJobsPerRequest {
		h.badRequest(w, fmt.Sprintf("count must be between 1 and %d", maxJobsPerRequest))
		return
	}

	var themeHint *string
	if hint := jsonutil.FlexibleStringValue(req.ThemeHint); hint != "" {
		themeHint = &hint
	}

	jobs, err := h.pool.EnqueueGenerationJobs(r.Context(), cfg.ID, count, models.JobSourceOperator, themeHint)
	if err != nil {
		writeServiceError(w, h.logger, "enqueue_failed", err)
		return
	}

	h.logger.Info("Enqueued operator jobs",
		zap.String("config", cfg.Name),
		zap.Int("count", len(jobs)))
	h.respond(w, http.StatusAccepted, EnqueueJobsResponse{Jobs: jobs})
}

func (h *PoolHandler) respond(w http.ResponseWriter, status int, data any) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *PoolHandler) badRequest(w http.ResponseWriter, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

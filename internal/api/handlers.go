package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/pkg/logger"
	"github.com/ignite/mailmind/internal/store/postgres"
	"github.com/ignite/mailmind/internal/supervisor"
)

// PipelineRunner launches supervised pipeline jobs.
type PipelineRunner interface {
	Run(ctx context.Context, accountID string, force bool) (*domain.Job, error)
}

// JobControl is the supervisor surface the API needs.
type JobControl interface {
	Status(ctx context.Context, jobID string) (*domain.JobStatus, error)
	Stop(ctx context.Context, jobID string) error
}

// Store is the read surface the API serves from.
type Store interface {
	ListContacts(ctx context.Context, accountID string, f postgres.ContactFilter) ([]domain.Contact, error)
	GetLatestTree(ctx context.Context, accountID string) (*domain.KnowledgeTree, error)
	GetLatestSnapshot(ctx context.Context, accountID string) (*domain.OrganizedSnapshot, error)
	ListJobs(ctx context.Context, accountID string, limit int) ([]domain.Job, error)
}

// Handlers holds the dependencies for all HTTP handlers.
type Handlers struct {
	pipeline PipelineRunner
	jobs     JobControl
	store    Store
}

// NewHandlers creates the handler set.
func NewHandlers(pipeline PipelineRunner, jobs JobControl, store Store) *Handlers {
	return &Handlers{pipeline: pipeline, jobs: jobs, store: store}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runRequest struct {
	AccountID string `json:"account_id"`
	Force     bool   `json:"force"`
}

// RunPipeline launches a full pipeline job for an account.
func (h *Handlers) RunPipeline(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" {
		respondError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	job, err := h.pipeline.Run(r.Context(), req.AccountID, req.Force)
	if err != nil {
		if domain.KindOf(err) == domain.ErrKindStoreConflict {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		logger.Error("pipeline start failed", "account_id", req.AccountID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to start pipeline")
		return
	}
	respondJSON(w, http.StatusAccepted, job.Status())
}

// GetJob returns a job's externally visible status.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.jobs.Status(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// StopJob requests cooperative cancellation of a running job.
func (h *Handlers) StopJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.jobs.Stop(r.Context(), id); err != nil {
		if errors.Is(err, supervisor.ErrJobNotRunning) {
			respondError(w, http.StatusConflict, "job is not running")
			return
		}
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// ListJobs returns recent jobs for an account.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		respondError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	jobs, err := h.store.ListJobs(r.Context(), accountID, limit)
	if err != nil {
		logger.Error("list jobs failed", "account_id", accountID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// LatestTree returns the current knowledge tree for an account.
func (h *Handlers) LatestTree(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		respondError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	tree, err := h.store.GetLatestTree(r.Context(), accountID)
	if errors.Is(err, postgres.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no knowledge tree yet")
		return
	}
	if err != nil {
		logger.Error("load tree failed", "account_id", accountID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load tree")
		return
	}
	respondJSON(w, http.StatusOK, tree)
}

// LatestSnapshot returns the current organized snapshot for an account.
func (h *Handlers) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		respondError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	snap, err := h.store.GetLatestSnapshot(r.Context(), accountID)
	if errors.Is(err, postgres.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no snapshot yet")
		return
	}
	if err != nil {
		logger.Error("load snapshot failed", "account_id", accountID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// ListContacts returns contacts, optionally filtered by tier and status.
func (h *Handlers) ListContacts(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		respondError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	var filter postgres.ContactFilter
	if tier := r.URL.Query().Get("tier"); tier != "" {
		filter.Tiers = []domain.TrustTier{domain.TrustTier(tier)}
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Statuses = []domain.RelationshipStatus{domain.RelationshipStatus(status)}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	contacts, err := h.store.ListContacts(r.Context(), accountID, filter)
	if err != nil {
		logger.Error("list contacts failed", "account_id", accountID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"contacts": contacts})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

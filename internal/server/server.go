// Package server exposes the pipeline over HTTP so an upstream application
// can trigger and observe runs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/steveyegge/sigtrend/internal/ai"
	"github.com/steveyegge/sigtrend/internal/logging"
	"github.com/steveyegge/sigtrend/internal/pipeline"
	"github.com/steveyegge/sigtrend/internal/types"
)

// Pipeline is the subset of *pipeline.Orchestrator the server drives
type Pipeline interface {
	Start(ctx context.Context, projectID string)
	Resume(ctx context.Context, projectID string) (types.Phase, error)
	Reset(ctx context.Context, projectID string, clearDerived bool) error
	Status(ctx context.Context, projectID string) (*types.ProcessingState, types.Progress, error)
	RetryFailedVerifications(ctx context.Context, projectID string) (*pipeline.RepairResult, error)
	GenerateSummary(ctx context.Context, texts []string) (*ai.Summary, error)
	Runs(ctx context.Context, projectID string, limit int) ([]*types.RunAttempt, error)
}

// Server routes HTTP requests to the pipeline. Runs started over HTTP use
// the server's base context, not the request's, so they outlive the request.
type Server struct {
	pipeline Pipeline
	logger   *logging.Logger
	baseCtx  context.Context
}

// New creates a server. baseCtx bounds every background run.
func New(baseCtx context.Context, p Pipeline, logger *logging.Logger) *Server {
	return &Server{
		pipeline: p,
		logger:   logging.OrNop(logger),
		baseCtx:  baseCtx,
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Post("/resume", s.handleResume)
		r.Post("/reset", s.handleReset)
		r.Post("/verifications/retry", s.handleRetryVerifications)
		r.Get("/status", s.handleStatus)
		r.Get("/runs", s.handleRuns)
	})
	r.Post("/summaries", s.handleSummary)

	return r
}

// handleRun starts a run in the background.
// POST /projects/{projectID}/run
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	s.pipeline.Start(s.baseCtx, projectID)
	writeJSON(w, http.StatusAccepted, map[string]string{"project_id": projectID, "status": "started"})
}

// handleResume moves a failed project back into its failed phase and starts it.
// POST /projects/{projectID}/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	phase, err := s.pipeline.Resume(r.Context(), projectID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.pipeline.Start(s.baseCtx, projectID)
	writeJSON(w, http.StatusAccepted, map[string]string{"project_id": projectID, "phase": string(phase)})
}

// handleReset returns a project to pending. ?clear=true also discards
// derived signal data.
// POST /projects/{projectID}/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	clearDerived := r.URL.Query().Get("clear") == "true"
	if err := s.pipeline.Reset(r.Context(), projectID, clearDerived); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"project_id": projectID, "phase": string(types.PhasePending)})
}

// POST /projects/{projectID}/verifications/retry
func (s *Server) handleRetryVerifications(w http.ResponseWriter, r *http.Request) {
	result, err := s.pipeline.RetryFailedVerifications(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type statusResponse struct {
	State    *types.ProcessingState `json:"state"`
	Progress types.Progress         `json:"progress"`
}

// GET /projects/{projectID}/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, progress, err := s.pipeline.Status(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{State: state, Progress: progress})
}

// GET /projects/{projectID}/runs?limit=N
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	runs, err := s.pipeline.Runs(r.Context(), chi.URLParam(r, "projectID"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*types.RunAttempt{}
	}
	writeJSON(w, http.StatusOK, runs)
}

type summaryRequest struct {
	Texts []string `json:"texts"`
}

// POST /summaries
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	summary, err := s.pipeline.GenerateSummary(r.Context(), req.Texts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrProjectBusy),
		errors.Is(err, pipeline.ErrNotInError),
		errors.Is(err, types.ErrPhaseConflict),
		errors.Is(err, types.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ai.ErrNoTexts):
		return http.StatusBadRequest
	case ai.IsPermanent(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modelproof/xaibench/internal/compare"
	"github.com/modelproof/xaibench/internal/explain"
	"github.com/modelproof/xaibench/internal/jobs"
	"github.com/modelproof/xaibench/internal/model"
	"github.com/modelproof/xaibench/internal/store"
)

// generateResponse is the 202 body for job submission. Status is the job
// state at submit time; cache hits are born completed.
type generateResponse struct {
	JobID    string         `json:"job_id"`
	Status   model.JobState `json:"status"`
	Progress float64        `json:"progress"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.respondError(w, http.StatusTooManyRequests, "rate_limited", "submit rate limit exceeded")
		return
	}

	var req jobs.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.ModelID == "" {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "model_id is required")
		return
	}

	job, err := s.orch.Submit(r.Context(), req)
	if err != nil {
		s.respondSubmitError(w, err)
		return
	}

	// Always 202: the caller polls regardless of whether the job was
	// served from cache.
	s.respondJSON(w, http.StatusAccepted, generateResponse{
		JobID:    job.ID,
		Status:   job.State,
		Progress: job.Progress,
	})
}

func (s *Server) respondSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrModelNotFound):
		s.respondError(w, http.StatusNotFound, jobs.ClassModelNotFound, err.Error())
	case errors.Is(err, jobs.ErrDatasetNotFound):
		s.respondError(w, http.StatusNotFound, jobs.ClassDatasetNotFound, err.Error())
	case errors.Is(err, explain.ErrUnsupportedMethod):
		s.respondError(w, http.StatusUnprocessableEntity, jobs.ClassUnsupportedMethod, err.Error())
	case errors.Is(err, explain.ErrInstanceOutOfRange):
		s.respondError(w, http.StatusUnprocessableEntity, jobs.ClassInstanceOutOfRange, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, "internal", "job submission failed")
	}
}

// jobResponse is the polling body: the job plus, once completed, the
// attribution artifact.
type jobResponse struct {
	Job    model.ExplanationJob `json:"job"`
	Result *model.Explanation   `json:"result,omitempty"`
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "job_not_found", err.Error())
		return
	}

	resp := jobResponse{Job: *job}
	if job.State == model.JobStateCompleted && job.ExplanationID != "" {
		if exp, err := s.store.GetExplanation(r.Context(), job.ExplanationID); err == nil {
			resp.Result = exp
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"jobs": s.orch.List()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.Cancel(chi.URLParam(r, "id"))
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, jobResponse{Job: *job})
	case errors.Is(err, jobs.ErrJobNotFound):
		s.respondError(w, http.StatusNotFound, "job_not_found", err.Error())
	case errors.Is(err, jobs.ErrAlreadyTerminal):
		s.respondError(w, http.StatusConflict, "job_terminal", err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, "internal", "cancel failed")
	}
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "job_not_found", err.Error())
		return
	}
	if job.State != model.JobStateCompleted {
		s.respondError(w, http.StatusConflict, "job_not_completed",
			"quality requires a completed job, state is "+string(job.State))
		return
	}

	exp, err := s.store.GetExplanation(r.Context(), job.ExplanationID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "explanation_not_found", err.Error())
		return
	}
	m, err := s.store.GetModel(r.Context(), exp.ModelID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, jobs.ClassModelNotFound, err.Error())
		return
	}
	ds, err := s.store.GetDataset(r.Context(), m.DatasetID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, jobs.ClassDatasetNotFound, err.Error())
		return
	}

	metrics, err := s.evaluator.Evaluate(r.Context(), m, ds, exp)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "evaluation_failed", err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, metrics)
}

// compareRequest selects the latest completed artifact per method for the
// given model and scope.
type compareRequest struct {
	ModelID string         `json:"model_id"`
	Methods []model.Method `json:"methods"`
	Scope   model.Scope    `json:"scope"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.ModelID == "" || len(req.Methods) != 2 {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "model_id and exactly two methods are required")
		return
	}

	exps, err := s.store.ListExplanationsByModel(r.Context(), req.ModelID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "internal", "list explanations failed")
		return
	}

	picked := make([]*model.Explanation, 2)
	for i, method := range req.Methods {
		picked[i] = latestByMethodScope(exps, method, req.Scope)
		if picked[i] == nil {
			s.respondError(w, http.StatusNotFound, "explanation_not_found",
				"no completed "+string(method)+" explanation for model "+req.ModelID)
			return
		}
	}

	result, err := compare.Explanations(picked[0], picked[1])
	if err != nil {
		if errors.Is(err, compare.ErrIncompatible) {
			s.respondError(w, http.StatusConflict, "incompatible_explanations", err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, "internal", "comparison failed")
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// latestByMethodScope returns the newest artifact matching method and scope.
func latestByMethodScope(exps []model.Explanation, method model.Method, scope model.Scope) *model.Explanation {
	var best *model.Explanation
	for i := range exps {
		e := &exps[i]
		if e.Method != method || e.Scope != scope {
			continue
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	return best
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	filter := store.ModelFilter{
		Family: model.ModelFamily(r.URL.Query().Get("family")),
		Status: model.ModelStatus(r.URL.Query().Get("status")),
	}
	models, err := s.store.ListModels(r.Context(), filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "internal", "list models failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetModel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, jobs.ClassModelNotFound, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, "internal", "get model failed")
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.board.Build(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "internal", "leaderboard build failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		s.respondJSON(w, http.StatusOK, s.orch.Stats())
		return
	}
	snap, err := s.collector.Collect(r.Context(), 24)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "internal", "metrics collection failed")
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

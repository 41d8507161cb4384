// Package api exposes the benchmarking service over REST: job submission
// and polling, cancellation, quality evaluation, cross-method comparison,
// model listing and the leaderboard.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/modelproof/xaibench/internal/jobs"
	"github.com/modelproof/xaibench/internal/leaderboard"
	"github.com/modelproof/xaibench/internal/monitoring"
	"github.com/modelproof/xaibench/internal/quality"
	"github.com/modelproof/xaibench/internal/store"
)

// Server wires the domain components behind HTTP handlers.
type Server struct {
	store     store.Store
	orch      *jobs.Orchestrator
	evaluator *quality.Evaluator
	board     *leaderboard.Builder
	collector *monitoring.Collector
	limiter   *rate.Limiter
	log       *zap.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to zap.L().
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithSubmitLimit guards the generate endpoint with a token bucket.
func WithSubmitLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithCollector enables the metrics summary endpoint.
func WithCollector(c *monitoring.Collector) Option {
	return func(s *Server) { s.collector = c }
}

// NewServer assembles the REST surface.
func NewServer(st store.Store, orch *jobs.Orchestrator, evaluator *quality.Evaluator,
	board *leaderboard.Builder, opts ...Option) *Server {
	s := &Server{
		store:     st,
		orch:      orch,
		evaluator: evaluator,
		board:     board,
		limiter:   rate.NewLimiter(10, 20),
		log:       zap.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with middleware and all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/explanations", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Post("/compare", s.handleCompare)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleJobStatus)
		r.Delete("/{id}", s.handleCancel)
		r.Get("/{id}/quality", s.handleQuality)
	})

	r.Route("/models", func(r chi.Router) {
		r.Get("/", s.handleListModels)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/{id}", s.handleGetModel)
	})

	r.Get("/metrics/summary", s.handleMetricsSummary)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "store_unavailable", "store ping failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondJSON writes a JSON body with the given status.
func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("api: encode response", zap.Error(err))
	}
}

// errorBody is the uniform error envelope.
type errorBody struct {
	Error struct {
		Class   string `json:"class"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Server) respondError(w http.ResponseWriter, status int, class, message string) {
	var body errorBody
	body.Error.Class = class
	body.Error.Message = message
	s.respondJSON(w, status, body)
}

// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/harbourline/ingest/internal/job"
	"github.com/harbourline/ingest/pkg/types"
)

// JobRunner is the orchestration dependency of the HTTP layer.
type JobRunner interface {
	Run(ctx context.Context, params job.Params) (types.RunSummary, error)
}

// Server exposes the scrape jobs over HTTP.
type Server struct {
	router *mux.Router
	runner JobRunner
	logger *zap.Logger
}

// NewServer builds the router. A nil logger is replaced with a no-op.
func NewServer(runner JobRunner, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router: mux.NewRouter(),
		runner: runner,
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	apiV1 := s.router.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/jobs/run", s.handleRunJob).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runResponse carries the run's outcome counts plus the bounded error list,
// enough for a scheduler to decide whether to re-run or alert.
type runResponse struct {
	OK       bool     `json:"ok"`
	Source   string   `json:"source,omitempty"`
	Scraped  int      `json:"scraped"`
	DryRun   bool     `json:"dryRun"`
	Failures int      `json:"failures"`
	Filtered int      `json:"filtered"`
	Deduped  int      `json:"deduped"`
	Total    int      `json:"total"`
	Errors   []string `json:"errors,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	var params job.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.respondJSON(w, http.StatusBadRequest, runResponse{OK: false, Error: "invalid request body"})
		return
	}

	summary, err := s.runner.Run(r.Context(), params)
	if err != nil {
		s.logger.Error("job run failed",
			zap.String("source", params.Source), zap.Error(err))
		s.respondJSON(w, http.StatusInternalServerError, runResponse{
			OK:       false,
			Source:   summary.Source,
			Scraped:  summary.Scraped,
			DryRun:   summary.DryRun,
			Failures: summary.Failures,
			Filtered: summary.Filtered,
			Deduped:  summary.Deduped,
			Total:    summary.Total,
			Errors:   summary.Errors,
			Error:    err.Error(),
		})
		return
	}

	s.respondJSON(w, http.StatusOK, runResponse{
		OK:       true,
		Source:   summary.Source,
		Scraped:  summary.Scraped,
		DryRun:   summary.DryRun,
		Failures: summary.Failures,
		Filtered: summary.Filtered,
		Deduped:  summary.Deduped,
		Total:    summary.Total,
		Errors:   summary.Errors,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("response marshal failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

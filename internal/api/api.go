package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joescharf/issuetrack/internal/health"
	"github.com/joescharf/issuetrack/internal/issues"
	"github.com/joescharf/issuetrack/internal/llm"
	"github.com/joescharf/issuetrack/internal/models"
	"github.com/joescharf/issuetrack/internal/query"
)

const (
	notFoundDetail      = "Issue not found"
	internalErrorDetail = "Internal server error"

	maxBodyBytes = 1 << 20
)

// Enricher proposes improvements for an issue.
type Enricher interface {
	Enrich(ctx context.Context, issue *models.Issue) (*llm.Suggestion, error)
}

// Config holds HTTP-layer options.
type Config struct {
	Version        string
	Debug          bool
	AllowedOrigins []string
}

// Server provides the REST API handlers.
type Server struct {
	repo     *issues.Repository
	checker  *health.Checker
	enricher Enricher
	logger   *slog.Logger
	cfg      Config
}

// NewServer creates a new API server.
// The enricher may be nil if no API key is configured.
func NewServer(repo *issues.Repository, checker *health.Checker, enricher Enricher, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		repo:     repo,
		checker:  checker,
		enricher: enricher,
		logger:   logger,
		cfg:      cfg,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.root)
	mux.HandleFunc("GET /health", s.health)

	mux.HandleFunc("GET /issues", s.listIssues)
	mux.HandleFunc("GET /issues/{$}", s.listIssues)
	mux.HandleFunc("POST /issues", s.createIssue)
	mux.HandleFunc("POST /issues/{$}", s.createIssue)
	mux.HandleFunc("GET /issues/{id}", s.getIssue)
	mux.HandleFunc("PUT /issues/{id}", s.updateIssue)
	mux.HandleFunc("DELETE /issues/{id}", s.deleteIssue)
	mux.HandleFunc("POST /issues/{id}/enrich", s.enrichIssue)

	if s.cfg.Debug {
		mux.HandleFunc("GET /debug/database", s.debugDatabase)
	}

	var h http.Handler = mux
	h = corsMiddleware(s.cfg.AllowedOrigins, h)
	h = recoverMiddleware(s.logger, h)
	h = loggingMiddleware(s.logger, h)
	return requestIDMiddleware(h)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail any) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

// writeRepoError maps a repository error to a response. Store failures are
// logged and answered with a generic message.
func (s *Server) writeRepoError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, verr.Fields)
	case errors.Is(err, issues.ErrNotFound):
		writeError(w, http.StatusNotFound, notFoundDetail)
	default:
		s.logger.ErrorContext(r.Context(), "request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, internalErrorDetail)
	}
}

// decodeBody reads a JSON body into v. It reports false after writing the
// error response.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil {
		return true
	}

	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		writeError(w, http.StatusUnprocessableEntity, []models.FieldError{{
			Field:   field,
			Message: "must be " + typeErr.Type.Kind().String(),
		}})
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, "request body is empty")
	default:
		writeError(w, http.StatusBadRequest, "invalid JSON")
	}
	return false
}

// --- Info ---

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":      "Issue Tracker API",
		"version":      s.cfg.Version,
		"health_check": "/health",
		"database":     s.checker.Database(),
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	report := s.checker.Check(r.Context())
	if report.Err != nil {
		s.logger.WarnContext(r.Context(), "health check failed",
			"error", report.Err,
			"request_id", RequestID(r.Context()),
		)
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) debugDatabase(w http.ResponseWriter, r *http.Request) {
	q := query.All()
	total, err := s.repo.Count(r.Context(), q)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	q.Limit = 3
	samples, err := s.repo.List(r.Context(), q)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"database":      s.checker.Database(),
		"total_issues":  total,
		"sample_issues": samples,
	})
}

// --- Issues ---

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	params, err := query.ParseValues(r.URL.Query())
	if err == nil {
		err = params.Validate()
	}
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}

	q := query.Build(params)
	list, err := s.repo.List(r.Context(), q)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	total, err := s.repo.Count(r.Context(), q)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}

	params = params.WithDefaults()
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	w.Header().Set("X-Page", strconv.Itoa(params.Page))
	w.Header().Set("X-Page-Size", strconv.Itoa(params.PageSize))
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	var in models.IssueInput
	if !decodeBody(w, r, &in) {
		return
	}
	issue, err := s.repo.Create(r.Context(), in)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	w.Header().Set("Location", "/issues/"+issue.ID)
	writeJSON(w, http.StatusCreated, issue)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := s.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	var patch models.IssuePatch
	if !decodeBody(w, r, &patch) {
		return
	}
	issue, err := s.repo.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) deleteIssue(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.repo.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, notFoundDetail)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) enrichIssue(w http.ResponseWriter, r *http.Request) {
	if s.enricher == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM not configured (set ANTHROPIC_API_KEY)")
		return
	}

	id := r.PathValue("id")
	issue, err := s.repo.Get(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}

	suggestion, err := s.enricher.Enrich(r.Context(), issue)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "LLM enrichment failed",
			"error", err,
			"issue_id", issue.ID,
			"request_id", RequestID(r.Context()),
		)
		writeError(w, http.StatusBadGateway, "LLM enrichment failed")
		return
	}

	updated, err := s.repo.Update(r.Context(), id, suggestion.Patch())
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	ids "github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// JobService is the slice of the job manager the API drives.
type JobService interface {
	Enqueue(ctx context.Context, targetURL string, targetType crawler.TargetType, metadata crawler.Metadata) (string, error)
	GetStatus(ctx context.Context, jobID string) (crawler.ScrapeJob, error)
	Cancel(ctx context.Context, jobID string) (crawler.ScrapeJob, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the job manager.
type Server struct {
	router chi.Router
	jobs   JobService
	rules  *catalog.Rules
	checks map[string]ReadinessCheck
	logger *zap.Logger
}

const maxBodyBytes = 1 << 20

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs JobService,
	rules *catalog.Rules,
	auth config.AuthConfig,
	checks map[string]ReadinessCheck,
	logger *zap.Logger,
) *Server {
	logger = logging.OrNop(logger).Named("api")
	s := &Server{
		jobs:   jobs,
		rules:  rules,
		checks: checks,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		r.Route("/scrape", func(r chi.Router) {
			r.Post("/navigation", s.scrapeNavigation)
			r.Post("/category/{slug}", s.scrapeCategory)
			r.Post("/product/{source_id}", s.scrapeProduct)
			r.Post("/search/{query}", s.scrapeSearch)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) scrapeNavigation(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, s.rules.BaseURL, crawler.TargetNavigation, crawler.Metadata{})
}

type categoryRequest struct {
	LoadMoreClicks *int `json:"load_more_clicks"`
}

func (s *Server) scrapeCategory(w http.ResponseWriter, r *http.Request) {
	slug, err := pathParam(r, "slug")
	if err != nil || slug == "" {
		writeError(w, http.StatusBadRequest, "invalid slug")
		return
	}
	var req categoryRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	clicks := 0
	if req.LoadMoreClicks != nil {
		clicks = *req.LoadMoreClicks
	}
	if clicks < 0 {
		writeError(w, http.StatusBadRequest, "load_more_clicks must be >= 0")
		return
	}
	s.enqueue(w, r, s.rules.CategoryURL(slug), crawler.TargetCategory, crawler.Metadata{
		crawler.MetaSlug:           slug,
		crawler.MetaLoadMoreClicks: clicks,
	})
}

type productRequest struct {
	URL string `json:"url"`
}

func (s *Server) scrapeProduct(w http.ResponseWriter, r *http.Request) {
	sourceID, err := pathParam(r, "source_id")
	if err != nil || sourceID == "" {
		writeError(w, http.StatusBadRequest, "invalid source_id")
		return
	}
	var req productRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if !validURL(req.URL) {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) url")
		return
	}
	s.enqueue(w, r, req.URL, crawler.TargetProduct, crawler.Metadata{crawler.MetaSourceID: sourceID})
}

func (s *Server) scrapeSearch(w http.ResponseWriter, r *http.Request) {
	query, err := pathParam(r, "query")
	query = strings.TrimSpace(query)
	if err != nil || query == "" {
		writeError(w, http.StatusBadRequest, "invalid query")
		return
	}
	s.enqueue(w, r, s.rules.SearchURL(query), crawler.TargetSearch, crawler.Metadata{crawler.MetaQuery: query})
}

type jobRequest struct {
	TargetURL  string           `json:"target_url"`
	TargetType string           `json:"target_type"`
	Metadata   crawler.Metadata `json:"metadata"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	targetType, err := crawler.ParseTargetType(req.TargetType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TargetURL != "" && !validURL(req.TargetURL) {
		writeError(w, http.StatusBadRequest, "target_url must be an absolute http(s) url")
		return
	}
	if targetType == crawler.TargetProduct && req.TargetURL == "" {
		writeError(w, http.StatusBadRequest, "target_url required for PRODUCT jobs")
		return
	}
	s.enqueue(w, r, req.TargetURL, targetType, req.Metadata)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !ids.Valid(jobID) {
		s.writeJobError(w, crawler.ErrJobNotFound)
		return
	}
	job, err := s.jobs.GetStatus(r.Context(), jobID)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !ids.Valid(jobID) {
		s.writeJobError(w, crawler.ErrJobNotFound)
		return
	}
	job, err := s.jobs.Cancel(r.Context(), jobID)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "status": string(job.Status)})
}

func (s *Server) enqueue(
	w http.ResponseWriter,
	r *http.Request,
	targetURL string,
	targetType crawler.TargetType,
	metadata crawler.Metadata,
) {
	jobID, err := s.jobs.Enqueue(r.Context(), targetURL, targetType, metadata)
	if err != nil {
		s.logger.Error("enqueue failed", zap.String("target_type", string(targetType)), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, crawler.ErrQueueFull) || errors.Is(err, crawler.ErrQueueClosed) ||
			errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		payload := map[string]string{"error": err.Error()}
		if jobID != "" {
			payload["job_id"] = jobID
		}
		writeJSON(w, status, payload)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(crawler.JobStatusPending),
	})
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crawler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, crawler.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("job lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathParam(r *http.Request, name string) (string, error) {
	v, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("unescape %s: %w", name, err)
	}
	return v, nil
}

// decodeOptional decodes a JSON body into dst; an empty body is allowed.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())), zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

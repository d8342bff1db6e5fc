// Package api exposes the facility read API plus the health, readiness,
// and metrics endpoints shared by both binaries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/permitwatch/permitwatch/internal/adapter/postgres"
	"github.com/permitwatch/permitwatch/internal/domain"
	"github.com/permitwatch/permitwatch/internal/observability"
)

const (
	defaultPerPage = 25
	maxPerPage     = 100
	defaultFlagged = 20
	maxFlagged     = 100
)

// Store is the read-side persistence surface the API depends on.
type Store interface {
	Search(ctx context.Context, q domain.SearchQuery) (domain.SearchResult, error)
	Get(ctx context.Context, npdesID string) (domain.Facility, error)
	Flagged(ctx context.Context, flag domain.FlagType, limit int) ([]domain.Facility, error)
	Stats(ctx context.Context) (domain.Stats, error)
}

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// ReadinessFunc adapts a plain function to the ReadinessChecker interface.
type ReadinessFunc func(ctx context.Context) error

func (f ReadinessFunc) CheckReadiness(ctx context.Context) error { return f(ctx) }

// Server serves the facility API over chi.
type Server struct {
	httpServer *http.Server
	store      Store
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewServer creates the full API server: operational routes plus the
// /api facility read endpoints.
func NewServer(addr string, store Store, ready ReadinessChecker, metrics *observability.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.measure)

	mountOps(r, ready)
	r.Route("/api", func(r chi.Router) {
		r.Get("/facilities/search", s.handleSearch)
		r.Get("/facilities/flagged", s.handleFlagged)
		r.Get("/facilities/{npdesID}", s.handleGet)
		r.Get("/stats", s.handleStats)
	})

	s.httpServer = newHTTPServer(addr, r)
	return s
}

// NewOpsServer creates a server with only the health, readiness, and
// metrics routes. The sync binary uses this.
func NewOpsServer(addr string, ready ReadinessChecker, logger *slog.Logger) *Server {
	s := &Server{logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	mountOps(r, ready)

	s.httpServer = newHTTPServer(addr, r)
	return s
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func mountOps(r chi.Router, ready ReadinessChecker) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		if err := ready.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", promhttp.Handler())
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// measure records request duration per chi route pattern and status code.
func (s *Server) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.APIRequestDuration.
			WithLabelValues(route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q, err := searchQueryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.store.Search(r.Context(), q)
	if err != nil {
		s.logger.Error("facility search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	npdesID := chi.URLParam(r, "npdesID")

	facility, err := s.store.Get(r.Context(), npdesID)
	if errors.Is(err, postgres.ErrNotFound) {
		writeError(w, http.StatusNotFound, "facility "+npdesID+" not found")
		return
	}
	if err != nil {
		s.logger.Error("facility lookup failed", "npdes_id", npdesID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, facility)
}

func (s *Server) handleFlagged(w http.ResponseWriter, r *http.Request) {
	flag := domain.FlagType(r.URL.Query().Get("flag"))
	if !flag.Valid() {
		writeError(w, http.StatusBadRequest,
			"flag must be one of: "+string(domain.FlagRepeatViolator)+", "+string(domain.FlagPenaltyGap))
		return
	}
	limit, err := intParam(r, "limit", defaultFlagged, maxFlagged)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	facilities, err := s.store.Flagged(r.Context(), flag, limit)
	if err != nil {
		s.logger.Error("flagged facilities failed", "flag", flag, "error", err)
		writeError(w, http.StatusInternalServerError, "flagged query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flag":    flag,
		"results": facilities,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func searchQueryFromRequest(r *http.Request) (domain.SearchQuery, error) {
	params := r.URL.Query()

	page, err := intParam(r, "page", 1, 0)
	if err != nil {
		return domain.SearchQuery{}, err
	}
	perPage, err := intParam(r, "per_page", defaultPerPage, maxPerPage)
	if err != nil {
		return domain.SearchQuery{}, err
	}

	return domain.SearchQuery{
		Text:                params.Get("q"),
		State:               params.Get("state"),
		County:              params.Get("county"),
		RepeatViolatorsOnly: params.Get("repeat_violators") == "true",
		PenaltyGapsOnly:     params.Get("penalty_gaps") == "true",
		Page:                page,
		PerPage:             perPage,
	}, nil
}

// intParam parses a positive integer query parameter, clamped to max when
// max is nonzero.
func intParam(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New(name + " must be a positive integer")
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response write
}

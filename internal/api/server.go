package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
	"github.com/JakeFAU/competition-discovery/internal/metrics"
	"github.com/JakeFAU/competition-discovery/internal/query"
)

const (
	defaultEntryLimit   = 500
	maxEntryLimit       = 5000
	defaultSessionLimit = 50
	maxSessionLimit     = 500
	requestTimeout      = 10 * time.Second
)

// Entries is the read side of the cache the server exposes.
type Entries interface {
	ListExisting(ctx context.Context, f query.Filter) ([]discovery.CacheEntry, error)
	Lookup(ctx context.Context, key keyspace.CandidateKey) (discovery.CacheEntry, error)
	Stats(ctx context.Context) (map[discovery.Status]int64, error)
}

// Sessions lists crawl runs.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (discovery.CrawlSession, error)
	List(ctx context.Context, limit int) ([]discovery.CrawlSession, error)
}

// Options configures a Server. Metrics and Ready are optional.
type Options struct {
	APIKey   string
	Metrics  *metrics.Registry
	Gatherer prometheus.Gatherer
	// Ready reports whether the backing store is reachable.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

// Server wires HTTP handlers to the query service and session history.
type Server struct {
	router   chi.Router
	entries  Entries
	sessions Sessions
	opts     Options
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(entries Entries, sessions Sessions, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		entries:  entries,
		sessions: sessions,
		opts:     opts,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Gatherer))

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/entries", s.listEntries)
		r.Get("/entries/{district}/{season}/{competition}/{sub_endpoint}", s.getEntry)
		r.Get("/sessions", s.listSessions)
		r.Get("/sessions/{session_id}", s.getSession)
		r.Get("/stats", s.stats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// listEntries handles GET /v1/entries?district=&season_from=&season_to=&min_match_count=&include_absent=&limit=.
func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.entries.ListExisting(r.Context(), f)
	if err != nil {
		if discovery.IsConfig(err) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("list entries failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	if entries == nil {
		entries = []discovery.CacheEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	key, err := keyspace.Parse(strings.Join([]string{
		chi.URLParam(r, "district"),
		chi.URLParam(r, "season"),
		chi.URLParam(r, "competition"),
		chi.URLParam(r, "sub_endpoint"),
	}, "/"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := s.entries.Lookup(r.Context(), key)
	switch {
	case errors.Is(err, discovery.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "entry not found")
	case err != nil:
		s.logger.Error("lookup failed", zap.String("key", key.String()), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load entry")
	default:
		s.writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultSessionLimit, maxSessionLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := s.sessions.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []discovery.CrawlSession{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if _, err := uuid.Parse(id); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid session_id")
		return
	}
	sess, err := s.sessions.Get(r.Context(), id)
	switch {
	case errors.Is(err, discovery.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
	case err != nil:
		s.logger.Error("get session failed", zap.String("session_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load session")
	default:
		s.writeJSON(w, http.StatusOK, sess)
	}
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.entries.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to count entries")
		return
	}
	out := make(map[string]int64, len(stats))
	for status, n := range stats {
		out[string(status)] = n
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func parseFilter(r *http.Request) (query.Filter, error) {
	q := r.URL.Query()
	f := query.Filter{District: strings.TrimSpace(q.Get("district"))}
	var err error
	if f.SeasonFrom, err = intParam(q.Get("season_from"), 0); err != nil {
		return f, fmt.Errorf("season_from: %w", err)
	}
	if f.SeasonTo, err = intParam(q.Get("season_to"), 0); err != nil {
		return f, fmt.Errorf("season_to: %w", err)
	}
	if f.MinMatchCount, err = intParam(q.Get("min_match_count"), 0); err != nil {
		return f, fmt.Errorf("min_match_count: %w", err)
	}
	if raw := q.Get("include_absent"); raw != "" {
		if f.IncludeAbsent, err = strconv.ParseBool(raw); err != nil {
			return f, errors.New("include_absent must be a boolean")
		}
	}
	if f.Limit, err = parseLimit(r, defaultEntryLimit, maxEntryLimit); err != nil {
		return f, err
	}
	return f, nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limit, err := intParam(r.URL.Query().Get("limit"), def)
	if err != nil {
		return 0, fmt.Errorf("limit: %w", err)
	}
	if limit <= 0 {
		return 0, errors.New("limit must be positive")
	}
	return min(limit, maxLimit), nil
}

func intParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
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

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "unauthorized"}, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload, s.logger)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg}, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

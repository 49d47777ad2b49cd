// Package api exposes the HTTP control surface for the crawl service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matchvault/matchvault/internal/config"
	"github.com/matchvault/matchvault/internal/gc"
	"github.com/matchvault/matchvault/internal/metrics"
	"github.com/matchvault/matchvault/internal/orchestrator"
	"github.com/matchvault/matchvault/internal/stats"
	"github.com/matchvault/matchvault/internal/store"
)

// Server wires HTTP handlers to the orchestrator and stores. The run
// context passed to NewServer outlives individual requests and scopes
// the crawl loop started via the API.
type Server struct {
	router   chi.Router
	runCtx   context.Context
	orch     *orchestrator.Orchestrator
	recorder *stats.Recorder
	queue    store.TaskQueue
	source   gc.Source
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runCtx context.Context,
	orch *orchestrator.Orchestrator,
	recorder *stats.Recorder,
	queue store.TaskQueue,
	source gc.Source,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runCtx:   runCtx,
		orch:     orch,
		recorder: recorder,
		queue:    queue,
		source:   source,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/crawler", func(r chi.Router) {
			r.Post("/seed", s.seed)
			r.Post("/start", s.start)
			r.Post("/stop", s.stop)
			r.Post("/backfill", s.backfill)
			r.Post("/reset", s.reset)
			r.Get("/stats", s.getStats)
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
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": s.source.SessionReady(),
		"crawling":  s.orch.Running(),
	})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.queue.CountByStatus(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type seedRequest struct {
	PlayerIDs []string `json:"player_ids"`
}

func (s *Server) seed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.PlayerIDs) == 0 {
		writeError(w, http.StatusBadRequest, "player_ids required")
		return
	}
	if err := s.orch.Seed(r.Context(), req.PlayerIDs); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"seeded": len(req.PlayerIDs)})
}

func (s *Server) start(w http.ResponseWriter, _ *http.Request) {
	// The crawl loop must outlive this request, so it runs under the
	// server's run context rather than the request context.
	if err := s.orch.Start(s.runCtx); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already running"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) stop(w http.ResponseWriter, _ *http.Request) {
	s.orch.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

type backfillRequest struct {
	Priority *int `json:"priority"`
}

func (s *Server) backfill(w http.ResponseWriter, r *http.Request) {
	req := backfillRequest{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	priority := 1
	if req.Priority != nil {
		priority = *req.Priority
	}
	enqueued, err := s.queue.Backfill(r.Context(), priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"enqueued": enqueued})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	reset, err := s.queue.ResetStalled(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": reset})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.recorder.Collect(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)
			metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, elapsed)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", elapsed.Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
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

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

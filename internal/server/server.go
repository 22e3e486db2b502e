// Package server exposes health, status and metrics endpoints while the
// monitor runs on a schedule.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pfrederiksen/events-monitor/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// NextRunFunc reports the next scheduled run
type NextRunFunc func() time.Time

// Server wires HTTP handlers to the run tracker and metrics registry
type Server struct {
	router  chi.Router
	tracker *Tracker
	nextRun NextRunFunc
}

type statusResponse struct {
	Status    string      `json:"status"`
	StartedAt time.Time   `json:"started_at"`
	NextRun   *time.Time  `json:"next_run,omitempty"`
	Sources   []RunStatus `json:"sources"`
}

// New constructs a Server. nextRun may be nil.
func New(tracker *Tracker, gatherer prometheus.Gatherer, nextRun NextRunFunc) *Server {
	s := &Server{tracker: tracker, nextRun: nextRun}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.healthz)
	r.Get("/status", s.status)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.router = r
	return s
}

// Handler returns the router for use with http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Status server listening", logger.Fields{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status:    "ok",
		StartedAt: s.tracker.StartedAt(),
		Sources:   s.tracker.Last(),
	}
	for _, src := range resp.Sources {
		if src.Degraded || src.Outcome == "aborted" {
			resp.Status = "degraded"
			break
		}
	}
	if s.nextRun != nil {
		if next := s.nextRun(); !next.IsZero() {
			resp.NextRun = &next
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("HTTP request", logger.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", logger.Fields{"error": err.Error()})
	}
}

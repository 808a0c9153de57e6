// Package httpserver exposes the liveness probe, Prometheus metrics and a
// read-only job listing.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nandu-collab/marketpulse-bot/internal/infrastructure/scheduler"
	"github.com/nandu-collab/marketpulse-bot/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// JobLister reports the registered jobs.
type JobLister interface {
	Snapshot() []scheduler.JobStatus
}

// Options configures the router.
type Options struct {
	Location *time.Location
	Gatherer prometheus.Gatherer
	Jobs     JobLister
	Logger   *slog.Logger
}

// NewRouter builds the handler tree.
func NewRouter(opts Options) http.Handler {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := func() string { return time.Now().In(loc).Format(time.RFC3339) }

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]any{"ok": true, "time": now()})
	})
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]any{"pong": true, "time": now()})
	})
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Gatherer))
	}
	if opts.Jobs != nil {
		r.Get("/jobs", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, logger, http.StatusOK, opts.Jobs.Snapshot())
		})
	}
	return r
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("write json", "error", err)
	}
}

// Server is the liveness listener.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// New prepares a server on addr.
func New(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is done, then shuts down gracefully. A listen
// failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

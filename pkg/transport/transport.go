// Package transport is the Transport Surface: a chi-routed request/
// response API plus an SSE event stream, mediating every external client
// (the UI layer, the CLI's `worker`/`consolidation`/`coordinate`
// subcommands) against the engine's subsystems. Every mutating endpoint is
// idempotent when an id is supplied.
package transport

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cuemby/orchestrator/pkg/engine"
	"github.com/cuemby/orchestrator/pkg/metrics"
)

// Server mounts the Transport Surface onto a chi router backed by an
// Engine.
type Server struct {
	engine *engine.Engine
	router chi.Router
	http   *http.Server
}

// NewServer builds a Server bound to eng, listening on addr once Start is
// called.
func NewServer(eng *engine.Engine, addr string) *Server {
	s := &Server{engine: eng}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestMetrics)
	r.Use(middleware.Recoverer)

	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	r.Get("/events", s.handleEvents)

	r.Route("/workers", func(r chi.Router) {
		r.Get("/", s.listWorkers)
		r.Post("/", s.spawnWorkers)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getWorker)
			r.Delete("/", s.terminateWorker)
			r.Get("/logs", s.workerLogs)
			r.Get("/stats", s.workerStats)
			r.Get("/diff", s.workerDiff)
		})
	})

	r.Get("/worktrees", s.listWorktrees)

	r.Route("/consolidations", func(r chi.Router) {
		r.Get("/", s.listConsolidations)
		r.Post("/", s.createConsolidation)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getConsolidation)
			r.Delete("/", s.deleteConsolidation)
			r.Post("/analyze", s.analyzeConsolidation)
			r.Post("/resolve", s.resolveConsolidation)
			r.Post("/export", s.exportConsolidation)
		})
	})

	r.Route("/coordination", func(r chi.Router) {
		r.Post("/barriers", s.createBarrier)
		r.Post("/barriers/{id}/signal", s.signalBarrier)
		r.Post("/elections", s.createElection)
		r.Post("/elections/{id}/vote", s.castVote)
		r.Post("/partition", s.partitionTask)
	})

	s.router = r
	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start begins serving HTTP; it blocks until Stop shuts the server down.
func (s *Server) Start() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the underlying chi router, primarily for tests that want
// to drive it with httptest without a live listener.
func (s *Server) Router() chi.Router {
	return s.router
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Package server exposes the engagement engine as a JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/runnerr0/vitals/internal/audit"
	"github.com/runnerr0/vitals/internal/engine"
	"github.com/runnerr0/vitals/internal/logger"
	"github.com/runnerr0/vitals/internal/metrics"
	"github.com/runnerr0/vitals/internal/storage"
)

// Actor headers. Identity is asserted by the auth proxy in front of the API.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorName = "X-Actor-Name"
)

const defaultMaxRequestSize = 1 << 20

// Options configure a Server.
type Options struct {
	MaxRequestSize int64
	Logger         *logger.Logger
	Now            func() time.Time
}

// Server serves the read models and the ingestion endpoints.
type Server struct {
	store   storage.Store
	coord   *audit.Coordinator
	engine  *engine.Engine
	recon   *audit.Reconciler
	log     *logger.Logger
	maxBody int64
	now     func() time.Time
}

// New creates a Server. Writes go through coord; store is only used to read
// back updated rows.
func New(store storage.Store, coord *audit.Coordinator, eng *engine.Engine, opts Options) *Server {
	s := &Server{
		store:   store,
		coord:   coord,
		engine:  eng,
		log:     opts.Logger,
		maxBody: opts.MaxRequestSize,
		now:     opts.Now,
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.With("component", "server")
	s.recon = audit.NewReconciler(store, coord, s.log)
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxRequestSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(actorFromHeaders)

		r.Get("/summary", s.handleSummary)
		r.Get("/trends", s.handleTrends)

		r.Route("/charts", func(r chi.Router) {
			r.Get("/platform", s.handlePlatform)
			r.Get("/segments", s.handleSegments)
			r.Get("/cohorts", s.handleCohorts)
			r.Get("/features", s.handleFeatures)
		})

		r.Get("/changes", s.handleChanges)
		r.Get("/definitions", s.handleDefinitions)

		r.Post("/weekly-logs", s.handleAddWeeklyLog)
		r.Patch("/weekly-logs/{id}", s.handleUpdateWeeklyLog)
		r.Post("/feature-adoption", s.handleAddFeatureAdoption)
		r.Post("/cohorts", s.handleAddCohort)
		r.Patch("/cohorts/{id}", s.handleUpdateCohort)
		r.Post("/segments", s.handleAddSegment)

		r.Post("/reconcile", s.handleReconcile)

		r.Get("/export/{table}", s.handleExport)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func actorFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := audit.Actor{ID: r.Header.Get(HeaderActorID), Name: r.Header.Get(HeaderActorName)}
		if a.ID != "" || a.Name != "" {
			r = r.WithContext(audit.WithActor(r.Context(), a))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

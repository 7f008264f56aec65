// Package api serves the research REST and SSE endpoints.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/config"
	"github.com/sells-group/deep-research/internal/events"
	"github.com/sells-group/deep-research/internal/pipeline"
	"github.com/sells-group/deep-research/internal/store"
)

// UserHeader carries the caller's identity, set by the upstream gateway.
const UserHeader = "X-User-ID"

// Runner executes a research pipeline. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request)
}

// Server wires the HTTP handlers to the store, the pipeline and the event
// registry.
type Server struct {
	cfg      *config.Config
	store    store.Store
	runner   Runner
	embedder pipeline.Embedder
	pub      events.Publisher
	subs     *events.Registry

	// runCtx parents every detached pipeline run.
	runCtx context.Context
	runs   sync.WaitGroup
	now    func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithPublisher routes server-originated events through pub instead of
// the local registry, e.g. a Redis bridge.
func WithPublisher(pub events.Publisher) Option {
	return func(s *Server) { s.pub = pub }
}

// WithRunContext sets the parent context of detached pipeline runs.
func WithRunContext(ctx context.Context) Option {
	return func(s *Server) { s.runCtx = ctx }
}

// NewServer creates a Server. embedder may be nil, which disables
// semantic search.
func NewServer(cfg *config.Config, st store.Store, runner Runner, embedder pipeline.Embedder, subs *events.Registry, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		runner:   runner,
		embedder: embedder,
		pub:      subs,
		subs:     subs,
		runCtx:   context.Background(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", UserHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/share/{token}", s.handleGetShared)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Post("/research", s.handleSubmit)
			r.Get("/research", s.handleList)
			r.Get("/research/{id}", s.handleGet)
			r.Put("/research/{id}", s.handleUpdate)
			r.Delete("/research/{id}", s.handleDelete)
			r.Get("/research/{id}/stream", s.handleStream)
			r.Post("/research/{id}/share", s.handleShare)
			r.Post("/search", s.handleSearch)
		})
	})
	return r
}

// Wait blocks until every pipeline run started by this server returns.
func (s *Server) Wait() {
	s.runs.Wait()
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.Server.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.Server.CORSOrigins
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// start launches a detached pipeline run that outlives the request.
func (s *Server) start(req pipeline.Request) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.runner.Run(s.runCtx, req)
	}()
}

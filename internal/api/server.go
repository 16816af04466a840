package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/hookd/internal/dispatch"
	"github.com/mattjoyce/hookd/internal/events"
	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/runner"
)

// EventDispatcher delivers a lifecycle event to every hook.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event hook.Event, args runner.Args) (dispatch.Results, error)
	Redeliver(ctx context.Context, event hook.Event, args runner.Args, hooks []string) (dispatch.Results, error)
}

// Store is the record store surface the API needs.
type Store interface {
	FindAll(ctx context.Context) ([]*hook.Hook, error)
	GetHook(ctx context.Context, name string) (*hook.Hook, error)
	CreateHook(ctx context.Context, name, hookType string) (*hook.Hook, error)
	DeleteHook(ctx context.Context, name string) error
	ClearLock(ctx context.Context, hookID int64) error
	LoadNode(ctx context.Context, id int64) (*hook.Node, error)
	NodeLog(ctx context.Context, nodeID int64, limit int) ([]hook.LogEntry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the bearer token required on every route but /healthz.
	APIKey string
	// RetryAttempts bounds how often an accepted event is redelivered to
	// hooks that were locked. Zero means DefaultRetryAttempts.
	RetryAttempts int
	// RetryBackoff is the first wait before a redelivery; it doubles up to
	// maxRetryBackoff. Zero means DefaultRetryBackoff.
	RetryBackoff time.Duration
}

const (
	DefaultRetryAttempts = 5
	DefaultRetryBackoff  = 2 * time.Second
	maxRetryBackoff      = 30 * time.Second
)

// Server represents the HTTP API server
type Server struct {
	config     Config
	dispatcher EventDispatcher
	store      Store
	events     *events.Hub
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time

	// background tracks dispatches so shutdown can wait for their locks to
	// be released.
	background sync.WaitGroup
	// stopping is closed when shutdown begins. Event streams end and pending
	// redeliveries are abandoned.
	stopping chan struct{}
	stopOnce sync.Once
}

// New creates a new API server instance
func New(config Config, dispatcher EventDispatcher, store Store, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(0)
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = DefaultRetryAttempts
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		store:      store,
		events:     hub,
		logger:     logger,
		startedAt:  time.Now(),
		stopping:   make(chan struct{}),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Scripts may run for a long time when callers wait for results.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	s.server.RegisterOnShutdown(s.stop)

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		s.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownErr := s.server.Shutdown(shutdownCtx)
		// Runs hold hook locks; they must finish even if connections linger.
		s.logger.Info("waiting for in-flight hook runs")
		s.background.Wait()
		if shutdownErr != nil {
			return fmt.Errorf("server shutdown failed: %w", shutdownErr)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// stop ends event streams and pending redeliveries. Safe to call repeatedly.
func (s *Server) stop() {
	s.stopOnce.Do(func() { close(s.stopping) })
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/openapi.json", s.handleOpenAPI)
		r.Post("/events/{event}", s.handleFireEvent)
		r.Get("/events", s.handleEvents)
		r.Route("/hooks", func(r chi.Router) {
			r.Get("/", s.handleListHooks)
			r.Post("/", s.handleCreateHook)
			r.Get("/{name}", s.handleGetHook)
			r.Delete("/{name}", s.handleDeleteHook)
			r.Post("/{name}/unlock", s.handleUnlockHook)
		})
		r.Get("/nodes/{id}/log", s.handleNodeLog)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Package api is the control panel's HTTP surface: bot lifecycle control,
// settings and rule management, and a live event stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/mattjoyce/botpanel/internal/auth"
	"github.com/mattjoyce/botpanel/internal/events"
	"github.com/mattjoyce/botpanel/internal/log"
	"github.com/mattjoyce/botpanel/internal/state"
	"github.com/mattjoyce/botpanel/internal/supervisor"
)

// BotController drives the worker process.
type BotController interface {
	Start(ctx context.Context) supervisor.Result
	Stop(ctx context.Context) supervisor.Result
	Restart(ctx context.Context) supervisor.Result
	Status() supervisor.Status
}

// ConfigStore is the settings and rule table.
type ConfigStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	ListRules(ctx context.Context) ([]state.RuleRecord, error)
	ListRulesNewestFirst(ctx context.Context) ([]state.RuleRecord, error)
	GetRule(ctx context.Context, id int64) (state.RuleRecord, error)
	AddRule(ctx context.Context, r state.RuleRecord) (state.RuleRecord, error)
	UpdateRule(ctx context.Context, r state.RuleRecord) (state.RuleRecord, error)
	DeleteRule(ctx context.Context, id int64) error
}

// ReloadSignal tells the worker its rules changed.
type ReloadSignal interface {
	Set() error
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// ControlRate and ControlBurst limit start/stop/restart requests.
	ControlRate  float64
	ControlBurst int
}

// Server represents the HTTP API server.
type Server struct {
	config    Config
	bot       BotController
	store     ConfigStore
	reload    ReloadSignal
	events    *events.Hub
	limiter   *rate.Limiter
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. A nil hub gets a private one.
func New(config Config, bot BotController, store ConfigStore, reload ReloadSignal, hub *events.Hub, logger *slog.Logger) *Server {
	if config.ControlRate <= 0 {
		config.ControlRate = 1
	}
	if config.ControlBurst <= 0 {
		config.ControlBurst = 3
	}
	if hub == nil {
		hub = events.NewHub(events.DefaultCapacity)
	}
	if logger == nil {
		logger = log.WithComponent("api")
	}
	return &Server{
		config:    config,
		bot:       bot,
		store:     store,
		reload:    reload,
		events:    hub,
		limiter:   rate.NewLimiter(rate.Limit(config.ControlRate), config.ControlBurst),
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// Control requests block while the supervisor waits on the worker.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeBotRO)).Get("/status", s.handleStatus)
		r.With(s.requireScopes(auth.ScopeBotRW)).Post("/control/{action}", s.handleControl)

		r.With(s.requireScopes(auth.ScopeSettingsRO)).Get("/settings", s.handleGetSettings)
		r.With(s.requireScopes(auth.ScopeSettingsRW)).Put("/settings/token", s.handleSetToken)

		r.Route("/rules", func(r chi.Router) {
			r.With(s.requireScopes(auth.ScopeRulesRO)).Get("/", s.handleListRules)
			r.With(s.requireScopes(auth.ScopeRulesRW)).Post("/", s.handleCreateRule)
			r.With(s.requireScopes(auth.ScopeRulesRO)).Get("/{id}", s.handleGetRule)
			r.With(s.requireScopes(auth.ScopeRulesRW)).Put("/{id}", s.handleUpdateRule)
			r.With(s.requireScopes(auth.ScopeRulesRW)).Delete("/{id}", s.handleDeleteRule)
		})

		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
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

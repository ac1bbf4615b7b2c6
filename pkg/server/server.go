// Package server provides the HTTP shell for courtroomd.
//
// This package implements a graceful HTTP server with Echo router,
// health check endpoint, the courtroom session routes, and
// context-aware shutdown. It is the embedding application boundary:
// everything behind it is the session core.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/courtroomd/internal/config"
	"github.com/fyrsmithlabs/courtroomd/internal/moderation"
	"github.com/fyrsmithlabs/courtroomd/internal/stage"
	"github.com/fyrsmithlabs/courtroomd/internal/verdict"
	"github.com/fyrsmithlabs/courtroomd/pkg/store"
)

// Server represents the HTTP server.
type Server struct {
	config   *config.Config
	echo     *echo.Echo
	logger   *zap.Logger
	store    store.Store
	machine  stage.Service
	timer    *stage.Timer
	guard    *moderation.Guard
	verdicts *verdict.Service

	// timers tracks which sessions have a countdown loop running.
	mu      sync.Mutex
	timers  map[string]bool
	baseCtx context.Context
}

// HealthResponse is the JSON response for the /health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Deps are the wired services the server exposes.
type Deps struct {
	Store    store.Store
	Machine  stage.Service
	Timer    *stage.Timer
	Guard    *moderation.Guard
	Verdicts *verdict.Service
	Logger   *zap.Logger
}

// NewServer creates the HTTP server with the given configuration.
//
// The server includes:
//   - Echo router with standard middleware (logger, recover, request ID)
//   - Health check endpoint at GET /health
//   - Courtroom session routes under /sessions
//   - Graceful shutdown support
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Store == nil || deps.Machine == nil || deps.Guard == nil || deps.Verdicts == nil {
		return nil, fmt.Errorf("store, machine, guard and verdicts are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		config:   cfg,
		echo:     e,
		logger:   deps.Logger,
		store:    deps.Store,
		machine:  deps.Machine,
		timer:    deps.Timer,
		guard:    deps.Guard,
		verdicts: deps.Verdicts,
		timers:   make(map[string]bool),
		baseCtx:  context.Background(),
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	g := s.echo.Group("/sessions/:id")
	g.GET("", s.handleGetSession)
	g.POST("/participants", s.handleJoin)
	g.DELETE("/participants/:pid", s.handleLeave)
	g.PUT("/participants/:pid/ready", s.handleSetReady)
	g.POST("/advance", s.handleAdvance)
	g.POST("/appeal", s.handleAppeal)
	g.POST("/messages", s.handlePostMessage)
	g.POST("/verdict", s.handleVerdict)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "courtroomd",
	})
}

// Start runs the server and blocks until the context is cancelled or the
// listener fails. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	addr := fmt.Sprintf(":%d", s.config.Server.Port)

	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.config.Server.ShutdownTimeout.Duration(),
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering additional
// routes (metrics, debug).
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/a2aflow/internal/application/orchestrator"
	"github.com/aescanero/a2aflow/internal/application/workers"
	"github.com/aescanero/a2aflow/pkg/domain"
	"github.com/aescanero/a2aflow/pkg/ports"
)

// Orchestrator is the execution service behind the API
type Orchestrator interface {
	Run(ctx context.Context, g *domain.Graph, initial map[string]any) (*domain.Execution, error)
	Submit(ctx context.Context, g *domain.Graph, initial map[string]any) (string, error)
	Get(ctx context.Context, id string) (*domain.Execution, error)
	Cancel(ctx context.Context, id string) error
	Validate(ctx context.Context, g *domain.Graph) (*orchestrator.Validation, error)
}

// Capabilities lists and refreshes the capability directory
type Capabilities interface {
	ListAll(ctx context.Context) ([]domain.Descriptor, error)
	Refresh(ctx context.Context) (int, error)
	Invalidate(name string)
}

// HealthReporter reports worker pool health
type HealthReporter interface {
	GetStatus() *workers.HealthStatus
}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator Orchestrator
	capabilities Capabilities
	composites   ports.CompositeStore
	health       HealthReporter
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator Orchestrator
	Capabilities Capabilities
	Composites   ports.CompositeStore
	Health       HealthReporter
	// Gatherer serves /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "http"))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		capabilities: cfg.Capabilities,
		composites:   cfg.Composites,
		health:       cfg.Health,
		logger:       logger,
	}

	s.setupRoutes(cfg.Gatherer)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/health", s.handleHealth)

	metrics := promhttp.Handler()
	if gatherer != nil {
		metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	s.router.GET("/metrics", gin.WrapH(metrics))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/capabilities", s.handleListCapabilities)
		v1.POST("/capabilities/refresh", s.handleRefreshCapabilities)

		v1.GET("/composites", s.handleListComposites)
		v1.PUT("/composites/:name", s.handleSaveComposite)

		v1.POST("/workflows/validate", s.handleValidate)
		v1.POST("/workflows/run", s.handleRun)

		v1.POST("/executions", s.handleSubmit)
		v1.GET("/executions/:id", s.handleGetExecution)
		v1.POST("/executions/:id/cancel", s.handleCancel)
	}
}

// SetupWebSocket mounts the execution event stream
func (s *Server) SetupWebSocket(handler gin.HandlerFunc) {
	s.router.GET("/api/v1/executions/:id/ws", handler)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

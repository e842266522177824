// Package api serves the workflow operations over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/songzhibin97/workflow-approval/directory"
	"github.com/songzhibin97/workflow-approval/metrics"
	"github.com/songzhibin97/workflow-approval/types"
)

// Store is the workflow operation surface served by the API.
type Store interface {
	Create(ctx context.Context, def types.WorkflowDefinition) (types.WorkflowDefinition, error)
	Update(ctx context.Context, id string, patch types.WorkflowPatch) (types.WorkflowDefinition, error)
	Delete(ctx context.Context, id string) error
	RequestApproval(ctx context.Context, id string) (types.WorkflowDefinition, error)
	Approve(ctx context.Context, id, staffID string) (types.WorkflowDefinition, error)
	Suspend(ctx context.Context, id string) (types.WorkflowDefinition, error)
	Reactivate(ctx context.Context, id string) (types.WorkflowDefinition, error)
	Get(ctx context.Context, id string) (types.WorkflowDefinition, error)
	List(ctx context.Context, statuses ...types.Status) ([]types.WorkflowDefinition, error)
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	Mode            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics counts rejected operations in m and serves gatherer on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.handlers.metrics = m
		s.gatherer = gatherer
	}
}

// NewServer creates a new HTTP server over store and dir.
func NewServer(config ServerConfig, store Store, dir directory.Directory, options ...Option) *Server {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		config:   config,
		router:   gin.New(),
		handlers: NewHandlers(store, dir),
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		option(s)
	}
	s.handlers.logger = s.logger

	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.setupRoutes()
	return s
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/healthz", h.HealthCheck)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api/v1")
	{
		api.GET("/workflows", h.ListWorkflows)
		api.POST("/workflows", h.CreateWorkflow)
		api.GET("/workflows/:id", h.GetWorkflow)
		api.PATCH("/workflows/:id", h.UpdateWorkflow)
		api.DELETE("/workflows/:id", h.DeleteWorkflow)
		api.POST("/workflows/:id/request-approval", h.RequestApproval)
		api.POST("/workflows/:id/approvals", h.ApproveWorkflow)
		api.POST("/workflows/:id/suspend", h.SuspendWorkflow)
		api.POST("/workflows/:id/reactivate", h.ReactivateWorkflow)

		api.GET("/staff", h.ListStaff)
		api.GET("/staff/:id", h.GetStaff)
	}
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", s.config.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

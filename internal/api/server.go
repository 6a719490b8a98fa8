// Package api assembles the HTTP surface: the public token-addressed
// escalation endpoints, the authenticated agent endpoints and the
// administrative endpoints, plus health and metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/siteguard/siteguard-core/internal/agent"
	"github.com/siteguard/siteguard-core/internal/api/handlers"
	"github.com/siteguard/siteguard-core/internal/api/middleware"
	"github.com/siteguard/siteguard-core/internal/config"
	"github.com/siteguard/siteguard-core/internal/escalation"
	"github.com/siteguard/siteguard-core/internal/monitoring"
	"github.com/siteguard/siteguard-core/internal/queue"
	"github.com/siteguard/siteguard-core/internal/storage"
	"github.com/siteguard/siteguard-core/internal/sweeper"
	"github.com/siteguard/siteguard-core/pkg/cache"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// Deps carries the constructed component graph into the server.
type Deps struct {
	Store       storage.Store
	Cache       cache.Cache
	Queue       queue.Queue
	Registry    *queue.RecurringRegistry
	Producer    *queue.Producer
	Escalations *escalation.Service
	Agents      *agent.Service
	Sweepers    *sweeper.Manager
}

type Server struct {
	config     *config.Config
	logger     logger.Logger
	deps       Deps
	router     *gin.Engine
	httpServer *http.Server
}

func NewServer(cfg *config.Config, log logger.Logger, deps Deps) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		config: cfg,
		logger: log,
		deps:   deps,
		router: gin.New(),
	}
	server.setupMiddleware()
	server.setupRoutes()
	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.RequestLogger(s.logger))

	if s.config.Monitoring.Enabled {
		monitoring.SetupPrometheusMetrics(s.router)
	}
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.deps.Cache, s.logger)
	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/ready", healthHandler.Ready)

	// Public escalation surface, addressed by per-level access tokens.
	publicHandler := handlers.NewPublicIssueHandler(s.deps.Escalations, s.logger)
	public := s.router.Group("/public/issues")
	public.GET("/:token", publicHandler.GetIssue)
	public.POST("/:token/acknowledge", publicHandler.Acknowledge)
	public.POST("/:token/progress", publicHandler.Progress)
	public.POST("/:token/resolve", publicHandler.Resolve)
	public.POST("/:token/reports", publicHandler.AppendReport)

	// Agent surface, guarded by the X-Agent-Key header.
	agentHandler := handlers.NewAgentHandler(s.deps.Agents, s.logger)
	agents := s.router.Group("/agent", middleware.AgentAuth(s.deps.Agents))
	agents.GET("/tasks", agentHandler.DueTasks)
	agents.POST("/results", agentHandler.SubmitResult)
	agents.POST("/heartbeat", agentHandler.Heartbeat)

	// Administrative surface. Deployment fronting (ingress auth) guards it.
	adminHandler := handlers.NewAdminHandler(s.deps.Registry, s.deps.Producer, s.deps.Queue, s.deps.Store, s.deps.Sweepers, s.logger)
	admin := s.router.Group("/admin")
	admin.POST("/schedules/reconcile", adminHandler.ReconcileSchedules)
	admin.GET("/schedules", adminHandler.ListRegistrations)
	admin.GET("/queue/stats", adminHandler.QueueStats)
	admin.POST("/checks/:id/trigger", adminHandler.TriggerCheck)
	admin.DELETE("/checks/:id/jobs", adminHandler.CancelCheckJobs)
	admin.POST("/sweepers/:name/trigger", adminHandler.TriggerSweep)
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "port", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests and embedders.
func (s *Server) Handler() http.Handler {
	return s.router
}

package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/orders/config"
	"example.com/backstage/services/orders/internal/service"
)

// Server is the HTTP server for the API
type Server struct {
	cfg        config.Config
	router     *gin.Engine
	httpServer *http.Server
	svc        *service.OrderService
}

// NewServer creates a new API server
func NewServer(cfg config.Config, svc *service.OrderService) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		cfg:    cfg,
		router: gin.New(),
		svc:    svc,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware())
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	v1 := s.router.Group("/api/v1")

	orders := v1.Group("/orders")
	{
		orders.POST("/:id/events", s.appendEvent)
		orders.GET("/:id", s.getOrder)
		orders.GET("/:id/events", s.getEventHistory)
		orders.GET("/:id/events/stats", s.getEventStatistics)
		orders.GET("", s.listOrders)
	}

	tasks := v1.Group("/tasks")
	{
		tasks.POST("", s.enqueueTask)
	}

	metricsRoutes := v1.Group("/metrics")
	{
		metricsRoutes.GET("", s.getMetrics)
		metricsRoutes.GET("/queue", s.getQueueMetrics)
	}

	admin := v1.Group("/admin")
	{
		admin.POST("/orders/:id/replay", s.replayOrder)
		admin.POST("/replay-window", s.replayWindow)
		admin.POST("/projections/rebuild", s.rebuildProjections)
		admin.POST("/outbox/sweep-stale", s.sweepStale)
		admin.DELETE("/idempotency/:key", s.resetIdempotencyKey)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.ServerAddress,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ServerTimeout,
		WriteTimeout: s.cfg.ServerTimeout,
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.ServerAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"chieftain/pkg/api/middleware"
	"chieftain/pkg/election"
	"chieftain/pkg/logger"
)

// Server exposes the node's election status over HTTP.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	elector    *election.Elector
	startedAt  time.Time
}

// Config holds API server configuration.
type Config struct {
	Port    string
	APIKey  string
	Elector *election.Elector
}

// NewServer creates a new API server around the given elector.
func NewServer(cfg Config) *Server {
	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware stack (order matters)
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.TracingMiddleware("chieftain"))
	router.Use(requestLogger())
	router.Use(middleware.RateLimitMiddleware())
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20)) // 1MB body limit

	s := &Server{
		router:    router,
		elector:   cfg.Elector,
		startedAt: time.Now(),
	}

	s.registerRoutes(cfg.APIKey)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	logger.Get().Info("starting API server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Get().Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes(apiKey string) {
	s.router.GET("/healthz", s.healthCheck)

	// Prometheus metrics endpoint
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.getStatus)
		v1.GET("/node", s.getNode)

		// Mutating endpoints require the operator key.
		v1.POST("/broadcast", middleware.APIKeyMiddleware(apiKey), s.postBroadcast)
	}
}

// requestLogger logs HTTP requests with latency and status.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Get().Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// healthCheck reports liveness of the process and the elector.
func (s *Server) healthCheck(c *gin.Context) {
	state := s.elector.State()

	status := "healthy"
	httpStatus := http.StatusOK
	if state == election.StateStopped || state == election.StateIdle {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"state":     state.String(),
		"timestamp": time.Now().UTC(),
	})
}

// file: internal/server/server.go
// version: 2.1.0
// guid: 4c5d6e7f-8a9b-0c1d-2e3f-4a5b6c7d8e9f

// Package server exposes exam result lookup and name search over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jdfalk/exam-results/internal/config"
	"github.com/jdfalk/exam-results/internal/livesearch"
	"github.com/jdfalk/exam-results/internal/lookup"
	"github.com/jdfalk/exam-results/internal/metrics"
	"github.com/jdfalk/exam-results/internal/operations"
	"github.com/jdfalk/exam-results/internal/realtime"
	"github.com/jdfalk/exam-results/internal/search"
	"github.com/jdfalk/exam-results/internal/server/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *gin.Engine

	coord    *lookup.Coordinator
	provider *search.Provider
	live     *livesearch.Session
	ops      *operations.OperationQueue
	hub      *realtime.EventHub
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port          string
	Host          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	ShutdownGrace time.Duration
}

// NewServer creates a new server instance over the lookup coordinator,
// the search index provider and the live search layer built on it.
// Background preloads and index builds run on ops and are announced on hub.
func NewServer(coord *lookup.Coordinator, provider *search.Provider, live *livesearch.Session,
	ops *operations.OperationQueue, hub *realtime.EventHub) *Server {
	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(corsMiddleware())
	if config.AppConfig.RateLimit > 0 {
		router.Use(middleware.NewIPRateLimiter(config.AppConfig.RateLimit, config.AppConfig.RateBurst).Middleware())
	}
	router.Use(middleware.MaxRequestBodySize(middleware.DefaultBodyLimit))

	// Register metrics (idempotent)
	metrics.Register()

	server := &Server{
		router:   router,
		coord:    coord,
		provider: provider,
		live:     live,
		ops:      ops,
		hub:      hub,
	}

	server.setupRoutes()

	return server
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until SIGINT, SIGTERM or ctx cancellation, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, cfg ServerConfig) error {
	s.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	s.httpServer.RegisterOnShutdown(s.hub.Close)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[INFO] Starting server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	case <-quit:
	case <-ctx.Done():
	}

	log.Println("[INFO] Shutting down server...")
	if s.live != nil {
		s.live.Clear()
	}

	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("[INFO] Server exited")
	return nil
}

// setupRoutes configures all the routes
func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint (standard path)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api/v1")
	{
		api.GET("/health", s.healthCheck)

		// Session routes
		api.GET("/sessions", s.listSessions)
		api.PUT("/sessions/current", s.switchSession)
		api.POST("/sessions/:name/preload", s.preloadSession)
		api.POST("/sessions/:name/index", s.buildIndex)

		// Lookup routes
		api.GET("/results/:id", s.getResult)
		api.GET("/results/:id/all", s.getResultAllSessions)

		// Name search routes
		api.GET("/search", s.searchNames)
		api.GET("/search/stats", s.searchStats)

		api.DELETE("/cache", s.clearCache)

		// Background operations
		api.GET("/operations", s.listOperations)
		api.GET("/operations/:id", s.getOperation)
		api.DELETE("/operations/:id", s.cancelOperation)

		api.GET("/events", s.hub.HandleSSE)
	}

	s.router.NoRoute(func(c *gin.Context) {
		RespondWithNotFound(c, "route", c.Request.URL.Path)
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Accept-Language, X-Request-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Header("Access-Control-Expose-Headers", middleware.RequestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// GetDefaultServerConfig returns default server configuration
func GetDefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:          "8080",
		Host:          "localhost",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   60 * time.Second,
		ShutdownGrace: 10 * time.Second,
	}
}

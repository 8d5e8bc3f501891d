// Package common provides shared utilities for the heap-primer binaries.
package common

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps an HTTP server used for observing a priming run in flight.
type Server struct {
	router *gin.Engine
	server *http.Server
	name   string
}

// NewServer creates a new HTTP server with standard endpoints.
func NewServer(name string, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router: router,
		name:   name,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}

	// Register standard endpoints
	s.registerStandardEndpoints()

	return s
}

// registerStandardEndpoints adds health and metrics endpoints.
func (s *Server) registerStandardEndpoints() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// healthHandler returns basic health status.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"component": s.name,
		"timestamp": time.Now().UTC(),
	})
}

// Router returns the underlying gin router for adding custom routes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	log.Printf("[%s] Starting observation server on %s", s.name, s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("[%s] Shutting down observation server", s.name)
	return s.server.Shutdown(ctx)
}

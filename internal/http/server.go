// Package http serves the watch mode's health, status and metrics endpoints.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessionsync/internal/logging"
	"github.com/fyrsmithlabs/sessionsync/internal/watch"
)

// StatusSource reports the watcher's state.
type StatusSource interface {
	Status() watch.Status
	Trigger()
}

// Config holds HTTP server configuration.
type Config struct {
	Addr string
}

// Server provides the watch-mode HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	status  StatusSource
	gather  prometheus.Gatherer
	logger  *logging.Logger
	config  *Config
	started time.Time
}

// NewServer creates a server. gatherer may be nil to serve the default
// Prometheus registry.
func NewServer(status StatusSource, gatherer prometheus.Gatherer, logger *logging.Logger, cfg *Config) (*Server, error) {
	if status == nil {
		return nil, errors.New("status source cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Addr: "localhost:9464"}
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		status:  status,
		gather:  gatherer,
		logger:  logger,
		config:  cfg,
		started: time.Now(),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/sync", s.handleSync)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{})))
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	watch.Status
	Uptime string `json:"uptime"`
}

// handleHealth reports "degraded" with 503 when the latest run failed.
func (s *Server) handleHealth(c echo.Context) error {
	st := s.status.Status()
	if st.LastRun != nil && st.LastRun.Error != "" {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status: s.status.Status(),
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

// handleSync queues a run and returns immediately.
func (s *Server) handleSync(c echo.Context) error {
	s.status.Trigger()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.config.Addr))
	if err := s.echo.Start(s.config.Addr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

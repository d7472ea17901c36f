// Package http provides the HTTP API for skillctx.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/skillctx/internal/assembler"
	"github.com/fyrsmithlabs/skillctx/internal/logging"
)

// Augmenter is the part of the assembler the server exposes.
type Augmenter interface {
	Augment(ctx context.Context, req assembler.Request) *assembler.Result
	EndSession(ctx context.Context, sessionID string) int
	Session(sessionID string) (assembler.SessionInfo, bool)
	Status() assembler.Status
}

// Server provides HTTP endpoints for skillctx.
type Server struct {
	echo      *echo.Echo
	augmenter Augmenter
	logger    *logging.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string

	// RateLimit is requests per second per client IP; zero disables it.
	RateLimit float64
	RateBurst int

	// BodyLimit caps request bodies, e.g. "1M". Empty disables it.
	BodyLimit string
}

// NewServer creates a new HTTP server.
func NewServer(augmenter Augmenter, logger *logging.Logger, cfg *Config) (*Server, error) {
	if augmenter == nil {
		return nil, fmt.Errorf("augmenter cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	if cfg.RateLimit > 0 {
		e.Use(rateLimiter(cfg, logger))
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:      e,
		augmenter: augmenter,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

// rateLimiter limits each client IP to cfg.RateLimit requests per second.
// Idle limiters expire after three minutes.
func rateLimiter(cfg *Config, logger *logging.Logger) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RateLimit),
		Burst:     cfg.RateBurst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			logger.Warn(c.Request().Context(), "rate limit exceeded", zap.String("ip", identifier))
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/augment", s.handleAugment)
	v1.GET("/status", s.handleStatus)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.DELETE("/sessions/:id", s.handleEndSession)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleAugment inserts tool guidance into the posted messages. A request
// id from the body wins over the X-Request-ID header.
func (s *Server) handleAugment(c echo.Context) error {
	var req AugmentRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid augment request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Messages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "messages field is required")
	}
	if req.RequestID == "" {
		req.RequestID = c.Response().Header().Get(echo.HeaderXRequestID)
	}

	res := s.augmenter.Augment(c.Request().Context(), req)
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Health:  "ok",
		Version: s.config.Version,
		Status:  s.augmenter.Status(),
	})
}

func (s *Server) handleGetSession(c echo.Context) error {
	info, ok := s.augmenter.Session(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleEndSession(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	removed := s.augmenter.EndSession(c.Request().Context(), id)
	return c.JSON(http.StatusOK, SessionResponse{SessionID: id, CacheEntriesRemoved: removed})
}

// Start starts the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

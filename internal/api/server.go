// Package api provides the HTTP API server for chainmgr.
// It uses the Echo framework to expose chain lifecycle operations as REST
// endpoints, plus health and Prometheus metrics endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"evalgo.org/chainmgr/internal/auth"
	"evalgo.org/chainmgr/internal/config"
	"evalgo.org/chainmgr/internal/version"
)

// Dependencies are the collaborators of the Server.
type Dependencies struct {
	Orchestrator Orchestrator
	Health       HealthChecker
	// Registry receives the HTTP metrics and is served on /metrics
	Registry *prometheus.Registry
	Log      logrus.FieldLogger
}

// Server represents the chainmgr API server.
type Server struct {
	echo       *echo.Echo
	config     *config.Config
	orch       Orchestrator
	health     HealthChecker
	registry   *prometheus.Registry
	authMiddle *auth.Middleware
	requests   *prometheus.CounterVec
	log        logrus.FieldLogger
}

// New creates a new API server instance.
func New(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Validator = requestValidator{}

	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainmgr_http_requests_total",
		Help: "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})
	reg.MustRegister(requests)

	s := &Server{
		echo:       e,
		config:     cfg,
		orch:       deps.Orchestrator,
		health:     deps.Health,
		registry:   reg,
		authMiddle: auth.NewMiddleware(cfg.Security),
		requests:   requests,
		log:        deps.Log,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogURI:       true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.WithFields(logrus.Fields{
				"status":    v.Status,
				"method":    v.Method,
				"uri":       v.URI,
				"latency":   v.Latency.String(),
				"requestId": v.RequestID,
			}).Debug("request")
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(SecurityHeaders)

	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	s.echo.Use(middleware.RequestID())

	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	s.echo.Use(s.countRequests)
	s.echo.Use(ValidateContentType)
	s.echo.Use(ValidateAcceptHeader)
}

// countRequests records every request in the HTTP metrics.
func (s *Server) countRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		code := c.Response().Status
		if err != nil {
			code = toAPIError(err).Code
		}
		s.requests.WithLabelValues(c.Path(), c.Request().Method, strconv.Itoa(code)).Inc()
		return err
	}
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")

	tags := v1.Group("/tags")
	tags.GET("", s.listTags, s.authMiddle.RequireRead)
	tags.POST("", s.addTag, s.authMiddle.RequireWrite)

	chains := v1.Group("/chains")
	chains.Use(ValidateChainName)
	chains.GET("", s.listChains, ValidateQueryParams, s.authMiddle.RequireRead)
	chains.POST("", s.deployChain, s.authMiddle.RequireWrite)
	chains.GET("/:name", s.getChain, s.authMiddle.RequireRead)
	chains.DELETE("/:name", s.deleteChain, s.authMiddle.RequireWrite)
	chains.GET("/:name/progress", s.chainProgress, s.authMiddle.RequireRead)
	chains.GET("/:name/fronts", s.listFronts, ValidateQueryParams, s.authMiddle.RequireRead)
	chains.POST("/:name/nodes", s.addNodes, s.authMiddle.RequireWrite)
	chains.POST("/:name/upgrade", s.upgradeChain, s.authMiddle.RequireWrite)

	nodes := v1.Group("/nodes")
	nodes.Use(ValidateNodeID)
	nodes.POST("/:nodeId/start", s.startNode, s.authMiddle.RequireWrite)
	nodes.POST("/:nodeId/stop", s.stopNode, s.authMiddle.RequireWrite)
	nodes.DELETE("/:nodeId", s.deleteNode, s.authMiddle.RequireWrite)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	s.log.WithFields(logrus.Fields{"address": addr, "version": version.Version}).Info("starting chainmgr API server")
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	s.log.Info("API server stopped")
	return nil
}

// healthCheck handles health check requests.
func (s *Server) healthCheck(c echo.Context) error {
	resp := map[string]interface{}{
		"service": "chainmgr",
		"version": version.Version,
	}
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			resp["status"] = "unhealthy"
			resp["error"] = "database connection failed"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}
	resp["status"] = "healthy"
	return c.JSON(http.StatusOK, resp)
}

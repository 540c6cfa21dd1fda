// Package http provides the HTTP API for patternd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/orchestrator"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Server provides HTTP endpoints for patternd.
type Server struct {
	echo      *echo.Echo
	store     *pattern.Store
	detector  *pattern.Detector
	lifecycle *pattern.LifecycleManager
	orch      *orchestrator.Orchestrator
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(store *pattern.Store, detector *pattern.Detector, lifecycle *pattern.LifecycleManager, orch *orchestrator.Orchestrator, logger *zap.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if detector == nil {
		return nil, fmt.Errorf("detector cannot be nil")
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("lifecycle manager cannot be nil")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:      e,
		store:     store,
		detector:  detector,
		lifecycle: lifecycle,
		orch:      orch,
		logger:    logger,
		config:    cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/patterns", s.handleListPatterns)
	v1.GET("/patterns/:id", s.handleGetPattern)
	v1.GET("/correlations", s.handleListCorrelations)
	v1.POST("/observations", s.handleObservation)
	v1.PUT("/mode", s.handleSetMode)
	v1.PUT("/workers/:name/frequency", s.handleSetFrequency)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Active bool   `json:"active"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Orchestrator orchestrator.Status     `json:"orchestrator"`
	Detection    pattern.DetectionStatus `json:"detection"`
}

// PatternResponse is the response body for GET /api/v1/patterns/:id.
type PatternResponse struct {
	Pattern   *pattern.Pattern       `json:"pattern"`
	Evolution pattern.EvolutionTrend `json:"evolution"`
}

// ObservationRequest is the request body for POST /api/v1/observations.
type ObservationRequest struct {
	Payload  map[string]any `json:"payload"`
	Category string         `json:"category"`
	Sources  []string       `json:"sources"`
}

// ObservationResponse is the response body for POST /api/v1/observations.
type ObservationResponse struct {
	PatternID string `json:"pattern_id"`
	Created   bool   `json:"created"`
}

// ModeRequest is the request body for PUT /api/v1/mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// FrequencyRequest is the request body for PUT /api/v1/workers/:name/frequency.
type FrequencyRequest struct {
	TargetHz float64 `json:"target_hz"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Active: s.orch.Active(),
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Orchestrator: s.orch.GetStatus(),
		Detection:    pattern.Status(s.store, s.detector, s.lifecycle),
	})
}

func (s *Server) handleListPatterns(c echo.Context) error {
	var patterns []*pattern.Pattern
	if cat := c.QueryParam("category"); cat != "" {
		patterns = s.store.ListByCategory(pattern.Category(cat))
	} else {
		patterns = s.store.List()
	}
	if stage := c.QueryParam("stage"); stage != "" {
		filtered := patterns[:0]
		for _, p := range patterns {
			if p.Stage == pattern.Stage(stage) {
				filtered = append(filtered, p)
			}
		}
		patterns = filtered
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].ID < patterns[j].ID })
	return c.JSON(http.StatusOK, map[string]any{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

func (s *Server) handleGetPattern(c echo.Context) error {
	p, ok := s.store.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "pattern not found")
	}
	return c.JSON(http.StatusOK, PatternResponse{
		Pattern:   p,
		Evolution: s.detector.Trend(p),
	})
}

func (s *Server) handleListCorrelations(c echo.Context) error {
	correlations := s.store.Correlations()
	return c.JSON(http.StatusOK, map[string]any{
		"correlations": correlations,
		"count":        len(correlations),
	})
}

func (s *Server) handleObservation(c echo.Context) error {
	var req ObservationRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid observation request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Payload) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "payload field is required")
	}
	if req.Category == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "category field is required")
	}

	id, created, err := s.detector.Recognize(req.Payload, pattern.Category(req.Category), req.Sources)
	pattern.RecordRecognition(created, id, err)
	if err != nil {
		var verr *pattern.ValidationError
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, ObservationResponse{
		PatternID: id,
		Created:   created,
	})
}

func (s *Server) handleSetMode(c echo.Context) error {
	var req ModeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.orch.SetMode(orchestrator.Mode(req.Mode)); err != nil {
		if errors.Is(err, orchestrator.ErrUnknownMode) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"mode":        req.Mode,
		"frequencies": s.orch.Frequencies(),
	})
}

func (s *Server) handleSetFrequency(c echo.Context) error {
	var req FrequencyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	name := c.Param("name")
	if err := s.orch.SetFrequency(name, req.TargetHz); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrFrequencyOutOfRange):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, orchestrator.ErrUnknownWorker):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"worker":    name,
		"target_hz": req.TargetHz,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

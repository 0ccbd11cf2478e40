// Package http serves the tracking and alert API alongside health, readiness,
// and metrics endpoints.
package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/fencewatch/internal/alert"
	"github.com/couchcryptid/fencewatch/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

// TrackingStore persists tracking points.
type TrackingStore interface {
	SaveTracking(ctx context.Context, p domain.TrackingPoint) (string, error)
}

// AlertRecorder records fence-entry events and notifies users.
type AlertRecorder interface {
	Record(ctx context.Context, event domain.AlertEvent) (alert.Result, error)
}

// Server is the service's HTTP listener.
type Server struct {
	httpServer *http.Server
	tracking   TrackingStore
	alerts     AlertRecorder
	logger     *slog.Logger
}

// NewServer wires the API routes plus /healthz, /readyz, and /metrics.
func NewServer(addr string, ready sharedobs.ReadinessChecker, tracking TrackingStore, alerts AlertRecorder, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger), cors())

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      engine,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		tracking: tracking,
		alerts:   alerts,
		logger:   logger,
	}

	engine.GET("/", s.handleIndex)
	engine.POST("/save-tracking", s.handleSaveTracking)
	engine.POST("/log-alert-event", s.handleLogAlertEvent)

	engine.GET("/healthz", gin.WrapF(sharedobs.LivenessHandler()))
	engine.GET("/health", gin.WrapF(sharedobs.LivenessHandler()))
	engine.GET("/readyz", gin.WrapF(sharedobs.ReadinessHandler(ready)))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "fencewatch geofencing API",
		"status":  "running",
		"endpoints": []string{
			"/save-tracking (POST)",
			"/log-alert-event (POST)",
			"/healthz (GET)",
			"/readyz (GET)",
			"/metrics (GET)",
		},
	})
}

func (s *Server) handleSaveTracking(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		badRequest(c, "could not read request body")
		return
	}
	feature, err := geojson.UnmarshalFeature(body)
	if err != nil {
		badRequest(c, "body must be a GeoJSON Feature: "+err.Error())
		return
	}
	if feature.Type != "Feature" {
		badRequest(c, `body must be a GeoJSON Feature: type must be "Feature"`)
		return
	}
	if feature.Geometry == nil {
		badRequest(c, "feature has no geometry")
		return
	}

	id, err := s.tracking.SaveTracking(c.Request.Context(), domain.TrackingPoint{
		Geometry:   feature.Geometry,
		Properties: feature.Properties,
	})
	if err != nil {
		s.logger.Error("save tracking failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not save tracking point"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

type alertEventRequest struct {
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
	FenceName string `json:"fenceName"`
	Email     string `json:"email"`
}

func (s *Server) handleLogAlertEvent(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	var req alertEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}

	event := domain.AlertEvent{UserID: req.UserID, FenceName: req.FenceName, Email: req.Email}
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, req.Timestamp)
		if err != nil {
			badRequest(c, "timestamp must be RFC 3339")
			return
		}
		event.OccurredAt = ts.UTC()
	}

	res, err := s.alerts.Record(c.Request.Context(), event)
	if err != nil {
		if errors.Is(err, alert.ErrInvalidEvent) {
			badRequest(c, err.Error())
			return
		}
		s.logger.Error("log alert event failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not record alert event"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": res.ID, "notified": res.Notified})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// cors allows the browser tracking client to call the API from any origin.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

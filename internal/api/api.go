// Package api exposes monitoring control over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"groupwatch/internal/checker"
	"groupwatch/internal/model"
	"groupwatch/internal/monitor"
	"groupwatch/internal/registry"
)

// Groups is the registry surface the API edits.
type Groups interface {
	Load(ctx context.Context) ([]model.Group, error)
	Add(ctx context.Context, g model.Group) (model.Group, error)
	Remove(ctx context.Context, id string) error
}

// Checker runs a manual check.
type Checker interface {
	Check(ctx context.Context, id string, trigger checker.Trigger) (checker.Report, error)
}

// Protocol answers monitor requests and re-arms schedules after edits.
type Protocol interface {
	Handle(ctx context.Context, req monitor.Request) monitor.Response
	Reschedule(ctx context.Context) error
}

// Server holds the HTTP handlers.
type Server struct {
	groups   Groups
	checker  Checker
	protocol Protocol
	metrics  http.Handler
	log      *slog.Logger
}

// New creates a Server. metrics may be nil to disable /metrics.
func New(groups Groups, c Checker, p Protocol, metrics http.Handler, log *slog.Logger) *Server {
	return &Server{
		groups:   groups,
		checker:  c,
		protocol: p,
		metrics:  metrics,
		log:      log,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := r.Group("/api")
	api.POST("/messages", s.message)
	api.GET("/groups", s.listGroups)
	api.POST("/groups", s.addGroup)
	api.DELETE("/groups/:id", s.removeGroup)
	api.POST("/groups/:id/check", s.checkGroup)
	return r
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) message(c *gin.Context) {
	var req monitor.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, monitor.Response{Error: "invalid request body: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.protocol.Handle(c.Request.Context(), req))
}

func (s *Server) listGroups(c *gin.Context) {
	groups, err := s.groups.Load(c.Request.Context())
	if err != nil {
		s.log.Error("list groups", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load groups"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups, "count": len(groups)})
}

func (s *Server) addGroup(c *gin.Context) {
	var g model.Group
	if err := c.ShouldBindJSON(&g); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	added, err := s.groups.Add(c.Request.Context(), g)
	switch {
	case errors.Is(err, model.ErrInvalidGroup):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, registry.ErrDuplicateURL):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.log.Error("add group", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add group"})
		return
	}

	s.reschedule(c.Request.Context())
	s.log.Info("group added", "group_id", added.ID, "name", added.Name)
	c.JSON(http.StatusCreated, added)
}

func (s *Server) removeGroup(c *gin.Context) {
	id := c.Param("id")
	err := s.groups.Remove(c.Request.Context(), id)
	if errors.Is(err, registry.ErrGroupNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}
	if err != nil {
		s.log.Error("remove group", "group_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove group"})
		return
	}

	s.reschedule(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (s *Server) checkGroup(c *gin.Context) {
	id := c.Param("id")
	report, err := s.checker.Check(c.Request.Context(), id, checker.Manual)

	var storageErr *registry.StorageError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, report)
	case errors.Is(err, registry.ErrGroupNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
	case errors.As(err, &storageErr):
		s.log.Error("check group", "group_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to access storage"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "report": report})
	}
}

func (s *Server) reschedule(ctx context.Context) {
	if err := s.protocol.Reschedule(ctx); err != nil {
		s.log.Warn("reschedule after edit", "error", err)
	}
}

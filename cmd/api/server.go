package main

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"disputeflow/arbitration"
	"disputeflow/auth"
	"disputeflow/config"
	"disputeflow/dispute"
	"disputeflow/logger"
	"disputeflow/reconciler"
)

const (
	callerIDKey   = "caller_id"
	callerRoleKey = "caller_role"
)

type passTrigger interface {
	Trigger(ctx context.Context, dryRun bool) (reconciler.Report, error)
}

// Server exposes the arbitration engine over HTTP.
type Server struct {
	engine     *arbitration.Engine
	reconciler passTrigger
	tokens     *auth.Tokens
}

func NewServer(engine *arbitration.Engine, reconciler passTrigger, tokens *auth.Tokens) *Server {
	return &Server{engine: engine, reconciler: reconciler, tokens: tokens}
}

func setupRouter(cfg config.Config, s *Server) *gin.Engine {
	router := gin.New()

	// otelgin first so recovery and request logs carry the span.
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(recovery())
	router.Use(requestLogger())

	s.routes(router)
	return router
}

func (s *Server) routes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.Use(s.requireAuth())
	{
		disputes := v1.Group("/disputes")
		disputes.POST("", s.handleOpenDispute)

		byID := disputes.Group("/:id", requireDisputeID())
		byID.GET("", s.handleDisputeDetail)
		byID.POST("/evidence", s.handleSubmitEvidence)
		byID.POST("/votes", s.handleCastVote)
		byID.POST("/appeal", s.handleAppeal)
		byID.POST("/resolve", requireAdmin(), s.handleAdminResolve)

		v1.GET("/jury/assignments", s.handleJuryAssignments)

		admin := v1.Group("/admin", requireAdmin())
		admin.POST("/reconcile", s.handleReconcile)
	}
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		userID, role, err := s.tokens.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(callerIDKey, userID)
		c.Set(callerRoleKey, role)
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{ActorID: logger.Ptr(userID)})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

// requireDisputeID rejects a malformed :id before it reaches the database. No
// dispute can have such an id, so it reads as not found.
func requireDisputeID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := uuid.Validate(c.Param("id")); err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": dispute.ErrNotFound.Error(), "class": dispute.ClassPrecondition})
			return
		}
		c.Next()
	}
}

func callerID(c *gin.Context) string {
	return c.GetString(callerIDKey)
}

func isAdmin(c *gin.Context) bool {
	role, _ := c.Get(callerRoleKey)
	return role == auth.RoleAdmin
}

func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				slog.ErrorContext(c.Request.Context(), "panic recovered",
					"error", err,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		ctx := c.Request.Context()
		switch {
		case status >= 500:
			slog.ErrorContext(ctx, "request failed", attrs...)
		case status >= 400:
			slog.WarnContext(ctx, "request error", attrs...)
		default:
			slog.InfoContext(ctx, "request", attrs...)
		}
	}
}

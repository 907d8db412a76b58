package router

import (
	"time"

	"live-interview-chat/backend/internal/export"
	"live-interview-chat/backend/internal/relay"
	"live-interview-chat/backend/pkg/config"
	"live-interview-chat/backend/pkg/di"
	"live-interview-chat/backend/pkg/errors"
	"live-interview-chat/backend/pkg/logger"
	"live-interview-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
}

// New creates a new router over the given container
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)
	cfg := container.Config

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler(container.Logger))
	engine.Use(errors.RecoveryWithLogger(container.Logger))

	rateLimiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.Security.RateLimit),
		Burst:          cfg.Security.RateLimitBurst,
		ExpiryDuration: time.Hour,
		KeyFunc:        func(c *gin.Context) string { return c.ClientIP() },
	})
	engine.Use(rateLimiter.Middleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.Engine.Use(corsMiddleware(r.Config.Security.AllowedOrigins))

	jwtAuth := middleware.JWTAuthMiddleware(r.Container.JWTService, r.Logger)
	exportHandler := export.NewHandler(r.Container.Export)

	v1 := r.Engine.Group("/api/v1")
	{
		v1.GET("/health", r.healthCheckHandler())

		protected := v1.Group("/")
		protected.Use(jwtAuth)
		exportHandler.RegisterRoutes(protected)
	}

	// Broadcast-relay submission from peer instances
	if r.Container.Relay != nil {
		relayHandler := relay.NewHandler(r.Container.Relay, r.Config.Security.RelayToken)
		r.Engine.POST("/internal/relay", relayHandler.Submit)
	}

	// WebSocket route
	r.Engine.GET("/ws", r.Container.WSHandler.ServeWs)
}

// healthCheckHandler returns a simple health check handler
func (r *Router) healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		connections, rooms := r.Container.Registry.Counts()
		c.JSON(200, gin.H{
			"status":      "ok",
			"env":         r.Config.Server.Env,
			"uptime":      time.Since(startTime).String(),
			"connections": connections,
			"rooms":       rooms,
			"time":        time.Now().Format(time.RFC3339),
		})
	}
}

// corsMiddleware allows the configured origins plus the headers websocket
// upgrades need.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := func(origin string) bool {
		for _, a := range allowedOrigins {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" || allowed(origin) {
			if origin == "" {
				origin = "*"
			}
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, X-CSRF-Token, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

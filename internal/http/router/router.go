// Package router builds the Gin engine from the composed application.
package router

import (
	"context"
	"net/http"
	"time"

	apphttp "crm_suite_backend/internal/http"
	"crm_suite_backend/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// New assembles the engine: global middleware, health endpoints, and every
// module's routes under /api/v1.
func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(corsMiddleware(app))

	rateLimiter := httpkit.NewIPRateLimiter(rate.Limit(50), 100, app.Logger)
	engine.Use(rateLimiter.RateLimit())

	engine.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/api/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := app.Health.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	authMiddleware := httpkit.AuthRequired(app.Config)

	v1 := engine.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(authMiddleware)

	// Admin endpoints trigger tenant-wide sweeps, so they get the stricter
	// auth-grade limiter on top of the role check.
	authRateLimiter := httpkit.NewAuthRateLimiter(app.Logger)
	admin := v1.Group("/admin")
	admin.Use(authRateLimiter.RateLimit(), authMiddleware, httpkit.RequireRole("admin"))

	routerCtx := &apphttp.RouterContext{
		Engine:          engine,
		V1:              v1,
		Protected:       protected,
		Admin:           admin,
		Config:          app.Config,
		AuthMiddleware:  authMiddleware,
		AuthRateLimiter: authRateLimiter,
	}

	for _, module := range app.Modules {
		module.RegisterRoutes(routerCtx)
		app.Logger.Info("module_routes_registered", "module", module.Name())
	}

	return engine
}

func corsMiddleware(app *apphttp.App) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	if app.Config.GetCORSAllowAll() {
		corsConfig.AllowAllOrigins = true
	} else if origins := app.Config.GetCORSOrigins(); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = app.Config.GetCORSAllowCreds()
	} else {
		corsConfig.AllowAllOrigins = true
	}
	return cors.New(corsConfig)
}

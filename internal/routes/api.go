package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Conversly/whatsapp-gateway/internal/controllers"
	"github.com/Conversly/whatsapp-gateway/internal/middleware"
	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

// SetupAPIRoutes registers /api/v1. The debounce administration and Redis
// probe routes are only mounted when an admin key is configured.
func SetupAPIRoutes(router *gin.Engine, d Deps) {
	system := controllers.NewSystemController(d.Config, d.Agents)

	v1 := router.Group("/api/v1")
	v1.GET("/status", system.Status)
	v1.GET("/info", system.Info)

	if d.Config.AdminAPIKey == "" {
		utils.Zlog.Warn("ADMIN_API_KEY not set, buffer administration endpoints disabled")
		return
	}

	buffers := controllers.NewBufferController(d.Coordinator, d.Redis)
	requireKey := middleware.RequireAPIKey(d.Config.AdminAPIKey)

	debounce := router.Group("/api/debounce", requireKey)
	{
		debounce.GET("/active", buffers.Active)
		debounce.POST("/:key/drain", buffers.Drain)
		debounce.DELETE("/:key", buffers.Cancel)
	}
	router.GET("/test/redis", requireKey, buffers.RedisRoundTrip)
}

// Setup404Handler configures the 404 handler
func Setup404Handler(router *gin.Engine) {
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "The requested resource was not found",
			"path":    c.Request.URL.Path,
		})
	})
}

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Conversly/whatsapp-gateway/internal/controllers"
)

// SetupHealthRoutes configures health check endpoints
func SetupHealthRoutes(router *gin.Engine, d Deps) {
	healthController := controllers.NewHealthController(d.DB, d.Redis, d.Optional)

	// Root endpoint
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	health := router.Group("/health")
	{
		health.GET("", healthController.HealthCheck)
		health.GET("/live", healthController.Liveness)
		health.GET("/ready", healthController.Readiness)
	}
}

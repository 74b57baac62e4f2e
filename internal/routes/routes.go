package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/Conversly/whatsapp-gateway/internal/api/channels/evolution"
	"github.com/Conversly/whatsapp-gateway/internal/config"
	"github.com/Conversly/whatsapp-gateway/internal/controllers"
	"github.com/Conversly/whatsapp-gateway/internal/middleware"
)

// RedisDeps is the Redis surface the HTTP layer needs.
type RedisDeps interface {
	controllers.Pinger
	controllers.KV
}

// Deps carries everything the routes are wired to.
type Deps struct {
	Config      *config.Config
	DB          controllers.Pinger
	Redis       RedisDeps
	Coordinator controllers.BufferAdmin
	Agents      controllers.AgentLister
	Webhook     *evolution.Controller
	// Optional backends reported by /health/ready without gating it.
	Optional map[string]controllers.Pinger
}

// SetupRoutes configures all application routes
func SetupRoutes(router *gin.Engine, d Deps) {
	// Apply global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(d.Config.AllowedOrigins))

	// Setup route groups
	SetupHealthRoutes(router, d)
	evolution.RegisterRoutes(router, d.Webhook)
	SetupAPIRoutes(router, d)
	Setup404Handler(router)
}

package evolution

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

// RegisterRoutes registers the Evolution webhook endpoints
func RegisterRoutes(router *gin.Engine, ctrl *Controller) {
	webhook := router.Group("/webhook")
	{
		webhook.POST("/evolution", ctrl.Webhook)
		webhook.GET("/health", ctrl.Health)
		webhook.GET("/test", ctrl.Test)
	}

	utils.Zlog.Info("Evolution webhook routes registered",
		zap.String("webhook_endpoint", "/webhook/evolution [POST]"))
}

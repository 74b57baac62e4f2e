package evolution

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

// Controller handles Evolution API webhook requests
type Controller struct {
	service *Service
	apiKey  string
	version string

	wg sync.WaitGroup
}

// NewController creates a new Evolution webhook controller
func NewController(service *Service, apiKey, version string) *Controller {
	return &Controller{
		service: service,
		apiKey:  apiKey,
		version: version,
	}
}

// Webhook godoc
// @Summary Receive an Evolution API message event
// @Description Validates and classifies the message, answers immediately and aggregates text in the background
// @Tags webhook
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Router /webhook/evolution [post]
func (c *Controller) Webhook(ctx *gin.Context) {
	// 1. Parse and validate webhook payload
	var payload WebhookPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		details := validationDetails(err)
		utils.Zlog.Warn("Webhook validation failed",
			zap.Strings("details", details),
			zap.String("client_ip", ctx.ClientIP()))
		ctx.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid webhook payload",
			"details": details,
		})
		return
	}

	// 2. API key
	if !ValidAPIKey(c.apiKey, payload.APIKey, ctx.GetHeader("X-API-Key")) {
		utils.Zlog.Warn("Invalid API key attempt",
			zap.Bool("provided", payload.APIKey != "" || ctx.GetHeader("X-API-Key") != ""),
			zap.String("client_ip", ctx.ClientIP()))
		ctx.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid API key",
		})
		return
	}

	utils.Zlog.Info("Webhook received",
		zap.String("event", payload.Event),
		zap.String("instance", payload.Instance),
		zap.String("message_type", payload.Data.MessageType),
		zap.String("remote_jid", payload.Data.Key.RemoteJid),
		zap.String("push_name", payload.Data.PushName))

	// 3. Classify
	route, pm := c.service.Classify(&payload)
	if route == RouteIgnored {
		ctx.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Message ignored (sent by bot)",
		})
		return
	}

	next := route.NextAction()

	// 4. Respond immediately; aggregation takes at least one quiet period
	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Webhook processed successfully",
		"data": WebhookResult{
			Route:             route,
			MessageID:         pm.ID,
			MessageType:       pm.MessageType,
			UserNumber:        pm.UserNumber,
			NextAction:        next.Action,
			ActionDescription: next.Description,
		},
	})

	// 5. Process in background
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.service.Handle(context.Background(), route, pm)
	}()
}

// Wait blocks until background processing started by Webhook has finished
// or ctx expires.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health godoc
// @Summary Webhook health
// @Tags webhook
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /webhook/health [get]
func (c *Controller) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Aleen IA is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   c.version,
	})
}

// Test godoc
// @Summary Webhook smoke test
// @Tags webhook
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /webhook/test [get]
func (c *Controller) Test(ctx *gin.Context) {
	utils.Zlog.Info("Test endpoint called",
		zap.String("client_ip", ctx.ClientIP()),
		zap.String("user_agent", ctx.Request.UserAgent()))

	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Test endpoint working",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

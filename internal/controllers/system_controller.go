package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Conversly/whatsapp-gateway/internal/config"
)

// Version is stamped at build time via -ldflags.
var Version = "1.0.0"

// AgentLister exposes the agents the gateway can route to.
type AgentLister interface {
	AgentNames() []string
	LoadedAt() time.Time
}

type SystemController struct {
	cfg    *config.Config
	agents AgentLister
}

func NewSystemController(cfg *config.Config, agents AgentLister) *SystemController {
	return &SystemController{cfg: cfg, agents: agents}
}

// Status godoc
// @Summary Get system status
// @Description Get current system status information
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/status [get]
func (s *SystemController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     s.cfg.ServiceName,
		"version":     Version,
		"environment": s.cfg.Environment,
		"hostname":    s.cfg.Hostname,
		"timestamp":   time.Now().UTC(),
	})
}

// Info godoc
// @Summary Get system information
// @Description Get detailed system information including aggregation settings
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/info [get]
func (s *SystemController) Info(c *gin.Context) {
	body := gin.H{
		"service":         s.cfg.ServiceName,
		"version":         Version,
		"environment":     s.cfg.Environment,
		"hostname":        s.cfg.Hostname,
		"debug":           s.cfg.Debug,
		"log_level":       s.cfg.LogLevel,
		"quiet_period_ms": s.cfg.QuietPeriod.Milliseconds(),
		"buffer_ttl_s":    int64(s.cfg.BufferTTL.Seconds()),
		"send_replies":    s.cfg.SendReplies,
		"timestamp":       time.Now().UTC(),
	}
	if s.agents != nil {
		body["agents"] = s.agents.AgentNames()
		if at := s.agents.LoadedAt(); !at.IsZero() {
			body["agents_loaded_at"] = at.UTC()
		}
	}
	c.JSON(http.StatusOK, body)
}

package controllers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

// Pinger is any dependency that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthController struct {
	db    Pinger
	redis Pinger
	// optional dependencies are reported but never fail readiness
	optional map[string]Pinger
}

func NewHealthController(db, redis Pinger, optional map[string]Pinger) *HealthController {
	return &HealthController{db: db, redis: redis, optional: optional}
}

// HealthCheck godoc
// @Summary Check application health
// @Description Check if the application and database are healthy
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthController) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		utils.Zlog.Error("Database health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"database":  "down",
			"timestamp": time.Now().UTC(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"database":  "up",
		"timestamp": time.Now().UTC(),
	})
}

// Liveness godoc
// @Summary Liveness probe
// @Description Check if the application is alive
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/live [get]
func (h *HealthController) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
	})
}

// Readiness godoc
// @Summary Readiness probe
// @Description Check database and Redis concurrently; optional backends are reported only
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/ready [get]
func (h *HealthController) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	required := map[string]Pinger{"database": h.db, "redis": h.redis}
	results := make(chan [2]string, len(required)+len(h.optional))

	var g errgroup.Group
	for name, p := range required {
		name, p := name, p
		g.Go(func() error {
			if err := p.Ping(ctx); err != nil {
				results <- [2]string{name, "down"}
				return fmt.Errorf("%s: %w", name, err)
			}
			results <- [2]string{name, "up"}
			return nil
		})
	}
	for name, p := range h.optional {
		name, p := name, p
		g.Go(func() error {
			state := "up"
			if err := p.Ping(ctx); err != nil {
				state = "down"
			}
			results <- [2]string{name, state}
			return nil
		})
	}

	err := g.Wait()
	close(results)

	body := gin.H{"timestamp": time.Now().UTC()}
	for r := range results {
		body[r[0]] = r[1]
	}
	if err != nil {
		utils.Zlog.Error("Readiness check failed", zap.Error(err))
		body["status"] = "not ready"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "ready"
	c.JSON(http.StatusOK, body)
}

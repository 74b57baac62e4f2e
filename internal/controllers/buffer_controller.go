package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Conversly/whatsapp-gateway/internal/debounce"
	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

// BufferAdmin is the operator view of the aggregation coordinator.
type BufferAdmin interface {
	ListActive() []debounce.ActiveKey
	ForceDrain(ctx context.Context, key string) (debounce.Result, error)
	CancelTimeout(key string) bool
	QuietPeriod() time.Duration
}

// KV is the string store probed by the Redis round-trip endpoint.
type KV interface {
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
	GetString(ctx context.Context, key string) (string, error)
}

type BufferController struct {
	coord BufferAdmin
	kv    KV
}

func NewBufferController(coord BufferAdmin, kv KV) *BufferController {
	return &BufferController{coord: coord, kv: kv}
}

// Active godoc
// @Summary List active aggregation keys
// @Tags buffers
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/debounce/active [get]
func (b *BufferController) Active(c *gin.Context) {
	active := b.coord.ListActive()
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"count":           len(active),
		"keys":            active,
		"quiet_period_ms": b.coord.QuietPeriod().Milliseconds(),
	})
}

// Drain godoc
// @Summary Drain a buffer immediately
// @Description Reads and clears the buffer for key without waiting for the quiet period
// @Tags buffers
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/debounce/{key}/drain [post]
func (b *BufferController) Drain(c *gin.Context) {
	key := c.Param("key")
	res, err := b.coord.ForceDrain(c.Request.Context(), key)
	switch {
	case errors.Is(err, debounce.ErrEmptyKey):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	case errors.Is(err, debounce.ErrDrainInProgress):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	case err != nil:
		utils.Zlog.Error("Forced drain failed", zap.String("buffer_key", key), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "buffer store unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"key":     key,
		"result":  res,
	})
}

// Cancel godoc
// @Summary Cancel the pending timer for a key
// @Description Forgets the key's state; callers still waiting on it are abandoned
// @Tags buffers
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/debounce/{key} [delete]
func (b *BufferController) Cancel(c *gin.Context) {
	key := c.Param("key")
	if !b.coord.CancelTimeout(key) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no active state for key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "key": key})
}

// RedisRoundTrip godoc
// @Summary Write and read back a probe value in Redis
// @Tags buffers
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /test/redis [get]
func (b *BufferController) RedisRoundTrip(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	key := "probe:" + uuid.NewString()
	want := time.Now().UTC().Format(time.RFC3339Nano)
	if err := b.kv.SetString(ctx, key, want, 30*time.Second); err != nil {
		utils.Zlog.Error("Redis probe write failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "redis write failed"})
		return
	}
	got, err := b.kv.GetString(ctx, key)
	if err == nil && got != want {
		err = errors.New("value mismatch")
	}
	if err != nil {
		utils.Zlog.Error("Redis probe read failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "redis read failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Redis round trip ok",
		"value":   got,
	})
}

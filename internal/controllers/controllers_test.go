package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Conversly/whatsapp-gateway/internal/config"
	"github.com/Conversly/whatsapp-gateway/internal/debounce"
	"github.com/Conversly/whatsapp-gateway/internal/loaders"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(t *testing.T, r http.Handler, method, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func ok(context.Context) error { return nil }
func down(context.Context) error { return errors.New("down") }

func TestHealth(t *testing.T) {
	r := gin.New()
	h := NewHealthController(PingFunc(ok), PingFunc(ok), map[string]Pinger{"ai": PingFunc(down)})
	r.GET("/health", h.HealthCheck)
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)

	code, body := do(t, r, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "healthy", body["status"])

	code, body = do(t, r, http.MethodGet, "/health/live")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "alive", body["status"])

	code, body = do(t, r, http.MethodGet, "/health/ready")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ready", body["status"])
	require.Equal(t, "up", body["redis"])
	require.Equal(t, "down", body["ai"])
}

func TestHealth_DependencyDown(t *testing.T) {
	r := gin.New()
	h := NewHealthController(PingFunc(down), PingFunc(ok), nil)
	r.GET("/health", h.HealthCheck)
	r.GET("/health/ready", h.Readiness)

	code, body := do(t, r, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "down", body["database"])

	code, body = do(t, r, http.MethodGet, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "not ready", body["status"])
	require.Equal(t, "down", body["database"])
	require.Equal(t, "up", body["redis"])
}

type staticAgents []string

func (s staticAgents) AgentNames() []string { return s }
func (staticAgents) LoadedAt() time.Time { return time.Unix(1700000000, 0) }

func TestSystem(t *testing.T) {
	cfg := &config.Config{
		ServiceName: "whatsapp-gateway",
		Environment: "test",
		QuietPeriod: 10 * time.Second,
		BufferTTL:   time.Hour,
	}
	r := gin.New()
	s := NewSystemController(cfg, staticAgents{"DOUBT", "SALES"})
	r.GET("/status", s.Status)
	r.GET("/info", s.Info)

	code, body := do(t, r, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "whatsapp-gateway", body["service"])

	code, body = do(t, r, http.MethodGet, "/info")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 10000, body["quiet_period_ms"])
	require.EqualValues(t, 3600, body["buffer_ttl_s"])
	require.Equal(t, []any{"DOUBT", "SALES"}, body["agents"])
}

type fakeAdmin struct {
	active   []debounce.ActiveKey
	drainRes debounce.Result
	drainErr error
	known    map[string]bool
}

func (f *fakeAdmin) ListActive() []debounce.ActiveKey { return f.active }
func (f *fakeAdmin) ForceDrain(_ context.Context, key string) (debounce.Result, error) {
	return f.drainRes, f.drainErr
}
func (f *fakeAdmin) CancelTimeout(key string) bool { return f.known[key] }
func (f *fakeAdmin) QuietPeriod() time.Duration { return 10 * time.Second }

func bufferRouter(admin BufferAdmin, kv KV) *gin.Engine {
	r := gin.New()
	b := NewBufferController(admin, kv)
	r.GET("/buffers", b.Active)
	r.POST("/buffers/:key/drain", b.Drain)
	r.DELETE("/buffers/:key", b.Cancel)
	r.GET("/test/redis", b.RedisRoundTrip)
	return r
}

func TestBuffer_Active(t *testing.T) {
	admin := &fakeAdmin{active: []debounce.ActiveKey{{Key: "a"}, {Key: "b", InFlight: true}}}
	code, body := do(t, bufferRouter(admin, nil), http.MethodGet, "/buffers")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, body["count"])
	require.EqualValues(t, 10000, body["quiet_period_ms"])
}

func TestBuffer_Drain(t *testing.T) {
	admin := &fakeAdmin{drainRes: debounce.Result{ShouldProceed: true, AggregatedMessage: "oi tudo bem"}}
	code, body := do(t, bufferRouter(admin, nil), http.MethodPost, "/buffers/k1/drain")
	require.Equal(t, http.StatusOK, code)
	res := body["result"].(map[string]any)
	require.Equal(t, true, res["shouldProceed"])
	require.Equal(t, "oi tudo bem", res["aggregatedMessage"])

	admin.drainErr = debounce.ErrDrainInProgress
	code, _ = do(t, bufferRouter(admin, nil), http.MethodPost, "/buffers/k1/drain")
	require.Equal(t, http.StatusConflict, code)

	admin.drainErr = errors.New("redis down")
	code, _ = do(t, bufferRouter(admin, nil), http.MethodPost, "/buffers/k1/drain")
	require.Equal(t, http.StatusBadGateway, code)
}

func TestBuffer_Cancel(t *testing.T) {
	admin := &fakeAdmin{known: map[string]bool{"k1": true}}
	r := bufferRouter(admin, nil)

	code, _ := do(t, r, http.MethodDelete, "/buffers/k1")
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, r, http.MethodDelete, "/buffers/k2")
	require.Equal(t, http.StatusNotFound, code)
}

func TestBuffer_RedisRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	kv := loaders.NewRedisClientFrom(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)

	code, body := do(t, bufferRouter(&fakeAdmin{}, kv), http.MethodGet, "/test/redis")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["success"])

	mr.Close()
	code, _ = do(t, bufferRouter(&fakeAdmin{}, kv), http.MethodGet, "/test/redis")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

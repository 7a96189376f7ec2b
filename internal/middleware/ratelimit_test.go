package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"studysphere-realtime/internal/middleware"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLimitedRouter(t *testing.T, max int) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := gin.New()
	r.Use(middleware.RateLimit(client, "test:", max, time.Second))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r, mr
}

func doGet(r *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = remoteAddr
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	r, mr := setupLimitedRouter(t, 2)

	assert.Equal(t, http.StatusOK, doGet(r, "10.0.0.1:1000").Code)
	w := doGet(r, "10.0.0.1:1000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = doGet(r, "10.0.0.1:1000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"Too many requests"}`, w.Body.String())

	// 其他 IP 不受影响
	assert.Equal(t, http.StatusOK, doGet(r, "10.0.0.2:1000").Code)

	assert.True(t, mr.Exists("test:ratelimit:10.0.0.1"))
}

func TestRateLimit_WindowExpires(t *testing.T) {
	r, mr := setupLimitedRouter(t, 1)

	require.Equal(t, http.StatusOK, doGet(r, "10.0.0.1:1000").Code)
	require.Equal(t, http.StatusTooManyRequests, doGet(r, "10.0.0.1:1000").Code)

	mr.FastForward(2 * time.Second)

	assert.Equal(t, http.StatusOK, doGet(r, "10.0.0.1:1000").Code)
}

func TestRateLimit_RedisUnavailable(t *testing.T) {
	r, mr := setupLimitedRouter(t, 5)
	mr.Close()

	w := doGet(r, "10.0.0.1:1000")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRateLimit_PanicsOnInvalidConfig(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	assert.Panics(t, func() { middleware.RateLimit(nil, "", 1, time.Second) })
	assert.Panics(t, func() { middleware.RateLimit(client, "", 0, time.Second) })
	assert.Panics(t, func() { middleware.RateLimit(client, "", 1, 0) })
}

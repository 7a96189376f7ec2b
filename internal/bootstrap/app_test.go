package bootstrap

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"studysphere-realtime/internal/dto"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_PORT", "LOG_LEVEL", "APP_ENV", "CORS_ALLOWED_ORIGIN",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_KEY_PREFIX",
		"DB_USER", "DB_PASSWORD", "DB_HOST", "DB_PORT", "DB_NAME",
		"RATE_LIMIT_MAX", "RATE_LIMIT_WINDOW", "WS_MAX_MESSAGE_BYTES", "SESSION_RETENTION",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "http://localhost:5173", cfg.CORSAllowedOrigin)
	assert.Equal(t, "ss:", cfg.KeyPrefix)
	assert.Equal(t, 100, cfg.RateLimitMax)
	assert.Equal(t, time.Second, cfg.RateLimitWindow)
	assert.Equal(t, int64(10<<20), cfg.WSMaxMessageBytes)
	assert.Equal(t, 720*time.Hour, cfg.SessionRetention)
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.SessionHistoryEnabled())
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOG_LEVEL", "verbose")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("DB_USER", "study")
	t.Setenv("DB_NAME", "studysphere")
	t.Setenv("RATE_LIMIT_WINDOW", "500ms")
	t.Setenv("SESSION_RETENTION", "48h")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "info", cfg.LogLevel, "invalid level falls back to info")
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimitWindow)
	assert.Equal(t, 48*time.Hour, cfg.SessionRetention)
	assert.True(t, cfg.SessionHistoryEnabled())
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"REDIS_DB":             "two",
		"RATE_LIMIT_MAX":       "0",
		"RATE_LIMIT_WINDOW":    "soon",
		"WS_MAX_MESSAGE_BYTES": "-1",
		"SESSION_RETENTION":    "forever",
		"DB_NAME":              "studysphere",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func newTestApp(t *testing.T, cfg *Config) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	app, err := NewAppWithConfig(cfg)
	require.NoError(t, err)
	go app.Hub.Run()
	t.Cleanup(app.Hub.Stop)
	return app
}

func baseConfig() *Config {
	return &Config{
		ServerPort:        "0",
		LogLevel:          "error",
		AppEnv:            "development",
		CORSAllowedOrigin: "http://localhost:5173",
		KeyPrefix:         "test:",
		RateLimitMax:      2,
		RateLimitWindow:   time.Minute,
		WSMaxMessageBytes: 1 << 20,
		SessionRetention:  time.Hour,
	}
}

func TestApp_RoutesWithoutInfrastructure(t *testing.T) {
	app := newTestApp(t, baseConfig())
	assert.Nil(t, app.RedisClient)
	assert.Nil(t, app.Recorder)

	_, err := app.RoomService.CreateRoom(dto.RoomRequest{RoomID: "r1", RoomName: "Study", WorkspaceID: "w1", UserID: "u1", UserName: "Alice"}, "c1")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())

	w = httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/workspaces/w1/rooms", nil))
	assert.JSONEq(t, `{"rooms":[{"roomId":"r1","roomName":"Study","participantCount":1}]}`, w.Body.String())

	w = httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "studysphere_whiteboard_rooms_open 1")

	// 未配置数据库时没有会话历史接口
	w = httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/workspaces/w1/sessions", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApp_RateLimitWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.RedisAddr = mr.Addr()

	app := newTestApp(t, cfg)
	t.Cleanup(func() { _ = app.RedisClient.Close() })
	require.NotNil(t, app.RedisClient)
	assert.Nil(t, app.Worker, "session history needs MySQL too")

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms/r1/users", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// 健康检查不限流
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestApp_RedisUnavailable(t *testing.T) {
	cfg := baseConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	_, err := NewAppWithConfig(cfg)
	assert.Error(t, err)
}

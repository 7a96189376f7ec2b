package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "studysphere-realtime/internal/handler/http"
	wsHandler "studysphere-realtime/internal/handler/websocket"
	"studysphere-realtime/internal/hub"
	gormpersistence "studysphere-realtime/internal/infra/persistence/gorm"
	"studysphere-realtime/internal/infra/setup"
	memorystate "studysphere-realtime/internal/infra/state/memory"
	"studysphere-realtime/internal/metrics"
	"studysphere-realtime/internal/middleware"
	"studysphere-realtime/internal/repository"
	"studysphere-realtime/internal/service"
	"studysphere-realtime/internal/tasks"
	"studysphere-realtime/internal/worker"
)

const pruneSchedule = "@every 1h"

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	Worker      *worker.WorkerServer
	Scheduler   *asynq.Scheduler
	Recorder    *tasks.SessionRecorder
	RoomService *service.RoomService
	Metrics     *metrics.Collector
	Hub         *hub.Hub
	Router      *gin.Engine
	HttpServer  *http.Server
}

// NewApp 加载配置并创建应用
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig 根据配置初始化所有组件。Redis 和 MySQL 都是可选的。
func NewAppWithConfig(cfg *Config) (*App, error) {
	log := initLogger(cfg)
	log.Info("Configuration loaded successfully")
	app := &App{Config: cfg, Log: log}

	// 1. 可选的基础设施
	if cfg.RedisEnabled() {
		redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to init Redis: %w", err)
		}
		app.RedisClient = redisClient
	} else {
		log.Warn("REDIS_ADDR not set, rate limiting and session history disabled")
	}

	var sessionRepo repository.RoomSessionRepository
	if cfg.SessionHistoryEnabled() {
		db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			app.closeInfra()
			return nil, fmt.Errorf("failed to init DB: %w", err)
		}
		if err := setup.MigrateDB(db); err != nil {
			app.DB = db
			app.closeInfra()
			return nil, fmt.Errorf("failed to migrate DB: %w", err)
		}
		app.DB = db
		sessionRepo = gormpersistence.NewGormRoomSessionRepository(db)

		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		app.AsynqClient = asynq.NewClient(redisOpt)
		app.Recorder = tasks.NewSessionRecorder(app.AsynqClient, log)
		app.Worker = worker.NewWorkerServer(redisOpt, sessionRepo, cfg.SessionRetention, log)
		app.Scheduler = asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Location: time.UTC,
			Logger:   log.WithField("component", "scheduler"),
		})
		log.Info("Session history enabled")
	} else if cfg.DBName != "" {
		log.Warn("DB_NAME set without REDIS_ADDR, session history disabled")
	}

	// 2. 核心：房间注册表、Hub、指标
	var sink service.RoomEventSink
	if app.Recorder != nil {
		sink = app.Recorder
	}
	app.RoomService = service.NewRoomService(memorystate.NewRoomStore(), sink)
	app.Metrics = metrics.NewCollector(app.RoomService)
	app.Hub = hub.NewHub(app.RoomService, app.Metrics)

	// 3. 路由
	app.Router = app.newRouter(sessionRepo)
	app.HttpServer = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("Application assembled successfully")
	return app, nil
}

func initLogger(cfg *Config) *logrus.Logger {
	// 各包直接使用 logrus 包级函数，所以配置标准 logger
	log := logrus.StandardLogger()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	return log
}

func (a *App) newRouter(sessionRepo repository.RoomSessionRepository) *gin.Engine {
	if a.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(a.Log))
	router.Use(middleware.CORS(a.Config.CORSAllowedOrigin))

	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	router.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	// 限流只作用于业务入口，健康检查和指标不受影响
	limited := router.Group("")
	if a.RedisClient != nil {
		limited.Use(middleware.RateLimit(a.RedisClient, a.Config.KeyPrefix, a.Config.RateLimitMax, a.Config.RateLimitWindow))
	}

	ws := wsHandler.NewWebSocketHandler(a.Hub, a.Config.CORSAllowedOrigin, a.Config.WSMaxMessageBytes)
	limited.GET("/ws/whiteboard", ws.HandleWhiteboard)
	limited.GET("/ws/chat", ws.HandleChat)

	rooms := httpHandler.NewRoomHandler(a.RoomService)
	api := limited.Group("/api")
	api.GET("/rooms/:roomId/users", rooms.GetRoomUsers)
	api.GET("/workspaces/:workspaceId/rooms", rooms.ListWorkspaceRooms)
	if sessionRepo != nil {
		sessions := httpHandler.NewSessionHandler(sessionRepo)
		api.GET("/workspaces/:workspaceId/sessions", sessions.ListWorkspaceSessions)
	}
	return router
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() error {
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	if a.Worker != nil {
		if err := a.Worker.Start(); err != nil {
			return fmt.Errorf("failed to start worker server: %w", err)
		}
		a.Log.Info("Asynq worker server started")
	}
	if a.Scheduler != nil {
		a.registerPeriodicTasks()
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
	return nil
}

func (a *App) registerPeriodicTasks() {
	entryID, err := a.Scheduler.Register(pruneSchedule, tasks.NewRoomSessionPruneTask(), asynq.Queue("low"))
	if err != nil {
		a.Log.Errorf("Could not register periodic session prune task: %v", err)
		return
	}
	a.Log.Infof("Periodic session prune task registered with schedule '%s' (EntryID: %s)", pruneSchedule, entryID)

	if err := a.Scheduler.Start(); err != nil {
		a.Log.Errorf("Asynq scheduler failed to start: %v", err)
	}
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. Hub 关闭所有客户端发送通道，已升级的 WebSocket 随之关闭
	a.Hub.Stop()

	// 3. 把剩余的会话事件送进队列，再停 scheduler 和 worker
	if a.Recorder != nil {
		a.Recorder.Close()
	}
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
	}
	if a.Worker != nil {
		a.Worker.Shutdown()
	}
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}

	a.closeInfra()
	a.Log.Info("Application shutdown complete.")
}

func (a *App) closeInfra() {
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}

package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config 结构体用于存储从环境变量或 .env 文件加载的配置
type Config struct {
	ServerPort        string
	LogLevel          string
	AppEnv            string // development / production
	CORSAllowedOrigin string

	// Redis 可选：未配置时关闭限流和会话历史
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	// MySQL 可选：未配置 DB_NAME 时不记录会话历史
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	RateLimitMax      int
	RateLimitWindow   time.Duration
	WSMaxMessageBytes int64
	SessionRetention  time.Duration
}

// RedisEnabled 表示是否配置了 Redis
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// SessionHistoryEnabled 会话历史同时依赖 Redis（任务队列）和 MySQL（存储）
func (c *Config) SessionHistoryEnabled() bool { return c.RedisAddr != "" && c.DBName != "" }

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)，已存在的环境变量不会被覆盖
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:        envOr("SERVER_PORT", "8080"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		AppEnv:            envOr("APP_ENV", "development"),
		CORSAllowedOrigin: envOr("CORS_ALLOWED_ORIGIN", "http://localhost:5173"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:         envOr("REDIS_KEY_PREFIX", "ss:"),
		DBUser:            os.Getenv("DB_USER"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBHost:            envOr("DB_HOST", "127.0.0.1"),
		DBPort:            envOr("DB_PORT", "3306"),
		DBName:            os.Getenv("DB_NAME"),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax, err = envInt("RATE_LIMIT_MAX", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = envDuration("RATE_LIMIT_WINDOW", time.Second); err != nil {
		return nil, err
	}
	maxBytes, err := envInt("WS_MAX_MESSAGE_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	cfg.WSMaxMessageBytes = int64(maxBytes)
	if cfg.SessionRetention, err = envDuration("SESSION_RETENTION", 720*time.Hour); err != nil {
		return nil, err
	}

	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return nil, fmt.Errorf("WS_MAX_MESSAGE_BYTES must be positive")
	}
	if cfg.DBName != "" && cfg.DBUser == "" {
		return nil, fmt.Errorf("environment variable DB_USER must be set when DB_NAME is set")
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

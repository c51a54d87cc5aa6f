package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Storage
	StorageBackend string // "postgres" または "dynamodb"
	DynamoTable    string

	// Auth
	AuthEmailEnabled   bool
	LoginMaxAttempts   int
	LoginAttemptWindow time.Duration

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Realtime
	StreamReplayBuffer int
	StreamHeartbeat    time.Duration

	// Webhook
	WebhookTimeout          time.Duration
	WebhookMaxBody          int64
	WebhookMaxAttempts      int
	WebhookDispatchInterval time.Duration
	WebhookMaxConcurrent    int

	// Rate Limit
	RateLimitGeneral int
	RateLimitWrite   int

	// Mail
	ResendAPIKey string
	MailFrom     string

	// Server
	ServerPort     string
	ServerMaxConns int
	BaseURL        string
	LogLevel       string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.StorageBackend = getEnvString("STORAGE_BACKEND", "postgres")
	cfg.DynamoTable = getEnvString("DYNAMO_TABLE", "paises-visited")
	cfg.AuthEmailEnabled = getEnvBool("AUTH_EMAIL_ENABLED", true)
	cfg.LoginMaxAttempts = getEnvInt("LOGIN_MAX_ATTEMPTS", 5)
	cfg.LoginAttemptWindow = getEnvDuration("LOGIN_ATTEMPT_WINDOW", 15*time.Minute)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", 1*time.Hour)
	cfg.StreamReplayBuffer = getEnvInt("STREAM_REPLAY_BUFFER", 256)
	cfg.StreamHeartbeat = getEnvDuration("STREAM_HEARTBEAT", 30*time.Second)
	cfg.WebhookTimeout = getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second)
	cfg.WebhookMaxBody = int64(getEnvInt("WEBHOOK_MAX_BODY", 1024*1024))
	cfg.WebhookMaxAttempts = getEnvInt("WEBHOOK_MAX_ATTEMPTS", 8)
	cfg.WebhookDispatchInterval = getEnvDuration("WEBHOOK_DISPATCH_INTERVAL", 30*time.Second)
	cfg.WebhookMaxConcurrent = getEnvInt("WEBHOOK_MAX_CONCURRENT", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 60)
	cfg.ResendAPIKey = getEnvString("RESEND_API_KEY", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", "")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.ServerMaxConns = getEnvInt("SERVER_MAX_CONNS", 1024)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.StorageBackend != "postgres" && cfg.StorageBackend != "dynamodb" {
		return nil, fmt.Errorf("invalid STORAGE_BACKEND: %q (must be postgres or dynamodb)", cfg.StorageBackend)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

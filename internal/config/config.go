package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr           string
	StoreMode            string
	DatabaseURL          string
	SessionEncryptionKey string

	AdminUsername string
	AdminPassword string
	JWTSecret     string

	LinkUpUsername   string
	LinkUpPassword   string
	LinkUpRegion     string
	LinkUpConnection string

	FetchInterval    time.Duration
	FetchTimeout     time.Duration
	FetchMaxAttempts int
	FetchRetryBase   time.Duration

	AlertLowMgdl     int
	AlertHighMgdl    int
	TelegramBotToken string
	TelegramChatID   string
}

func Load() Config {
	return Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":18080"),
		StoreMode:            getEnv("STORE_MODE", "postgres"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		SessionEncryptionKey: getEnv("SESSION_ENCRYPTION_KEY", ""),
		AdminUsername:        getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:        getEnv("ADMIN_PASSWORD", "change-me"),
		JWTSecret:            getEnv("JWT_SECRET", "change-this-secret"),
		LinkUpUsername:       getEnv("LINK_UP_USERNAME", ""),
		LinkUpPassword:       getEnv("LINK_UP_PASSWORD", ""),
		LinkUpRegion:         getEnv("LINK_UP_REGION", "EU"),
		LinkUpConnection:     getEnv("LINK_UP_CONNECTION", ""),
		FetchInterval:        getDuration("FETCH_INTERVAL", time.Minute),
		FetchTimeout:         getDuration("FETCH_TIMEOUT", 30*time.Second),
		FetchMaxAttempts:     getInt("FETCH_MAX_ATTEMPTS", 3),
		FetchRetryBase:       getDuration("FETCH_RETRY_BASE", time.Minute),
		AlertLowMgdl:         getInt("ALERT_LOW_MGDL", 70),
		AlertHighMgdl:        getInt("ALERT_HIGH_MGDL", 250),
		TelegramBotToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:       getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

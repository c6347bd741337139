package app

import (
	"time"

	"github.com/seralia/guildmind/internal/platform/envutil"
)

type Config struct {
	Mode            string
	DBPath          string
	SettingsPath    string
	RedisAddr       string
	SettingsTTL     time.Duration
	DefaultProvider string
	MaxContextSize  int
	GeminiBaseURL   string
	TogetherBaseURL string
}

func LoadConfig() Config {
	return Config{
		Mode:            envutil.String("APP_MODE", "development"),
		DBPath:          envutil.String("DB_PATH", "data/guildmind.db"),
		SettingsPath:    envutil.String("SETTINGS_PATH", "data/settings.json"),
		RedisAddr:       envutil.String("REDIS_ADDR", ""),
		SettingsTTL:     envutil.Duration("SETTINGS_CACHE_TTL", 5*time.Minute),
		DefaultProvider: envutil.String("DEFAULT_PROVIDER", "gemini"),
		MaxContextSize:  envutil.Int("MAX_CONTEXT_SIZE", 0),
		GeminiBaseURL:   envutil.String("GEMINI_BASE_URL", ""),
		TogetherBaseURL: envutil.String("TOGETHER_BASE_URL", ""),
	}
}

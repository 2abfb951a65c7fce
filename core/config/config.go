package config

import (
	"strings"
	"time"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	AI         AIConfig
	APIKeys    APIKeysConfig
	WhatsApp   WhatsAppConfig
	Google     GoogleOAuthConfig
	Scheduler  SchedulerConfig
	WorkerPool WorkerPoolConfig
}

// GoogleOAuthConfig is used for the calendar OAuth flow.
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
}

type AppConfig struct {
	Version     string
	Port        string
	Debug       bool
	Environment string
	BaseUrl     string
	ServerID    string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB name for Postgres
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
}

type AIConfig struct {
	Timezone           string
	MaxTokens          int
	SimpleMaxTokens    int
	SummaryMaxTokens   int
	TranscriptionModel string
	VisionModel        string
	MaxImageBytes      int64
	MaxAudioBytes      int64
}

// APIKeysConfig carries the key pools per LLM provider. The plural env vars
// take comma-separated lists; the singular forms act as single-key fallbacks.
type APIKeysConfig struct {
	Anthropic []string
	OpenAI    []string
	Google    []string
}

type WhatsAppConfig struct {
	MetaGraphBaseURL string
	MetaAPIVersion   string
	WaSenderBaseURL  string
	SendTimeout      time.Duration
	MediaSendTimeout time.Duration
}

type SchedulerConfig struct {
	CheckInterval time.Duration
	LockTTL       time.Duration
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

// Global provides access to the loaded configuration globally.
var Global *Config

// LoadConfig loads configuration from environment variables or defaults.
func LoadConfig() (*Config, error) {
	appCfg := AppConfig{
		Version:     "v1.4.0",
		Port:        getEnv("APP_PORT", "8000"),
		Debug:       getEnvBool("APP_DEBUG", false),
		Environment: getEnv("APP_ENV", "development"),
		BaseUrl:     getEnv("APP_BASE_URL", "http://localhost:8000"),
		ServerID:    getEnv("SERVER_ID", ""),
	}

	dbCfg := DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", "sqlite"),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		Name:            getEnv("DB_NAME", "storages/wapilot.db"),
		ValkeyEnabled:   getEnvBool("VALKEY_ENABLED", true),
		ValkeyAddress:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		ValkeyPassword:  getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:        getEnvInt("VALKEY_DB", 0),
		ValkeyKeyPrefix: getEnv("VALKEY_KEY_PREFIX", "wapilot"),
	}

	aiCfg := AIConfig{
		Timezone:           getEnv("AI_TIMEZONE", "Asia/Jerusalem"),
		MaxTokens:          getEnvInt("AI_MAX_TOKENS", 1024),
		SimpleMaxTokens:    getEnvInt("AI_SIMPLE_MAX_TOKENS", 300),
		SummaryMaxTokens:   getEnvInt("AI_SUMMARY_MAX_TOKENS", 2000),
		TranscriptionModel: getEnv("AI_TRANSCRIPTION_MODEL", "whisper-1"),
		VisionModel:        getEnv("AI_VISION_MODEL", "claude-3-5-haiku-20241022"),
		MaxImageBytes:      getEnvInt64("AI_MAX_IMAGE_BYTES", 5*1024*1024),
		MaxAudioBytes:      getEnvInt64("AI_MAX_AUDIO_BYTES", 16*1024*1024),
	}

	keysCfg := APIKeysConfig{
		Anthropic: getEnvKeyList("ANTHROPIC_API_KEYS", "ANTHROPIC_API_KEY"),
		OpenAI:    getEnvKeyList("OPENAI_API_KEYS", "OPENAI_API_KEY"),
		Google:    getEnvKeyList("GOOGLE_API_KEYS", "GOOGLE_API_KEY"),
	}

	waCfg := WhatsAppConfig{
		MetaGraphBaseURL: getEnv("META_GRAPH_BASE_URL", "https://graph.facebook.com"),
		MetaAPIVersion:   getEnv("META_API_VERSION", "v22.0"),
		WaSenderBaseURL:  getEnv("WASENDER_BASE_URL", "https://wasenderapi.com/api"),
		SendTimeout:      time.Duration(getEnvInt("WHATSAPP_SEND_TIMEOUT_SECONDS", 30)) * time.Second,
		MediaSendTimeout: time.Duration(getEnvInt("WHATSAPP_MEDIA_SEND_TIMEOUT_SECONDS", 90)) * time.Second,
	}

	googleCfg := GoogleOAuthConfig{
		ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
	}

	schedCfg := SchedulerConfig{
		CheckInterval: time.Duration(getEnvInt("SCHEDULER_CHECK_INTERVAL_SECONDS", 30)) * time.Second,
		LockTTL:       time.Duration(getEnvInt("SCHEDULER_LOCK_TTL_SECONDS", 180)) * time.Second,
	}

	poolCfg := WorkerPoolConfig{
		Size:      getEnvInt("WORKER_POOL_SIZE", 16),
		QueueSize: getEnvInt("WORKER_POOL_QUEUE_SIZE", 256),
	}

	cfg := &Config{
		App:        appCfg,
		Database:   dbCfg,
		AI:         aiCfg,
		APIKeys:    keysCfg,
		WhatsApp:   waCfg,
		Google:     googleCfg,
		Scheduler:  schedCfg,
		WorkerPool: poolCfg,
	}

	Global = cfg
	return cfg, nil
}

// getEnvKeyList reads a comma-separated key list from pluralKey, falling back
// to the singular env var as a one-element pool.
func getEnvKeyList(pluralKey, singularKey string) []string {
	if v := getEnv(pluralKey, ""); v != "" {
		var keys []string
		for _, part := range strings.Split(v, ",") {
			if k := strings.TrimSpace(part); k != "" {
				keys = append(keys, k)
			}
		}
		return keys
	}
	if v := getEnv(singularKey, ""); v != "" {
		return []string{v}
	}
	return nil
}

package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	CredentialsFile  = "file"
	CredentialsSQL   = "sql"
	CredentialsRedis = "redis"

	AccessModePublic  = "public"
	AccessModePrivate = "private"
)

var (
	ErrInvalidCredentialsBackend = errors.New("CREDENTIALS_BACKEND must be 'file', 'sql' or 'redis'")
	ErrRedisRequired             = errors.New("REDIS_ADDR is required for the redis credentials backend")
	ErrMissingDatabaseDSN        = errors.New("DB_DSN is required for the sql credentials backend")
	ErrInvalidHistoryCapacity    = errors.New("HISTORY_CAPACITY must be > 0")
	ErrInvalidAccessMode         = errors.New("BOT_ACCESS_MODE must be 'public' or 'private'")
	ErrMissingAdminUserID        = errors.New("ADMIN_USER_ID is required and must be > 0")
)

type Config struct {
	Providers   ProvidersConfig
	History     HistoryConfig
	Credentials CredentialsConfig
	DB          DBConfig
	Redis       RedisConfig
	HTTP        HTTPConfig
	Telegram    TelegramConfig
	Rate        RateConfig
	Worker      WorkerConfig
	Crypto      CryptoConfig
	Speech      SpeechConfig
	Log         LogConfig
}

type EndpointConfig struct {
	BaseURL      string
	Model        string
	HistoryTurns int
}

type ProvidersConfig struct {
	OpenAI      EndpointConfig
	Gemini      EndpointConfig
	HuggingFace EndpointConfig
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type HistoryConfig struct {
	Capacity int
}

type CredentialsConfig struct {
	Backend  string
	Path     string
	RedisKey string
	Document string
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
	Journal     bool
}

// Enabled reports whether a database is configured at all.
func (c DBConfig) Enabled() bool {
	return c.DSN != ""
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	UpdateTTL time.Duration
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type HTTPConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
	AdminToken  string
}

type TelegramConfig struct {
	BotToken    string
	AccessMode  string
	AdminUserID int64
}

func (c TelegramConfig) Enabled() bool {
	return c.BotToken != ""
}

type RateConfig struct {
	PerHour int64
}

type WorkerConfig struct {
	QueueSize int
}

// CryptoConfig is empty when no master key is configured; secrets are then
// stored as plaintext.
type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

func (c CryptoConfig) Enabled() bool {
	return len(c.Keys) > 0
}

type SpeechConfig struct {
	Input  bool
	Output bool
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Providers: ProvidersConfig{
			OpenAI: EndpointConfig{
				BaseURL:      mustEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:        mustEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
				HistoryTurns: mustInt("OPENAI_HISTORY_TURNS", 5),
			},
			Gemini: EndpointConfig{
				BaseURL:      mustEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
				Model:        mustEnv("GEMINI_MODEL", "gemini-pro"),
				HistoryTurns: mustInt("GEMINI_HISTORY_TURNS", 3),
			},
			HuggingFace: EndpointConfig{
				BaseURL: mustEnv("HUGGINGFACE_BASE_URL", "https://api-inference.huggingface.co/models"),
				Model:   mustEnv("HUGGINGFACE_MODEL", "microsoft/DialoGPT-medium"),
			},
			MaxTokens:   mustInt("PROVIDER_MAX_TOKENS", 500),
			Temperature: mustFloat("PROVIDER_TEMPERATURE", 0.7),
			Timeout:     mustDuration("PROVIDER_TIMEOUT", 30*time.Second),
		},
		History: HistoryConfig{
			Capacity: mustInt("HISTORY_CAPACITY", 10),
		},
		Credentials: CredentialsConfig{
			Backend:  strings.ToLower(mustEnv("CREDENTIALS_BACKEND", CredentialsFile)),
			Path:     mustEnv("CREDENTIALS_PATH", "config.json"),
			RedisKey: mustEnv("CREDENTIALS_REDIS_KEY", "jarvis:credentials"),
			Document: mustEnv("CREDENTIALS_DOCUMENT", "credentials"),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", ""),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
			Journal:     mustBool("JOURNAL_ENABLED", true),
		},
		Redis: RedisConfig{
			Addr:      mustEnv("REDIS_ADDR", ""),
			Password:  mustEnv("REDIS_PASSWORD", ""),
			DB:        mustInt("REDIS_DB", 0),
			UpdateTTL: mustDuration("UPDATE_DEDUPE_TTL", 6*time.Hour),
		},
		HTTP: HTTPConfig{
			ListenAddr:  mustEnv("HTTP_LISTEN_ADDR", "127.0.0.1:8080"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
			AdminToken:  mustEnv("HTTP_ADMIN_TOKEN", ""),
		},
		Telegram: TelegramConfig{
			BotToken:    mustEnv("BOT_TOKEN", ""),
			AccessMode:  strings.ToLower(mustEnv("BOT_ACCESS_MODE", AccessModePrivate)),
			AdminUserID: mustInt64("ADMIN_USER_ID", 0),
		},
		Rate: RateConfig{
			PerHour: int64(mustInt("RATE_LIMIT_PER_HOUR", 30)),
		},
		Worker: WorkerConfig{
			QueueSize: mustInt("WORKER_QUEUE_SIZE", 64),
		},
		Speech: SpeechConfig{
			Input:  mustBool("SPEECH_INPUT", false),
			Output: mustBool("SPEECH_OUTPUT", false),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Credentials.Backend {
	case CredentialsFile:
	case CredentialsRedis:
		if !c.Redis.Enabled() {
			return ErrRedisRequired
		}
	case CredentialsSQL:
		if !c.DB.Enabled() {
			return ErrMissingDatabaseDSN
		}
	default:
		return ErrInvalidCredentialsBackend
	}
	if c.History.Capacity <= 0 {
		return ErrInvalidHistoryCapacity
	}
	if c.Telegram.AccessMode != AccessModePublic && c.Telegram.AccessMode != AccessModePrivate {
		return ErrInvalidAccessMode
	}
	if c.Telegram.Enabled() && c.Telegram.AccessMode == AccessModePrivate && c.Telegram.AdminUserID <= 0 {
		return ErrMissingAdminUserID
	}
	if c.DB.Driver != "sqlite" && c.DB.Driver != "postgres" {
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	return nil
}

// loadCryptoConfig reads MASTER_KEYS_JSON, MASTER_KEY_<ID>_B64 and
// MASTER_KEY_B64. No keys at all is valid.
func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	for _, e := range os.Environ() {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) != 2 {
			continue
		}
		k, v := parts[0], parts[1]
		if !strings.HasPrefix(k, "MASTER_KEY_") || !strings.HasSuffix(k, "_B64") {
			continue
		}
		if k == "MASTER_KEY_B64" {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, "MASTER_KEY_"), "_B64")
		if id == "" || v == "" {
			continue
		}
		keysB64[id] = v
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if singleton := mustEnv("MASTER_KEY_B64", ""); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		return CryptoConfig{}, nil
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		if len(keys) > 1 {
			return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID is required when several master keys are set")
		}
		for id := range keys {
			current = id
		}
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{
		CurrentKeyID: current,
		Keys:         keys,
	}, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustFloat(key string, def float64) float64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

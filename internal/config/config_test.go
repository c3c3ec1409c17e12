package config

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so the host environment cannot
// leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		k := strings.SplitN(e, "=", 2)[0]
		if strings.HasPrefix(k, "MASTER_KEY") {
			t.Setenv(k, "")
		}
	}
	for _, k := range []string{
		"CREDENTIALS_BACKEND", "REDIS_ADDR", "DB_DSN", "DB_DRIVER", "HISTORY_CAPACITY",
		"BOT_TOKEN", "BOT_ACCESS_MODE", "ADMIN_USER_ID", "PROVIDER_TIMEOUT",
		"PROVIDER_TEMPERATURE", "OPENAI_HISTORY_TURNS", "SPEECH_INPUT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Credentials.Backend != CredentialsFile || cfg.Credentials.Path != "config.json" {
		t.Fatalf("unexpected credentials config %#v", cfg.Credentials)
	}
	if cfg.History.Capacity != 10 {
		t.Fatalf("expected capacity 10, got %d", cfg.History.Capacity)
	}
	if cfg.Providers.Timeout != 30*time.Second || cfg.Providers.MaxTokens != 500 || cfg.Providers.Temperature != 0.7 {
		t.Fatalf("unexpected provider defaults %#v", cfg.Providers)
	}
	if cfg.Providers.OpenAI.HistoryTurns != 5 || cfg.Providers.Gemini.HistoryTurns != 3 {
		t.Fatalf("unexpected history turns %#v", cfg.Providers)
	}
	if cfg.Crypto.Enabled() || cfg.Redis.Enabled() || cfg.Telegram.Enabled() || cfg.DB.Enabled() {
		t.Fatalf("optional subsystems should be off by default")
	}
	if cfg.Telegram.AccessMode != AccessModePrivate {
		t.Fatalf("expected the bot to default to private mode, got %q", cfg.Telegram.AccessMode)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("PROVIDER_TEMPERATURE", "0.2")
	t.Setenv("OPENAI_HISTORY_TURNS", "bogus")
	t.Setenv("SPEECH_INPUT", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers.Timeout != 5*time.Second || cfg.Providers.Temperature != 0.2 {
		t.Fatalf("overrides not applied %#v", cfg.Providers)
	}
	if cfg.Providers.OpenAI.HistoryTurns != 5 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.Providers.OpenAI.HistoryTurns)
	}
	if !cfg.Speech.Input || cfg.Speech.Output {
		t.Fatalf("unexpected speech flags %#v", cfg.Speech)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want error
	}{
		{name: "backend", env: map[string]string{"CREDENTIALS_BACKEND": "vault"}, want: ErrInvalidCredentialsBackend},
		{name: "redis", env: map[string]string{"CREDENTIALS_BACKEND": "redis"}, want: ErrRedisRequired},
		{name: "sql", env: map[string]string{"CREDENTIALS_BACKEND": "sql"}, want: ErrMissingDatabaseDSN},
		{name: "capacity", env: map[string]string{"HISTORY_CAPACITY": "0"}, want: ErrInvalidHistoryCapacity},
		{name: "access", env: map[string]string{"BOT_ACCESS_MODE": "secret"}, want: ErrInvalidAccessMode},
		{name: "admin", env: map[string]string{"BOT_TOKEN": "t", "BOT_ACCESS_MODE": "private"}, want: ErrMissingAdminUserID},
		{name: "admin by default", env: map[string]string{"BOT_TOKEN": "t"}, want: ErrMissingAdminUserID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadCryptoKeys(t *testing.T) {
	clearEnv(t)
	key := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	t.Setenv("MASTER_KEY_B64", key)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Crypto.Enabled() || cfg.Crypto.CurrentKeyID != "default" {
		t.Fatalf("unexpected crypto config %#v", cfg.Crypto)
	}

	t.Setenv("MASTER_KEY_B64", "dG9vLXNob3J0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected short key to be rejected")
	}
}

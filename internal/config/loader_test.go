package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgrelay/tgrelay/internal/core"
)

// isolate keeps tests away from the developer's real config and env.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	for _, name := range []string{"TELEGRAM_BOT_TOKEN", "ADMIN_IDS", "FREE_TIER_LIMIT"} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
	SetConfigFile("")
	t.Cleanup(func() { SetConfigFile("") })
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 20, cfg.Quota.DailyLimit)
		assert.Empty(t, cfg.Quota.AdminIDs)
		assert.Equal(t, "UTC", cfg.Quota.Timezone)
		assert.Equal(t, 7, cfg.Quota.RetentionDays)
		assert.Equal(t, time.Hour, cfg.Quota.EvictionInterval)
		assert.Equal(t, 30*time.Second, cfg.Dispatch.Timeout)

		assert.True(t, cfg.Telegram.Enabled)
		assert.Equal(t, 60, cfg.Telegram.PollTimeout)
		assert.Equal(t, 10*time.Minute, cfg.Telegram.MenuTTL)

		assert.Equal(t, 8, cfg.Broadcast.Workers)
		assert.Equal(t, 10*time.Second, cfg.Broadcast.Timeout)
		assert.Equal(t, "📢 ", cfg.Broadcast.Prefix)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "libsql", cfg.Store.Driver)
		expectedStorePath := filepath.Join(gfconfig.GetAppDataDir("tgrelay"), "tgrelay.db")
		assert.Equal(t, expectedStorePath, cfg.Store.Path)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)
		assert.Equal(t, 0.9, cfg.RateLimitMargin)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx, map[string]any{
			"server":  map[string]any{"port": 9000, "host": "0.0.0.0"},
			"logging": map[string]any{"level": "debug"},
		})
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	t.Run("LegacyEnv", func(t *testing.T) {
		isolate(t)
		t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
		t.Setenv("ADMIN_IDS", "42, 7,")
		t.Setenv("FREE_TIER_LIMIT", "5")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "123:abc", cfg.Telegram.Token)
		assert.Equal(t, []core.UserID{42, 7}, cfg.Quota.AdminIDs)
		assert.Equal(t, 5, cfg.Quota.DailyLimit)
		assert.NoError(t, cfg.RequireTelegram())
	})

	t.Run("PrefixedEnvWinsOverLegacy", func(t *testing.T) {
		isolate(t)
		t.Setenv("FREE_TIER_LIMIT", "5")
		t.Setenv("TGRELAY_DAILY_LIMIT", "9")
		t.Setenv("TGRELAY_PORT", "3000")
		t.Setenv("TGRELAY_METRICS_ENABLED", "false")
		t.Setenv("TGRELAY_RATE_LIMIT_MARGIN", "0.8")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 9, cfg.Quota.DailyLimit)
		assert.Equal(t, 3000, cfg.Server.Port)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, 0.8, cfg.RateLimitMargin)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("TGRELAY_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{"server": map[string]any{"port": 5000}})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
quota:
  daily_limit: 3
  admin_ids: [1, 2]
  timezone: Europe/Berlin
backends:
  gpt:
    style: openai
    base_url: https://api.example.test/v1
    model: gpt-4o-mini
    rate_per_minute: 30
  terabox:
    disabled: true
`), 0o600))
		SetConfigFile(path)

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3, cfg.Quota.DailyLimit)
		assert.Equal(t, []core.UserID{1, 2}, cfg.Quota.AdminIDs)
		loc, err := cfg.Location()
		require.NoError(t, err)
		assert.Equal(t, "Europe/Berlin", loc.String())

		specs, err := cfg.BackendSpecs()
		require.NoError(t, err)
		keys := make([]string, 0, len(specs))
		for _, spec := range specs {
			keys = append(keys, spec.Key)
			if spec.Key == "gpt" {
				assert.Equal(t, "openai", spec.Style)
				assert.Equal(t, "gpt-4o-mini", spec.Model)
				assert.Equal(t, "https://api.example.test/v1", spec.BaseURL)
				assert.Equal(t, 30*time.Second, spec.Timeout)
			}
		}
		assert.Equal(t, []string{"download", "llama", "gpt"}, keys)
		assert.Equal(t, map[string]int{"gpt": 30}, cfg.RateLimits())
	})

	t.Run("BackendEnv", func(t *testing.T) {
		isolate(t)
		t.Setenv("TGRELAY_BACKENDS_LLAMA_BASE_URL", "http://127.0.0.1:9999")
		t.Setenv("TGRELAY_BACKENDS_LLAMA_TIMEOUT", "5s")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		specs, err := cfg.BackendSpecs()
		require.NoError(t, err)
		for _, spec := range specs {
			if spec.Key == "llama" {
				assert.Equal(t, "http://127.0.0.1:9999", spec.BaseURL)
				assert.Equal(t, 5*time.Second, spec.Timeout)
				assert.Equal(t, "/chat", spec.Path)
			}
		}
	})

	t.Run("InvalidAdminIDs", func(t *testing.T) {
		isolate(t)
		t.Setenv("ADMIN_IDS", "42,alice")

		_, err := Load(ctx)
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Quota: QuotaConfig{DailyLimit: 20, Timezone: "UTC"}}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.Quota.DailyLimit = 0
	require.ErrorContains(t, cfg.Validate(), "daily_limit")

	cfg = base()
	cfg.Quota.Timezone = "Mars/Olympus"
	require.ErrorContains(t, cfg.Validate(), "quota.timezone")

	cfg = base()
	cfg.Backends = map[string]BackendConfig{"tiktok": {}}
	require.ErrorContains(t, cfg.Validate(), "unknown backend")

	cfg = base()
	cfg.RateLimitMargin = 1.5
	require.ErrorContains(t, cfg.Validate(), "rate_limit_margin")

	var missing *Config
	require.Error(t, missing.Validate())
	require.Error(t, missing.RequireTelegram())
}

func TestPolicy(t *testing.T) {
	cfg := &Config{Quota: QuotaConfig{DailyLimit: 4, AdminIDs: []core.UserID{9}}}
	policy := cfg.Policy()
	assert.Equal(t, 4, policy.DailyLimit)
	_, ok := policy.AdminIDs[9]
	assert.True(t, ok)
}

func TestParseUserIDs(t *testing.T) {
	ids, err := ParseUserIDs(" 1,2 ,,3 ")
	require.NoError(t, err)
	assert.Equal(t, []core.UserID{1, 2, 3}, ids)

	ids, err = ParseUserIDs("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = ParseUserIDs("1,x")
	require.Error(t, err)
}

func TestEnvSpecs(t *testing.T) {
	isolate(t)
	_, err := Load(context.Background())
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, spec := range getEnvSpecs() {
		names[spec.Name] = true
	}
	for _, spec := range legacyEnvSpecs() {
		names[spec.Name] = true
	}

	for _, name := range []string{
		"TGRELAY_LOG_LEVEL", "TGRELAY_PORT", "TGRELAY_TELEGRAM_TOKEN", "TGRELAY_DB_PATH",
		"TGRELAY_BACKENDS_GPT_API_KEY", "TELEGRAM_BOT_TOKEN", "ADMIN_IDS", "FREE_TIER_LIMIT",
	} {
		assert.True(t, names[name], "%s must be mapped", name)
	}
}

func TestConfigReload(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)

	cfg2, err := Load(ctx, map[string]any{"server": map[string]any{"port": cfg1.Server.Port + 1000}})
	require.NoError(t, err)

	assert.Equal(t, cfg1.Server.Port+1000, cfg2.Server.Port)
	assert.Equal(t, cfg2.Server.Port, GetConfig().Server.Port)
}

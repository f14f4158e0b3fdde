package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/core/adapter"
)

// Config represents the complete application configuration.
// Layer 1: embedded defaults (defaults.yaml)
// Layer 2: user config file (XDG config dir or --config)
// Layer 3: environment variables and runtime overrides
type Config struct {
	Telegram  TelegramConfig           `mapstructure:"telegram"`
	Quota     QuotaConfig              `mapstructure:"quota"`
	Dispatch  DispatchConfig           `mapstructure:"dispatch"`
	Backends  map[string]BackendConfig `mapstructure:"backends"`
	Broadcast BroadcastConfig          `mapstructure:"broadcast"`
	Admin     AdminConfig              `mapstructure:"admin"`
	Server    ServerConfig             `mapstructure:"server"`
	Store     StoreConfig              `mapstructure:"store"`
	Logging   LoggingConfig            `mapstructure:"logging"`
	Metrics   MetricsConfig            `mapstructure:"metrics"`
	Health    HealthConfig             `mapstructure:"health"`

	RateLimitMargin float64 `mapstructure:"rate_limit_margin"`
}

// TelegramConfig configures the bot transport.
type TelegramConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Token       string        `mapstructure:"token"`
	PollTimeout int           `mapstructure:"poll_timeout"` // seconds
	Workers     int           `mapstructure:"workers"`
	MenuTTL     time.Duration `mapstructure:"menu_ttl"`
	Debug       bool          `mapstructure:"debug"`
}

// QuotaConfig holds the free-tier policy.
type QuotaConfig struct {
	DailyLimit       int           `mapstructure:"daily_limit"`
	AdminIDs         []core.UserID `mapstructure:"admin_ids"`
	Timezone         string        `mapstructure:"timezone"`
	RetentionDays    int           `mapstructure:"retention_days"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
}

// DispatchConfig bounds every backend call.
type DispatchConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// BackendConfig overrides one catalog backend. Zero values keep the catalog value.
type BackendConfig struct {
	Disabled       bool          `mapstructure:"disabled"`
	BaseURL        string        `mapstructure:"base_url"`
	Path           string        `mapstructure:"path"`
	Param          string        `mapstructure:"param"`
	Style          string        `mapstructure:"style"`
	Fields         []string      `mapstructure:"fields"`
	Passthrough    *bool         `mapstructure:"passthrough"`
	Hosts          []string      `mapstructure:"hosts"`
	Model          string        `mapstructure:"model"`
	APIKey         string        `mapstructure:"api_key"`
	SystemPrompt   string        `mapstructure:"system_prompt"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxPromptChars int           `mapstructure:"max_prompt_chars"`
	RatePerMinute  int           `mapstructure:"rate_per_minute"`
}

// BroadcastConfig configures admin fan-out.
type BroadcastConfig struct {
	Workers       int           `mapstructure:"workers"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Prefix        string        `mapstructure:"prefix"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// AdminConfig guards the HTTP admin endpoints. An empty token disables them.
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var problems []string
	if c.Quota.DailyLimit < 1 {
		problems = append(problems, fmt.Sprintf("quota.daily_limit must be positive, got %d", c.Quota.DailyLimit))
	}
	if c.Quota.RetentionDays < 0 {
		problems = append(problems, "quota.retention_days must not be negative")
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Dispatch.Timeout < 0 {
		problems = append(problems, "dispatch.timeout must not be negative")
	}
	if c.Broadcast.Workers < 0 {
		problems = append(problems, "broadcast.workers must not be negative")
	}
	if c.RateLimitMargin < 0 || c.RateLimitMargin > 1 {
		problems = append(problems, "rate_limit_margin must be within [0, 1]")
	}
	for key := range c.Backends {
		if _, ok := adapter.Lookup(key); !ok {
			problems = append(problems, fmt.Sprintf("backends.%s: unknown backend", key))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RequireTelegram reports a missing bot token.
func (c *Config) RequireTelegram() error {
	if c == nil || strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required (set TELEGRAM_BOT_TOKEN or TGRELAY_TELEGRAM_TOKEN)")
	}
	return nil
}

// Location resolves quota.timezone, defaulting to UTC.
func (c *Config) Location() (*time.Location, error) {
	name := ""
	if c != nil {
		name = strings.TrimSpace(c.Quota.Timezone)
	}
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("quota.timezone %q: %w", name, err)
	}
	return loc, nil
}

// Policy builds the quota policy from config.
func (c *Config) Policy() core.QuotaPolicy {
	return core.NewQuotaPolicy(c.Quota.DailyLimit, c.Quota.AdminIDs)
}

// BackendSpecs merges the built-in catalog with backends.<key> overrides.
// Disabled backends are omitted.
func (c *Config) BackendSpecs() ([]adapter.Spec, error) {
	catalog, err := adapter.Catalog()
	if err != nil {
		return nil, err
	}
	specs := make([]adapter.Spec, 0, len(catalog))
	for _, spec := range catalog {
		override, ok := c.Backends[spec.Key]
		if ok && override.Disabled {
			continue
		}
		if ok {
			spec = override.apply(spec)
		}
		if spec.Timeout <= 0 {
			spec.Timeout = c.Dispatch.Timeout
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// RateLimits returns the per-backend requests-per-minute windows.
func (c *Config) RateLimits() map[string]int {
	limits := make(map[string]int)
	for key, backend := range c.Backends {
		if backend.RatePerMinute > 0 {
			limits[key] = backend.RatePerMinute
		}
	}
	return limits
}

func (b BackendConfig) apply(spec adapter.Spec) adapter.Spec {
	if v := strings.TrimSpace(b.BaseURL); v != "" {
		spec.BaseURL = v
	}
	if v := strings.TrimSpace(b.Path); v != "" {
		spec.Path = v
	}
	if v := strings.TrimSpace(b.Param); v != "" {
		spec.Param = v
	}
	if v := strings.TrimSpace(b.Style); v != "" {
		spec.Style = strings.ToLower(v)
	}
	if len(b.Fields) > 0 {
		spec.Fields = b.Fields
	}
	if b.Passthrough != nil {
		spec.Passthrough = *b.Passthrough
	}
	if len(b.Hosts) > 0 {
		spec.Hosts = b.Hosts
	}
	spec.Model = strings.TrimSpace(b.Model)
	spec.APIKey = strings.TrimSpace(b.APIKey)
	spec.SystemPrompt = b.SystemPrompt
	spec.MaxPromptChars = b.MaxPromptChars
	spec.Timeout = b.Timeout
	return spec
}

// Package config provides centralized configuration management for tgrelay.
// It layers embedded defaults, an optional user config file, and
// environment/runtime overrides, then decodes into a typed Config.
package config

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/tgrelay/tgrelay/internal/appid"
	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/core/adapter"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var (
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity
	configFile  string
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetConfigFile pins the user config file, bypassing XDG discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Load loads configuration using the three-layer pattern:
// 1. Embedded defaults
// 2. User overrides from --config or the XDG config paths
// 3. Environment variables, then runtime overrides (last wins)
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultsYAML)); err != nil {
		return nil, fmt.Errorf("failed to read embedded defaults: %w", err)
	}

	if path := userConfigFile(); path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// Unprefixed names are what existing deployments already export; the
	// prefixed names win when both are set.
	legacy, err := gfconfig.LoadEnvOverrides(legacyEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if value := strings.TrimSpace(os.Getenv(appid.EnvPrefix(appIdentity) + "RATE_LIMIT_MARGIN")); value != "" {
		margin, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate limit margin: %w", err)
		}
		envOverrides["rate_limit_margin"] = margin
	}

	layers := append([]map[string]any{legacy, envOverrides}, runtimeOverrides...)
	for _, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		if err := v.MergeConfigMap(layer); err != nil {
			return nil, fmt.Errorf("failed to merge overrides: %w", err)
		}
	}

	cfg, err := decode(v.AllSettings())
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

func decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToUserIDsHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// stringToUserIDsHook parses comma-separated id lists such as ADMIN_IDS.
func stringToUserIDsHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf([]core.UserID{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != target || from.Kind() != reflect.String {
			return data, nil
		}
		return ParseUserIDs(data.(string))
	}
}

// ParseUserIDs parses "1, 2,3" into user ids, skipping empty entries.
func ParseUserIDs(raw string) ([]core.UserID, error) {
	ids := []core.UserID{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", part, err)
		}
		ids = append(ids, core.UserID(id))
	}
	return ids, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// userConfigFile returns the explicit config file or the first existing
// XDG candidate.
func userConfigFile() string {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()
	if explicit != "" {
		return explicit
	}

	for _, candidate := range getUserConfigPaths() {
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if info.IsDir() {
			candidate = filepath.Join(candidate, "config.yaml")
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
		}
		return candidate
	}
	return ""
}

func getUserConfigPaths() []string {
	configName, binaryName := appid.Names(appIdentity)
	legacyNames := []string{}
	if binaryName != configName {
		legacyNames = append(legacyNames, binaryName)
	}
	return gfconfig.GetAppConfigPaths(configName, legacyNames...)
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := appid.EnvPrefix(appIdentity)

	specs := []EnvVarSpec{
		{Name: prefix + "TELEGRAM_TOKEN", Path: []string{"telegram", "token"}, Type: EnvString},
		{Name: prefix + "TELEGRAM_ENABLED", Path: []string{"telegram", "enabled"}, Type: EnvBool},
		{Name: prefix + "TELEGRAM_WORKERS", Path: []string{"telegram", "workers"}, Type: EnvInt},
		{Name: prefix + "TELEGRAM_POLL_TIMEOUT", Path: []string{"telegram", "poll_timeout"}, Type: EnvInt},

		{Name: prefix + "DAILY_LIMIT", Path: []string{"quota", "daily_limit"}, Type: EnvInt},
		{Name: prefix + "ADMIN_IDS", Path: []string{"quota", "admin_ids"}, Type: EnvString},
		{Name: prefix + "TIMEZONE", Path: []string{"quota", "timezone"}, Type: EnvString},
		{Name: prefix + "RETENTION_DAYS", Path: []string{"quota", "retention_days"}, Type: EnvInt},
		{Name: prefix + "EVICTION_INTERVAL", Path: []string{"quota", "eviction_interval"}, Type: EnvString},

		{Name: prefix + "DISPATCH_TIMEOUT", Path: []string{"dispatch", "timeout"}, Type: EnvString},

		{Name: prefix + "BROADCAST_WORKERS", Path: []string{"broadcast", "workers"}, Type: EnvInt},
		{Name: prefix + "BROADCAST_TIMEOUT", Path: []string{"broadcast", "timeout"}, Type: EnvString},

		{Name: prefix + "ADMIN_TOKEN", Path: []string{"admin", "token"}, Type: EnvString},

		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},
	}

	return append(specs, backendEnvSpecs(prefix)...)
}

// backendEnvSpecs maps {PREFIX}BACKENDS_<KEY>_<FIELD> for every catalog backend.
func backendEnvSpecs(prefix string) []EnvVarSpec {
	catalog, err := adapter.Catalog()
	if err != nil {
		return nil
	}
	fields := []EnvVarSpec{
		{Name: "DISABLED", Path: []string{"disabled"}, Type: EnvBool},
		{Name: "BASE_URL", Path: []string{"base_url"}, Type: EnvString},
		{Name: "STYLE", Path: []string{"style"}, Type: EnvString},
		{Name: "MODEL", Path: []string{"model"}, Type: EnvString},
		{Name: "API_KEY", Path: []string{"api_key"}, Type: EnvString},
		{Name: "TIMEOUT", Path: []string{"timeout"}, Type: EnvString},
		{Name: "RATE_PER_MINUTE", Path: []string{"rate_per_minute"}, Type: EnvInt},
	}

	specs := make([]EnvVarSpec, 0, len(catalog)*len(fields))
	for _, spec := range catalog {
		upper := strings.ToUpper(spec.Key)
		for _, field := range fields {
			field.Name = prefix + "BACKENDS_" + upper + "_" + field.Name
			field.Path = []string{"backends", spec.Key, field.Path[0]}
			specs = append(specs, field)
		}
	}
	return specs
}

// legacyEnvSpecs maps the unprefixed variables the bot has always read.
func legacyEnvSpecs() []EnvVarSpec {
	return []EnvVarSpec{
		{Name: "TELEGRAM_BOT_TOKEN", Path: []string{"telegram", "token"}, Type: EnvString},
		{Name: "ADMIN_IDS", Path: []string{"quota", "admin_ids"}, Type: EnvString},
		{Name: "FREE_TIER_LIMIT", Path: []string{"quota", "daily_limit"}, Type: EnvInt},
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appid.Names(appIdentity)
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appid.Names(appIdentity)
	return gfconfig.GetAppDataDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appid.Names(appIdentity)
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

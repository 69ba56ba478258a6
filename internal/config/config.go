// Package config loads and validates all runtime configuration for the
// gateway.
//
// Configuration is read from environment variables (preferred for
// containers) or from a tiers.yaml file in the working directory that
// supplies the static tier table. Environment variables take precedence
// over the YAML file for everything except the tier table itself.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/relaygate/gateway/internal/model"
)

// DataSourcePreference selects which state-store backend is preferred.
const (
	DataSourceRedis      = "redis"
	DataSourceFilesystem = "filesystem"
)

// Vendor route names, matching the REST route groups in internal/restapi.
const (
	RouteOpenAI     = "openai"
	RouteAzure      = "azure"
	RouteAnthropic  = "anthropic"
	RouteGemini     = "gemini"
	RouteGroq       = "groq"
	RouteOpenRouter = "openrouter"
	RouteOllama     = "ollama"
)

var allRoutes = []string{
	RouteOpenAI, RouteAzure, RouteAnthropic, RouteGemini, RouteGroq, RouteOpenRouter, RouteOllama,
}

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	// DataSourcePreference names the preferred state-store backend. With
	// "redis" preferred and reachable at startup, the filesystem backend is
	// the fallback. With "filesystem" preferred, or when Redis cannot be
	// reached at startup, the store runs on the filesystem backend alone and
	// Redis is not used as a fallback.
	DataSourcePreference string

	Redis RedisConfig

	// EnabledRoutes maps a vendor route name to whether its router is mounted.
	EnabledRoutes map[string]bool

	Admin AdminConfig

	// CORSOrigins is the list of allowed CORS origins. ["*"] allows any origin.
	CORSOrigins []string

	// DataDir is where the file backend stores its documents when Redis is
	// unavailable or not preferred.
	DataDir string

	// TiersFile is the YAML file the static tier table is loaded from.
	TiersFile string

	// ClickHouseDSN enables the optional async usage-log sink when non-empty.
	ClickHouseDSN string
}

// RedisConfig holds the primary backend's connection parameters.
type RedisConfig struct {
	URL      string
	Username string
	Password string
	DB       int
	TLS      bool
}

// AdminConfig seeds a single admin UserRecord at startup when both fields
// are set and no user exists under APIKey; other users do not prevent it.
type AdminConfig struct {
	UserID string
	APIKey string
}

// Load reads configuration from environment variables (and an optional .env
// file in the working directory).
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATA_SOURCE_PREFERENCE", DataSourceFilesystem)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_TLS", false)
	v.SetDefault("CORS_ORIGINS", []string{"*"})
	v.SetDefault("DATA_DIR", ".")
	v.SetDefault("TIERS_FILE", "tiers.yaml")

	for _, route := range allRoutes {
		v.SetDefault(enableRouteKey(route), true)
	}

	cfg := &Config{
		Port:                 v.GetInt("PORT"),
		LogLevel:             strings.ToLower(v.GetString("LOG_LEVEL")),
		DataSourcePreference: strings.ToLower(v.GetString("DATA_SOURCE_PREFERENCE")),
		Redis: RedisConfig{
			URL:      v.GetString("REDIS_URL"),
			Username: v.GetString("REDIS_USERNAME"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			TLS:      v.GetBool("REDIS_TLS"),
		},
		EnabledRoutes: make(map[string]bool, len(allRoutes)),
		Admin: AdminConfig{
			UserID: v.GetString("DEFAULT_ADMIN_USER_ID"),
			APIKey: v.GetString("DEFAULT_ADMIN_API_KEY"),
		},
		CORSOrigins:   v.GetStringSlice("CORS_ORIGINS"),
		DataDir:       v.GetString("DATA_DIR"),
		TiersFile:     v.GetString("TIERS_FILE"),
		ClickHouseDSN: v.GetString("CLICKHOUSE_DSN"),
	}

	for _, route := range allRoutes {
		cfg.EnabledRoutes[route] = v.GetBool(enableRouteKey(route))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func enableRouteKey(route string) string {
	return "ENABLE_" + strings.ToUpper(route) + "_ROUTES"
}

func (c *Config) validate() error {
	switch c.DataSourcePreference {
	case DataSourceRedis, DataSourceFilesystem:
	default:
		return fmt.Errorf("config: invalid DATA_SOURCE_PREFERENCE %q; must be one of: redis, filesystem", c.DataSourcePreference)
	}
	if c.DataSourcePreference == DataSourceRedis && c.Redis.URL == "" {
		return fmt.Errorf("config: REDIS_URL is required when DATA_SOURCE_PREFERENCE=redis")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}

// LoadTiers reads the static tier table from path (YAML, tier name -> limits).
// A missing file yields a minimal built-in default so the gateway can still
// boot for local testing.
func LoadTiers(path string) (map[string]*model.TierLimits, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return defaultTiers(), nil
		}
		return nil, fmt.Errorf("config: failed to read tiers file %s: %w", path, err)
	}

	var raw map[string]*model.TierLimits
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("config: failed to parse tiers file %s: %w", path, err)
	}
	if len(raw) == 0 {
		return defaultTiers(), nil
	}
	return raw, nil
}

func defaultTiers() map[string]*model.TierLimits {
	maxTokens := int64(1_000_000)
	minScore, maxScore := 0, 100
	enterpriseMin := 0

	return map[string]*model.TierLimits{
		"free": {RPS: 1, RPM: 20, RPD: 500, MaxTokens: &maxTokens, MinProviderScore: &minScore, MaxProviderScore: &maxScore},
		"pro":  {RPS: 5, RPM: 120, RPD: 20_000, MaxTokens: &maxTokens, MinProviderScore: &minScore, MaxProviderScore: &maxScore},
		"enterprise": {
			RPS: 50, RPM: 2000, RPD: 0, MaxTokens: nil, MinProviderScore: &enterpriseMin, MaxProviderScore: nil,
		},
	}
}

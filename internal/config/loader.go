package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Application identity.
const (
	BinaryName = "lakeview"
	ConfigName = "lakeview"
	EnvPrefix  = "LAKEVIEW"
)

// ConfigFileEnv names an explicit config file, bypassing the search paths.
const ConfigFileEnv = EnvPrefix + "_CONFIG"

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// EnvSpec maps one environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

// envPaths lists the config keys exposed as LAKEVIEW_* variables, keyed by
// variable suffix.
var envPaths = []struct {
	suffix string
	path   string
}{
	{"HOST", "server.host"},
	{"PORT", "server.port"},
	{"READ_TIMEOUT", "server.read_timeout"},
	{"WRITE_TIMEOUT", "server.write_timeout"},
	{"IDLE_TIMEOUT", "server.idle_timeout"},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	{"LOG_LEVEL", "logging.level"},
	{"LOG_PROFILE", "logging.profile"},
	{"BACKEND", "backend"},
	{"ATHENA_DATABASE", "athena.database"},
	{"ATHENA_TABLE", "athena.table"},
	{"ATHENA_CATALOG", "athena.catalog"},
	{"ATHENA_WORKGROUP", "athena.workgroup"},
	{"ATHENA_OUTPUT_LOCATION", "athena.output_location"},
	{"ATHENA_REGION", "athena.region"},
	{"ATHENA_PROFILE", "athena.profile"},
	{"ATHENA_ENDPOINT", "athena.endpoint"},
	{"ATHENA_BUCKET", "athena.bucket"},
	{"ATHENA_SNAPSHOT", "athena.snapshot"},
	{"ATHENA_VERSIONED", "athena.versioned"},
	{"ATHENA_PAGE_SIZE", "athena.page_size"},
	{"ATHENA_POLL_INTERVAL", "athena.poll_interval"},
	{"ATHENA_MAX_POLL_INTERVAL", "athena.max_poll_interval"},
	{"ATHENA_RATE_LIMIT", "athena.rate_limit"},
	{"SQLITE_PATH", "sqlite.path"},
	{"SQLITE_URL", "sqlite.url"},
	{"SQLITE_AUTH_TOKEN", "sqlite.auth_token"},
	{"SQLITE_BUCKET", "sqlite.bucket"},
	{"SQLITE_SNAPSHOT", "sqlite.snapshot"},
	{"SQLITE_VERSIONED", "sqlite.versioned"},
	{"CACHE_TTL", "cache.ttl"},
	{"CACHE_CAPACITY", "cache.capacity"},
	{"QUERY_TIMEOUT", "query.timeout"},
	{"VERSION_CHECK_ENABLED", "version_check.enabled"},
	{"VERSION_CHECK_URL", "version_check.url"},
	{"VERSION_CHECK_TIMEOUT", "version_check.timeout"},
}

// Load builds the configuration. Precedence, highest first: runtime
// overrides, LAKEVIEW_* environment, config file, defaults. The result is
// validated and stored for GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	cfg.Logging.Profile = strings.ToLower(strings.TrimSpace(cfg.Logging.Profile))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()

	return cfg, nil
}

// GetConfig returns a copy of the most recently loaded configuration, or nil
// before the first successful Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	if appConfig == nil {
		return nil
	}
	cp := *appConfig
	return &cp
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("backend", "athena")

	v.SetDefault("athena.database", "default")
	v.SetDefault("athena.table", "inventory")
	v.SetDefault("athena.catalog", "AwsDataCatalog")
	v.SetDefault("athena.workgroup", "")
	v.SetDefault("athena.output_location", "")
	v.SetDefault("athena.region", "")
	v.SetDefault("athena.profile", "")
	v.SetDefault("athena.endpoint", "")
	v.SetDefault("athena.bucket", "")
	v.SetDefault("athena.snapshot", "")
	v.SetDefault("athena.versioned", false)
	v.SetDefault("athena.page_size", 1000)
	v.SetDefault("athena.poll_interval", "250ms")
	v.SetDefault("athena.max_poll_interval", "2s")
	v.SetDefault("athena.rate_limit", 0)

	v.SetDefault("sqlite.path", defaultSQLitePath())
	v.SetDefault("sqlite.url", "")
	v.SetDefault("sqlite.auth_token", "")
	v.SetDefault("sqlite.bucket", "")
	v.SetDefault("sqlite.snapshot", "")
	v.SetDefault("sqlite.versioned", false)

	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.capacity", 500)

	v.SetDefault("query.timeout", "60s")

	v.SetDefault("version_check.enabled", true)
	v.SetDefault("version_check.url", "https://api.github.com/repos/3leaps/lakeview/releases/latest")
	v.SetDefault("version_check.timeout", "3s")
}

// defaultSQLitePath places the local inventory under the app data dir.
func defaultSQLitePath() string {
	dir := gfconfig.GetAppDataDir(ConfigName)
	if dir == "" {
		return "inventory.db"
	}
	return filepath.Join(dir, "inventory.db")
}

// readConfigFile merges lakeview.yaml when one is found. An explicit
// LAKEVIEW_CONFIG must exist; the search paths are optional.
func readConfigFile(v *viper.Viper) error {
	if explicit := strings.TrimSpace(os.Getenv(ConfigFileEnv)); explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// getUserConfigPaths returns the directories searched for lakeview.yaml.
func getUserConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ConfigName))
	}
	return paths
}

// EnvSpecs returns the LAKEVIEW_* environment variables and the config keys
// they set.
func EnvSpecs() []EnvSpec {
	return getEnvSpecs()
}

// getEnvSpecs returns the LAKEVIEW_* environment variable mappings.
func getEnvSpecs() []EnvSpec {
	specs := make([]EnvSpec, 0, len(envPaths))
	for _, e := range envPaths {
		specs = append(specs, EnvSpec{Name: EnvPrefix + "_" + e.suffix, Path: e.path})
	}
	return specs
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

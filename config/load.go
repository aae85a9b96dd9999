package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. POULTRY_TIMEOUT=5s
// or POULTRY_SNAPSHOT_PATH=/var/lib/poultry/last.json.
const EnvPrefix = "POULTRY"

// Load reads configuration from defaults, an optional config file and the
// environment. An empty path searches for poultry.yaml in . and ./config; a
// missing file is not an error in that case.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("poultry")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Catalog) == 0 {
		cfg.Catalog = DefaultCatalog()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// The catalog has no default here: list-of-struct defaults do not merge with
// file values, so Load fills it in after decoding.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("sources", d.Sources)
	v.SetDefault("proxy_prefix", d.ProxyPrefix)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("fetch_budget", d.FetchBudget)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("accept", d.Accept)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("parse_cache_size", d.ParseCacheSize)
	v.SetDefault("snapshot.backend", d.Snapshot.Backend)
	v.SetDefault("snapshot.path", d.Snapshot.Path)
	v.SetDefault("output_file", d.OutputFile)
	v.SetDefault("output_format", d.OutputFormat)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("verbose", d.Verbose)
}

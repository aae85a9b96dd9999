package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-poultry-prices/models"
)

// Config holds feed configuration.
type Config struct {
	Sources           []string         `mapstructure:"sources"`
	ProxyPrefix       string           `mapstructure:"proxy_prefix"`
	Timeout           time.Duration    `mapstructure:"timeout"`
	FetchBudget       time.Duration    `mapstructure:"fetch_budget"`
	RequestsPerSecond float64          `mapstructure:"requests_per_second"`
	UserAgent         string           `mapstructure:"user_agent"`
	Accept            string           `mapstructure:"accept"`
	PollInterval      time.Duration    `mapstructure:"poll_interval"`
	ParseCacheSize    int              `mapstructure:"parse_cache_size"`
	Snapshot          SnapshotConfig   `mapstructure:"snapshot"`
	OutputFile        string           `mapstructure:"output_file"`
	OutputFormat      string           `mapstructure:"output_format"` // csv, json, dual, or none
	MetricsAddr       string           `mapstructure:"metrics_addr"`
	Verbose           bool             `mapstructure:"verbose"`
	Catalog           []models.Product `mapstructure:"catalog"`
}

// SnapshotConfig selects where the last known good prices are kept.
type SnapshotConfig struct {
	Backend string `mapstructure:"backend"` // file, sqlite, or memory
	Path    string `mapstructure:"path"`
}

// DefaultConfig returns defaults matching the public AMS endpoints.
func DefaultConfig() *Config {
	return &Config{
		Sources:           DefaultSources(),
		ProxyPrefix:       "https://r.jina.ai/http://",
		Timeout:           8 * time.Second,
		FetchBudget:       90 * time.Second,
		RequestsPerSecond: 2,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124 Safari/537.36",
		Accept:            "text/plain,*/*;q=0.8",
		PollInterval:      30 * time.Minute,
		ParseCacheSize:    32,
		Snapshot: SnapshotConfig{
			Backend: "file",
			Path:    "poultry_last.json",
		},
		OutputFile:   "output/poultry.jsonl",
		OutputFormat: "json",
		Verbose:      false,
		Catalog:      DefaultCatalog(),
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source URL is required")
	}
	for _, raw := range c.Sources {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid source URL %q: %w", raw, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("source URL %q must include a host", raw)
		}
	}
	if c.ProxyPrefix != "" && !strings.HasPrefix(c.ProxyPrefix, "http") {
		return fmt.Errorf("proxy prefix must be an http(s) URL prefix")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.FetchBudget < 0 {
		return fmt.Errorf("fetch budget cannot be negative")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Accept == "" {
		return fmt.Errorf("accept header cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.ParseCacheSize <= 0 {
		return fmt.Errorf("parse cache size must be positive")
	}

	switch c.Snapshot.Backend {
	case "file", "sqlite":
		if c.Snapshot.Path == "" {
			return fmt.Errorf("snapshot path cannot be empty for %s backend", c.Snapshot.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("snapshot backend must be file, sqlite, or memory")
	}

	switch c.OutputFormat {
	case "csv", "json", "dual":
		if c.OutputFile == "" {
			return fmt.Errorf("output file cannot be empty")
		}
	case "none":
	default:
		return fmt.Errorf("output format must be csv, json, dual, or none")
	}

	if len(c.Catalog) == 0 {
		return fmt.Errorf("catalog cannot be empty")
	}
	names := make(map[string]struct{}, len(c.Catalog))
	for i, p := range c.Catalog {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("catalog entry %d has no name", i)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("catalog product %q declared twice", p.Name)
		}
		names[p.Name] = struct{}{}
		if len(p.Patterns) == 0 {
			return fmt.Errorf("catalog product %q has no patterns", p.Name)
		}
	}

	return nil
}

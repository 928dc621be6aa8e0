package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"wptspec/internal/labels"
)

// Config holds all wptspec configuration.
type Config struct {
	// Label vocabulary and display names
	Catalog CatalogConfig `yaml:"catalog"`

	// Test-run store
	Store StoreConfig `yaml:"store"`

	// HTTP API
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CatalogConfig is the serialized form of labels.Catalog.
type CatalogConfig struct {
	DefaultBrowsers  []string          `yaml:"default_browsers"`
	Groups           []GroupConfig     `yaml:"groups"`
	DisplayNames     map[string]string `yaml:"display_names"`
	MinorSignificant []string          `yaml:"minor_significant"` // browsers whose minor version is shown
}

// GroupConfig is one semantic label group.
type GroupConfig struct {
	Field  string   `yaml:"field"`
	Values []string `yaml:"values"`
}

// StoreConfig configures the SQLite test-run store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	BusyTimeout  string `yaml:"busy_timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	SpecCacheSize   int    `yaml:"spec_cache_size"`
	DefaultMaxCount int    `yaml:"default_max_count"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	opts := labels.DefaultCatalogOptions()
	groups := make([]GroupConfig, len(opts.Groups))
	for i, g := range opts.Groups {
		groups[i] = GroupConfig{Field: g.Field, Values: g.Values}
	}
	return &Config{
		Catalog: CatalogConfig{
			DefaultBrowsers:  opts.DefaultBrowsers,
			Groups:           groups,
			DisplayNames:     opts.DisplayNames,
			MinorSignificant: opts.MinorSignificant,
		},
		Store: StoreConfig{
			DatabasePath: "data/runs.db",
			BusyTimeout:  "5s",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			SpecCacheSize:   1024,
			DefaultMaxCount: 1,
			ShutdownTimeout: "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Variables from a .env file in the working directory are loaded
// before environment overrides are applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults.
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	_ = godotenv.Load()
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("WPTSPEC_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if addr := os.Getenv("WPTSPEC_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if level := os.Getenv("WPTSPEC_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	owner := make(map[string]string)
	fields := make(map[string]bool)
	for _, g := range c.Catalog.Groups {
		if g.Field == "" {
			return fmt.Errorf("label group with empty field name")
		}
		if fields[g.Field] {
			return fmt.Errorf("duplicate label group %q", g.Field)
		}
		fields[g.Field] = true
		if len(g.Values) == 0 {
			return fmt.Errorf("label group %q has no values", g.Field)
		}
		for _, v := range g.Values {
			if v == "" || v == labels.Any {
				return fmt.Errorf("label group %q: invalid value %q", g.Field, v)
			}
			if other, ok := owner[v]; ok {
				return fmt.Errorf("label %q is in both %q and %q", v, other, g.Field)
			}
			owner[v] = g.Field
		}
	}
	if c.Server.SpecCacheSize <= 0 {
		return fmt.Errorf("server.spec_cache_size must be positive, got %d", c.Server.SpecCacheSize)
	}
	return nil
}

// LabelCatalog builds the immutable catalog described by the config.
func (c *Config) LabelCatalog() *labels.Catalog {
	groups := make([]labels.Group, len(c.Catalog.Groups))
	for i, g := range c.Catalog.Groups {
		groups[i] = labels.Group{Field: g.Field, Values: g.Values}
	}
	return labels.NewCatalog(labels.CatalogOptions{
		DisplayNames:     c.Catalog.DisplayNames,
		DefaultBrowsers:  c.Catalog.DefaultBrowsers,
		Groups:           groups,
		MinorSignificant: c.Catalog.MinorSignificant,
	})
}

// GetBusyTimeout returns the store busy timeout as a duration.
func (c *Config) GetBusyTimeout() time.Duration {
	d, err := time.ParseDuration(c.Store.BusyTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetShutdownTimeout returns the server shutdown timeout as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

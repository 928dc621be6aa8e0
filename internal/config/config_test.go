package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "data/runs.db", cfg.Store.DatabasePath)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	require.Len(t, cfg.Catalog.Groups, 2)
	assert.Equal(t, "channel", cfg.Catalog.Groups[0].Field)

	catalog := cfg.LabelCatalog()
	g, ok := catalog.Group("source")
	require.True(t, ok)
	assert.Contains(t, g.Values, "azure")
	assert.Equal(t, "Firefox", catalog.DisplayName("firefox"))
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("WPTSPEC_DB", "")
	t.Setenv("WPTSPEC_ADDR", "")
	t.Setenv("WPTSPEC_LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "wptspec.yaml")

	cfg := DefaultConfig()
	cfg.Catalog.Groups = append(cfg.Catalog.Groups, GroupConfig{Field: "branch", Values: []string{"master", "pr_head"}})
	cfg.Store.DatabasePath = "/var/lib/wptspec/runs.db"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Catalog.Groups, loaded.Catalog.Groups)
	assert.Equal(t, "/var/lib/wptspec/runs.db", loaded.Store.DatabasePath)
	require.NoError(t, loaded.Validate())
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.SpecCacheSize, cfg.Server.SpecCacheSize)
}

func TestLoad_PartialFileKeepsOtherDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wptspec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n  spec_cache_size: 16\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 16, cfg.Server.SpecCacheSize)
	assert.Len(t, cfg.Catalog.Groups, 2)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wptspec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WPTSPEC_DB", "/tmp/override.db")
	t.Setenv("WPTSPEC_ADDR", ":7000")
	t.Setenv("WPTSPEC_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/tmp/override.db", cfg.Store.DatabasePath)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		groups []GroupConfig
	}{
		{"empty field", []GroupConfig{{Field: "", Values: []string{"a"}}}},
		{"duplicate field", []GroupConfig{{Field: "x", Values: []string{"a"}}, {Field: "x", Values: []string{"b"}}}},
		{"no values", []GroupConfig{{Field: "x"}}},
		{"any is reserved", []GroupConfig{{Field: "x", Values: []string{"any"}}}},
		{"shared value", []GroupConfig{{Field: "x", Values: []string{"a"}}, {Field: "y", Values: []string{"a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Catalog.Groups = tt.groups
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.Server.SpecCacheSize = 0
	assert.Error(t, cfg.Validate())
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "5s", cfg.GetBusyTimeout().String())
	cfg.Server.ShutdownTimeout = "garbage"
	assert.Equal(t, "10s", cfg.GetShutdownTimeout().String())
}

func TestLoggingConfig(t *testing.T) {
	lc := LoggingConfig{Level: "debug", Categories: map[string]bool{"store": false}}
	assert.False(t, lc.IsCategoryEnabled("store"))
	assert.True(t, lc.IsCategoryEnabled("server"))

	opts := lc.Options()
	assert.Equal(t, "debug", opts.Level)
	assert.False(t, opts.Categories["store"])
}

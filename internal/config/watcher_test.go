package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "wptspec.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { reloaded <- c })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	cfg := DefaultConfig()
	cfg.Catalog.Groups[0].Values = append(cfg.Catalog.Groups[0].Values, "dev")
	require.NoError(t, cfg.Save(path))

	select {
	case got := <-reloaded:
		assert.Contains(t, got.Catalog.Groups[0].Values, "dev")
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
	assert.GreaterOrEqual(t, w.Stats().Reloads, 1)
}

func TestWatcher_SkipsInvalidConfig(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "wptspec.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))
	// "any" is reserved, so this config fails validation.
	bad := "catalog:\n  groups:\n    - field: channel\n      values: [any]\n"
	require.NoError(t, os.WriteFile(path, []byte(bad), 0644))

	require.Eventually(t, func() bool { return w.Stats().Errors >= 1 }, 5*time.Second, 20*time.Millisecond)
	select {
	case <-reloaded:
		t.Fatal("invalid config must not be delivered")
	default:
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "wptspec.yaml")
	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}

func TestWatcher_StopAfterFailedStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "missing-dir", "wptspec.yaml")
	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	require.Error(t, w.Start(context.Background()), "parent directory does not exist")

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after a failed Start")
	}
}

func TestWatcher_StartAfterStopFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "wptspec.yaml")
	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()

	assert.Error(t, w.Start(context.Background()))
}

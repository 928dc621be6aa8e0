package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wptspec/internal/config"
	"wptspec/internal/runs"
	"wptspec/internal/server"
)

var (
	serveAddr    string
	serveNoStore bool
)

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the product spec and test-run API over HTTP",
	Long: `Serves the JSON API:

  GET  /api/spec?product=SPEC
  POST /api/labels/field    {labels, field, value, previous}
  POST /api/labels/fields   {labels}
  GET  /api/runs?product=SPEC&max-count=N
  GET  /api/versions?product=SPEC
  GET  /metrics

Edits to the config file's label catalog are picked up without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveNoStore, "no-store", false, "Serve without the test-run store")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := newServer()
	if err != nil {
		return err
	}
	defer cleanup()

	watcher, err := watchConfig(ctx, srv)
	if err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	} else if watcher != nil {
		defer watcher.Stop()
	}

	return srv.Run(ctx)
}

// newServer builds the server from the loaded config and flags.
func newServer() (*server.Server, func(), error) {
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	var store *runs.Store
	cleanup := func() {}
	if !serveNoStore {
		var err error
		if store, err = openStore(); err != nil {
			return nil, nil, err
		}
		cleanup = func() { store.Close() }
	}

	srv, err := server.New(server.Options{
		Addr:            addr,
		SpecCacheSize:   cfg.Server.SpecCacheSize,
		DefaultMaxCount: cfg.Server.DefaultMaxCount,
		ShutdownTimeout: cfg.GetShutdownTimeout(),
	}, cfg.LabelCatalog(), store)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	logger.Info("server configured", zap.String("addr", addr), zap.Bool("store", store != nil))
	return srv, cleanup, nil
}

// watchConfig reloads the label catalog into srv when the config file
// changes. It returns a nil watcher when there is no config file to watch.
func watchConfig(ctx context.Context, srv *server.Server) (*config.Watcher, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	w, err := config.NewWatcher(configPath, func(c *config.Config) {
		srv.SetCatalog(c.LabelCatalog())
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}

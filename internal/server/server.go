// Package server exposes product-spec parsing, label reconciliation and run
// queries over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wptspec/internal/labels"
	"wptspec/internal/logging"
	"wptspec/internal/productspec"
	"wptspec/internal/runs"
)

// Options configures a Server.
type Options struct {
	Addr            string
	SpecCacheSize   int
	DefaultMaxCount int
	ShutdownTimeout time.Duration
}

// Server serves the API. Its catalog may be swapped while it runs.
type Server struct {
	opts    Options
	store   *runs.Store
	catalog atomic.Pointer[labels.Catalog]
	specs   *lru.Cache[string, productspec.ProductSpec]

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	parseErr prometheus.Counter

	handler http.Handler
}

// New builds a server. store may be nil, in which case the run endpoints
// answer 503.
func New(opts Options, catalog *labels.Catalog, store *runs.Store) (*Server, error) {
	if opts.SpecCacheSize <= 0 {
		opts.SpecCacheSize = 1024
	}
	if opts.DefaultMaxCount <= 0 {
		opts.DefaultMaxCount = 1
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if catalog == nil {
		catalog = labels.DefaultCatalog()
	}

	cache, err := lru.New[string, productspec.ProductSpec](opts.SpecCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create spec cache: %w", err)
	}

	s := &Server{
		opts:     opts,
		store:    store,
		specs:    cache,
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wptspec_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		parseErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wptspec_malformed_specs_total",
			Help: "Product specs rejected as malformed.",
		}),
	}
	s.catalog.Store(catalog)
	s.registry.MustRegister(s.requests, s.parseErr)
	s.registry.MustRegister(collectors.NewGoCollector())

	mux := http.NewServeMux()
	s.route(mux, "GET /api/spec", s.handleSpec)
	s.route(mux, "POST /api/labels/field", s.handleLabelsField)
	s.route(mux, "POST /api/labels/fields", s.handleLabelsFields)
	s.route(mux, "GET /api/runs", s.handleRuns)
	s.route(mux, "GET /api/versions", s.handleVersions)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.handler = mux

	return s, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Catalog returns the catalog currently in use.
func (s *Server) Catalog() *labels.Catalog {
	return s.catalog.Load()
}

// SetCatalog swaps the catalog used by subsequent requests.
func (s *Server) SetCatalog(c *labels.Catalog) {
	if c == nil {
		return
	}
	s.catalog.Store(c)
	logging.Server("label catalog replaced (%d groups)", len(c.Groups()))
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	logging.Server("server stopped")
	return nil
}

// parseSpec parses through the LRU cache. Malformed specs are not cached, and
// callers get their own copy of the labels.
func (s *Server) parseSpec(raw string) (productspec.ProductSpec, error) {
	if spec, ok := s.specs.Get(raw); ok {
		return spec.WithLabels(spec.Labels...), nil
	}
	spec, err := productspec.Parse(raw)
	if err != nil {
		s.parseErr.Inc()
		return productspec.ProductSpec{}, err
	}
	s.specs.Add(raw, spec)
	return spec.WithLabels(spec.Labels...), nil
}

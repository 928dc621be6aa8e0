package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"wptspec/internal/labels"
	"wptspec/internal/runs"
)

func newTestServer(t *testing.T, withStore bool) *Server {
	t.Helper()
	var store *runs.Store
	if withStore {
		var err error
		store, err = runs.Open(filepath.Join(t.TempDir(), "runs.db"), time.Second)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })

		for _, r := range []runs.TestRun{
			{BrowserName: "chrome", BrowserVersion: "76.0.3809.100", Revision: "abc1234567",
				TimeStart: time.Date(2019, 8, 1, 0, 0, 0, 0, time.UTC), Labels: []string{"stable", "azure"}},
			{BrowserName: "chrome", BrowserVersion: "78.0.3887.7", Revision: "def4567890",
				TimeStart: time.Date(2019, 8, 2, 0, 0, 0, 0, time.UTC), Labels: []string{"experimental", "taskcluster"}},
			{BrowserName: "safari", BrowserVersion: "12.1", Revision: "abc1234567",
				TimeStart: time.Date(2019, 8, 1, 0, 0, 0, 0, time.UTC), Labels: []string{"stable"}},
		} {
			run := r
			require.NoError(t, store.Put(context.Background(), &run))
		}
	}
	s, err := New(Options{}, labels.DefaultCatalog(), store)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSpecEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	rec := do(t, s, http.MethodGet, "/api/spec?product=chrome-69.0[experimental,azure]@latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	got := decodeBody[SpecResponse](t, rec)
	assert.Equal(t, "chrome-69.0[experimental,azure]", got.Spec)
	assert.Equal(t, "chrome", got.BrowserName)
	assert.Equal(t, "69.0", got.Version)
	assert.Equal(t, []string{"experimental", "azure"}, got.Labels)
	assert.Equal(t, "latest", got.Revision)
	assert.Equal(t, "Chrome", got.DisplayName)
	assert.Equal(t, map[string]string{"channel": "experimental", "source": "azure"}, got.Fields)
}

func TestSpecEndpointCachedCopiesAreIndependent(t *testing.T) {
	s := newTestServer(t, false)

	first, err := s.parseSpec("firefox[beta]")
	require.NoError(t, err)
	first.Labels[0] = "mutated"

	second, err := s.parseSpec("firefox[beta]")
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, second.Labels)
}

func TestSpecEndpointErrors(t *testing.T) {
	s := newTestServer(t, false)

	rec := do(t, s, http.MethodGet, "/api/spec?product=chrome[stable", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Contains(t, body.Error, "malformed product spec")
	assert.NotEmpty(t, body.RequestID)

	rec = do(t, s, http.MethodGet, "/api/spec", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/spec?product=chrome", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLabelsFieldEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name    string
		body    string
		labels  []string
		changed bool
	}{
		{
			name:    "replace previous",
			body:    `{"labels":["stable","azure"],"field":"channel","value":"beta","previous":"stable"}`,
			labels:  []string{"azure", "beta"},
			changed: true,
		},
		{
			name:    "initial any is a no-op",
			body:    `{"labels":["azure"],"field":"channel","value":"any","previous":""}`,
			labels:  []string{"azure"},
			changed: false,
		},
		{
			name:    "clear to any",
			body:    `{"labels":["azure","beta"],"field":"channel","value":"any","previous":"beta"}`,
			labels:  []string{"azure"},
			changed: true,
		},
		{
			name:    "previous any treated as unset",
			body:    `{"labels":[],"field":"source","value":"any","previous":"any"}`,
			labels:  []string{},
			changed: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/labels/field", tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			got := decodeBody[FieldResponse](t, rec)
			assert.Equal(t, tt.labels, got.Labels)
			assert.Equal(t, tt.changed, got.Changed)
		})
	}

	rec := do(t, s, http.MethodPost, "/api/labels/field", `{"labels":[],"field":"os","value":"linux"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/labels/field", `{"labels":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLabelsFieldsEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	rec := do(t, s, http.MethodPost, "/api/labels/fields", `{"labels":["master","taskcluster","beta","stable"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[FieldsResponse](t, rec)
	assert.Equal(t, map[string]string{"channel": "beta", "source": "taskcluster"}, got.Fields)
}

func TestSetCatalog(t *testing.T) {
	s := newTestServer(t, false)

	s.SetCatalog(labels.NewCatalog(labels.CatalogOptions{
		Groups: []labels.Group{{Field: "os", Values: []string{"linux", "mac", "win"}}},
	}))

	rec := do(t, s, http.MethodPost, "/api/labels/fields", `{"labels":["mac"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[FieldsResponse](t, rec)
	assert.Equal(t, map[string]string{"os": "mac"}, got.Fields)

	s.SetCatalog(nil)
	assert.NotNil(t, s.Catalog())
}

func TestRunsEndpoint(t *testing.T) {
	s := newTestServer(t, true)

	rec := do(t, s, http.MethodGet, "/api/runs?product=chrome&product=safari", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[[]runs.TestRun](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, "78.0.3887.7", got[0].BrowserVersion)
	assert.Equal(t, "safari", got[1].BrowserName)

	rec = do(t, s, http.MethodGet, "/api/runs?product=chrome&max-count=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]runs.TestRun](t, rec), 2)

	rec = do(t, s, http.MethodGet, "/api/runs?product=chrome[beta]", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/runs?max-count=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/runs?product=chrome[", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsEndpointDefaultProducts(t *testing.T) {
	s := newTestServer(t, true)

	rec := do(t, s, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[[]runs.TestRun](t, rec)
	var names []string
	for _, r := range got {
		names = append(names, r.BrowserName)
	}
	assert.Equal(t, []string{"chrome", "safari"}, names)
}

func TestVersionsEndpoint(t *testing.T) {
	s := newTestServer(t, true)

	rec := do(t, s, http.MethodGet, "/api/versions?product=chrome-76", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[VersionsResponse](t, rec)
	assert.Equal(t, "chrome", got.Product)
	assert.Equal(t, []string{"78.0.3887.7", "76.0.3809.100"}, got.Versions)
}

func TestRunEndpointsWithoutStore(t *testing.T) {
	s := newTestServer(t, false)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/runs", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/versions?product=chrome", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	do(t, s, http.MethodGet, "/api/spec?product=chrome", "")
	do(t, s, http.MethodGet, "/api/spec?product=chrome[", "")

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `wptspec_http_requests_total{route="GET /api/spec",status="200"} 1`)
	assert.Contains(t, body, `wptspec_http_requests_total{route="GET /api/spec",status="400"} 1`)
	assert.Contains(t, body, "wptspec_malformed_specs_total 1")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newTestServer(t, false)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + ln.Addr().String() + "/api/spec?product=edge")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	client.CloseIdleConnections()
}

package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/plantpulse/internal/adapter/metrics"
	"github.com/pscheid92/plantpulse/internal/app"
	"github.com/pscheid92/plantpulse/internal/domain"
	"github.com/pscheid92/plantpulse/internal/platform/config"
	"github.com/pscheid92/plantpulse/internal/store"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type serverOption func(*serverDeps)

type serverDeps struct {
	app          dashboardService
	ws           http.Handler
	healthChecks []HealthCheck
}

func withApp(a dashboardService) serverOption {
	return func(d *serverDeps) { d.app = a }
}

func withHealthChecks(checks ...HealthCheck) serverOption {
	return func(d *serverDeps) { d.healthChecks = checks }
}

func withWebSocket(h http.Handler) serverOption {
	return func(d *serverDeps) { d.ws = h }
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:             "test",
		Port:               "0",
		WebSocketRateLimit: 100,
		WebSocketRateBurst: 100,
	}
}

func newSeededService(t *testing.T) (*app.Service, *store.Memory) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	mem := store.NewMemory(clock, domain.DefaultMetricRetention)
	data, err := store.LoadSeed(clock.Now())
	require.NoError(t, err)
	require.NoError(t, mem.Seed(context.Background(), data))
	return app.NewService(mem, time.Second), mem
}

func newTestServer(t *testing.T, opts ...serverOption) *Server {
	t.Helper()
	deps := &serverDeps{
		ws: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusSwitchingProtocols)
		}),
	}
	for _, opt := range opts {
		opt(deps)
	}
	if deps.app == nil {
		deps.app, _ = newSeededService(t)
	}

	reg := metrics.NewRegistry()
	return NewServer(testConfig(), deps.app, deps.ws, metrics.Handler(reg), metrics.NewHTTPMetrics(reg), deps.healthChecks)
}

func do(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, body io.Reader) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func httptestRequest(ctx context.Context, method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil).WithContext(ctx)
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

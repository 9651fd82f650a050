package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ajith4Tech/rforum/internal/adapter/membus"
	"github.com/ajith4Tech/rforum/internal/adapter/metrics"
	"github.com/ajith4Tech/rforum/internal/adapter/redis"
	"github.com/ajith4Tech/rforum/internal/domain"
	"github.com/ajith4Tech/rforum/internal/fanout"
	"github.com/ajith4Tech/rforum/internal/platform/config"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type testSetup struct {
	cfg          *config.Config
	directory    domain.ChannelDirectory
	instances    InstanceLister
	healthChecks []HealthCheck
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "development",
		Port:                    "0",
		AppURL:                  "https://rforum.example.com/app",
		CORSOrigins:             []string{"*"},
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     50,
		ConnectionRatePerSecond: 1000,
		ConnectionRateBurst:     1000,
	}
}

func withConfig(mutate func(*config.Config)) func(*testSetup) {
	return func(s *testSetup) { mutate(s.cfg) }
}

func withDirectory(d domain.ChannelDirectory) func(*testSetup) {
	return func(s *testSetup) { s.directory = d }
}

func withInstances(l InstanceLister) func(*testSetup) {
	return func(s *testSetup) { s.instances = l }
}

func withHealthChecks(checks ...HealthCheck) func(*testSetup) {
	return func(s *testSetup) { s.healthChecks = checks }
}

// newTestServer builds a server around an in-memory bus. The hub is shut
// down when the test ends.
func newTestServer(t *testing.T, opts ...func(*testSetup)) *Server {
	t.Helper()

	setup := &testSetup{cfg: testConfig()}
	for _, opt := range opts {
		opt(setup)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewFanoutMetrics(reg)
	hub := fanout.NewHub(fanout.NewRegistry(0), membus.NewBroker().Client(), fanout.NewOrigin("test"), m, clockwork.NewRealClock(), fanout.Options{})

	srv := NewServer(setup.cfg, hub, setup.directory, setup.instances, reg, m, setup.healthChecks)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})
	return srv
}

// serve starts srv on a real listener for WebSocket tests.
func serve(t *testing.T, srv *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server, code string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + code
}

// dial connects and returns the socket, or the handshake status on refusal.
func dial(t *testing.T, ts *httptest.Server, code string, header http.Header) (*websocket.Conn, int, string) {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, code), header)
	if err != nil {
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, resp.StatusCode, string(body)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws, http.StatusSwitchingProtocols, ""
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

type fakeDirectory struct {
	mu    sync.Mutex
	known map[string]bool
	err   error
	calls int
}

func (d *fakeDirectory) Lookup(_ context.Context, code string) (*domain.ChannelInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if !d.known[code] {
		return nil, domain.ErrChannelNotFound
	}
	return &domain.ChannelInfo{Code: code, Live: true}, nil
}

type fakeInstances struct {
	infos []redis.InstanceInfo
	err   error
}

func (f *fakeInstances) Active(context.Context) ([]redis.InstanceInfo, error) {
	return f.infos, f.err
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/battled/internal/lock"
	"github.com/wnt/battled/internal/monitor"
	"github.com/wnt/battled/internal/rpc"
	"github.com/wnt/battled/internal/solana/solanatest"
)

type fakeMonitor struct {
	running  bool
	starts   int
	stops    int
	checks   int
	startErr error
	checkErr error
}

func (m *fakeMonitor) Start() error {
	m.starts++
	if m.startErr != nil {
		return m.startErr
	}
	m.running = true
	return nil
}

func (m *fakeMonitor) Stop() {
	m.stops++
	m.running = false
}

func (m *fakeMonitor) ForceCheck(ctx context.Context) error {
	m.checks++
	return m.checkErr
}

func (m *fakeMonitor) Status() monitor.Status {
	return monitor.Status{
		Running:   m.running,
		Interval:  "1m0s",
		BatchSize: 3,
		LastPass:  &monitor.PassCounts{Battles: 2, Transitioned: 1, Unchanged: 1},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type unhealthyChain struct {
	*solanatest.Chain
}

func (unhealthyChain) GetHealth(ctx context.Context) (string, error) {
	return "", errors.New("node is behind")
}

func newTestServer(t *testing.T, apiKey string, options ...Option) (*Server, *fakeMonitor, *solanatest.Chain, solana.PublicKey) {
	t.Helper()
	mon := &fakeMonitor{}
	chain := solanatest.New()
	wallet := solana.NewWallet().PublicKey()
	s := New(Config{APIKey: apiKey}, mon, chain, wallet, zerolog.Nop(), options...)
	return s, mon, chain, wallet
}

func do(t *testing.T, h http.Handler, method, path string, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body envelope
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t, "secret")

	rec, body := do(t, s.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var data healthData
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Equal(t, "ok", data.Status)
	assert.Equal(t, "battled", data.Service)
	assert.False(t, data.Timestamp.IsZero())
}

func TestHealthWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	locker, err := lock.NewClient("redis://"+mr.Addr(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = locker.Close() })
	s, _, _, _ := newTestServer(t, "", WithRedis(locker))

	rec, body := do(t, s.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var data healthData
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Equal(t, "ok", data.Redis)

	mr.Close()
	rec, body = do(t, s.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, body.Success)
	assert.Equal(t, "Redis unreachable", body.Error)
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Equal(t, "degraded", data.Status)
	assert.Equal(t, "unreachable", data.Redis)
}

func TestRequestIDIsKept(t *testing.T) {
	s, _, _, _ := newTestServer(t, "")

	rec, _ := do(t, s.Handler(), http.MethodGet, "/health", map[string]string{requestIDHeader: "req-42"})
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestSolanaHealth(t *testing.T) {
	pool, err := rpc.NewPool([]string{"http://127.0.0.1:1"}, 1, 1, zerolog.Nop())
	require.NoError(t, err)
	s, _, chain, wallet := newTestServer(t, "", WithEndpointStats(pool))
	chain.SetBalance(wallet, 2_500_000_000)

	rec, body := do(t, s.Handler(), http.MethodGet, "/health/solana", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, body.Success)

	var data solanaHealthData
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.True(t, data.Connected)
	assert.Equal(t, "ok", data.NodeHealth)
	assert.Equal(t, wallet.String(), data.Wallet)
	assert.Equal(t, "2.5", data.WalletBalance)
	require.NotNil(t, data.RPC)
	assert.Equal(t, 1, data.RPC.TotalEndpoints)
}

func TestSolanaHealthFailure(t *testing.T) {
	mon := &fakeMonitor{}
	s := New(Config{}, mon, unhealthyChain{solanatest.New()}, solana.NewWallet().PublicKey(), zerolog.Nop())

	rec, body := do(t, s.Handler(), http.MethodGet, "/health/solana", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, body.Success)
	assert.Equal(t, "Failed to connect to Solana network", body.Error)
	assert.Contains(t, body.Message, "node is behind")
}

func TestDaemonControl(t *testing.T) {
	s, mon, _, _ := newTestServer(t, "")
	h := s.Handler()

	rec, body := do(t, h, http.MethodPost, "/api/daemon/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Battle daemon started", body.Message)
	assert.Equal(t, 1, mon.starts)

	rec, body = do(t, h, http.MethodGet, "/api/daemon/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status monitor.Status
	require.NoError(t, json.Unmarshal(body.Data, &status))
	assert.True(t, status.Running)
	assert.Equal(t, 3, status.BatchSize)

	rec, body = do(t, h, http.MethodPost, "/api/daemon/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Battle daemon stopped", body.Message)
	assert.Equal(t, 1, mon.stops)
	assert.False(t, mon.running)

	mon.startErr = errors.New("invalid monitor interval 0s")
	rec, body = do(t, h, http.MethodPost, "/api/daemon/start", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to start daemon", body.Error)

	// Wrong method falls through to the catch-all
	rec, _ = do(t, h, http.MethodGet, "/api/daemon/start", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDaemonCheck(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "completed", wantStatus: http.StatusOK},
		{name: "pass running", err: monitor.ErrPassInProgress, wantStatus: http.StatusConflict, wantError: "Battle check already in progress"},
		{name: "pass locked by another replica", err: monitor.ErrPassLocked, wantStatus: http.StatusConflict, wantError: "Battle check already in progress"},
		{name: "failed", err: errors.New("database unavailable"), wantStatus: http.StatusInternalServerError, wantError: "Failed to check battles"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mon, _, _ := newTestServer(t, "")
			mon.checkErr = tt.err

			rec, body := do(t, s.Handler(), http.MethodPost, "/api/daemon/check", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, 1, mon.checks)
			assert.Equal(t, tt.err == nil, body.Success)
			assert.Equal(t, tt.wantError, body.Error)

			if tt.err == nil {
				var counts monitor.PassCounts
				require.NoError(t, json.Unmarshal(body.Data, &counts))
				assert.Equal(t, 2, counts.Battles)
			}
		})
	}
}

func TestAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		headers    map[string]string
		wantStatus int
	}{
		{name: "missing", path: "/api/daemon/status", wantStatus: http.StatusUnauthorized},
		{name: "wrong key", path: "/api/daemon/status", headers: map[string]string{"X-API-Key": "nope"}, wantStatus: http.StatusUnauthorized},
		{name: "header key", path: "/api/daemon/status", headers: map[string]string{"X-API-Key": "secret"}, wantStatus: http.StatusOK},
		{name: "bearer token", path: "/api/daemon/status", headers: map[string]string{"Authorization": "Bearer secret"}, wantStatus: http.StatusOK},
		{name: "basic scheme", path: "/api/daemon/status", headers: map[string]string{"Authorization": "Basic secret"}, wantStatus: http.StatusUnauthorized},
		{name: "health is open", path: "/health", wantStatus: http.StatusOK},
		{name: "metrics are open", path: "/metrics", wantStatus: http.StatusOK},
	}

	s, _, _, _ := newTestServer(t, "secret")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, s.Handler(), http.MethodGet, tt.path, tt.headers)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestMetrics(t *testing.T) {
	s, _, _, _ := newTestServer(t, "")

	rec, _ := do(t, s.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNotFound(t *testing.T) {
	s, _, _, _ := newTestServer(t, "")

	rec, body := do(t, s.Handler(), http.MethodGet, "/api/tokens", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, body.Success)
	assert.Equal(t, "Endpoint not found", body.Error)
	assert.Equal(t, "GET /api/tokens", body.Message)
}

package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apihttp "github.com/GriffinCanCode/FitQuest/backend/internal/api/http"
	"github.com/GriffinCanCode/FitQuest/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/FitQuest/backend/internal/providers/direct"
	"github.com/GriffinCanCode/FitQuest/backend/internal/relay"
	"github.com/GriffinCanCode/FitQuest/backend/internal/sandbox"
)

type fixture struct {
	router  *gin.Engine
	relay   *relay.Relay
	logs    *apihttp.LogBuffer
	backend *httptest.Server
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"errorCode":"AUTH_EXPIRED","description":"session expired"}`))
		default:
			w.Write([]byte(`{"value":{"path":"` + r.URL.Path + `"},"errorCode":200}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFixture(t *testing.T, withFallback bool, metrics *monitoring.Metrics) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	backend := newBackend(t)

	logs := apihttp.NewLogBuffer(10, nil)
	cfg := relay.DefaultConfig()
	cfg.Compiler.BaseURL = backend.URL
	r, err := relay.New(cfg, relay.WithLogSink(logs.Sink()))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	var fallback apihttp.Fallback
	if withFallback {
		dcfg := direct.DefaultConfig()
		dcfg.Compiler.BaseURL = backend.URL
		dcfg.RetryCount = 0
		client, err := direct.New(dcfg)
		require.NoError(t, err)
		fallback = client
	}

	h := apihttp.NewHandlers(r, fallback, metrics, nil, nil, 5*time.Second).WithLogBuffer(logs)
	router := gin.New()
	h.Register(router)
	return &fixture{router: router, relay: r, logs: logs, backend: backend}
}

func (f *fixture) bindSandbox(t *testing.T) {
	t.Helper()
	surface, err := sandbox.New(sandbox.Config{Origin: f.backend.URL}, f.relay.HandleMessage)
	require.NoError(t, err)
	t.Cleanup(func() { surface.Close() })

	f.relay.Bind(surface)
	f.relay.MarkLoaded(true)
	require.Eventually(t, f.relay.IsBridgeReady, 3*time.Second, 5*time.Millisecond)
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestRelayThroughSandbox(t *testing.T) {
	f := newFixture(t, false, nil)
	f.bindSandbox(t)

	w, out := f.do(t, "POST", "/api/v1/relay", map[string]any{"id": "r-1", "method": "GET", "path": "/workouts"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, apihttp.PathSandbox, out["path"])
	assert.Equal(t, "r-1", out["id"])
	assert.Equal(t, map[string]any{"path": "/workouts"}, out["data"])
	assert.Nil(t, out["kind"])
}

func TestRelayFailureEnvelopeIsOK(t *testing.T) {
	f := newFixture(t, false, nil)
	f.bindSandbox(t)

	w, out := f.do(t, "POST", "/api/v1/relay", map[string]any{"method": "GET", "path": "/forbidden"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, out["success"])
	assert.EqualValues(t, http.StatusForbidden, out["status"])
	assert.Equal(t, "AUTH_EXPIRED", out["code"])
	assert.Equal(t, relay.KindDomain.String(), out["kind"])
}

func TestRelayWithoutSandbox(t *testing.T) {
	f := newFixture(t, false, nil)

	w, out := f.do(t, "POST", "/api/v1/relay", map[string]any{"method": "GET", "path": "/workouts"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, relay.KindSandboxUnavailable.String(), out["kind"])
	assert.Equal(t, apihttp.PathSandbox, out["path"])
}

func TestRelayFallsBackToDirect(t *testing.T) {
	f := newFixture(t, true, nil)

	w, out := f.do(t, "POST", "/api/v1/relay", map[string]any{"method": "GET", "path": "/workouts"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, apihttp.PathDirect, out["path"])
	assert.Equal(t, map[string]any{"path": "/workouts"}, out["data"])
}

func TestRelayPrefersBoundSandbox(t *testing.T) {
	f := newFixture(t, true, nil)
	f.bindSandbox(t)

	_, out := f.do(t, "POST", "/api/v1/relay", map[string]any{"method": "GET", "path": "/workouts"})

	assert.Equal(t, apihttp.PathSandbox, out["path"])
}

func TestRelayRejectsBadPayloads(t *testing.T) {
	f := newFixture(t, true, nil)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"method":`},
		{"missing path", map[string]any{"method": "GET"}},
		{"unsupported method", map[string]any{"method": "TRACE", "path": "/x"}},
		{"empty multipart", map[string]any{"method": "POST", "path": "/x", "useMultipart": true}},
		{"unparseable path", map[string]any{"method": "GET", "path": "/x/%zz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := f.do(t, "POST", "/api/v1/relay", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestSandboxStatus(t *testing.T) {
	f := newFixture(t, false, nil)

	_, out := f.do(t, "GET", "/api/v1/sandbox", nil)
	assert.Equal(t, relay.StateUnbound.String(), out["state"])
	assert.Equal(t, false, out["available"])

	f.bindSandbox(t)
	_, out = f.do(t, "GET", "/api/v1/sandbox", nil)
	assert.Equal(t, relay.StateReady.String(), out["state"])
	assert.Equal(t, true, out["available"])
	assert.Equal(t, true, out["loaded"])
	assert.Equal(t, true, out["bridge_ready"])
	assert.EqualValues(t, 0, out["pending"])
	assert.EqualValues(t, 0, out["queued"])
}

func TestSandboxLogs(t *testing.T) {
	f := newFixture(t, false, nil)
	f.relay.HandleMessage(`{"type":"api:log","message":"first"}`)
	f.relay.HandleMessage(`{"type":"debug:trace","message":"second"}`)
	f.relay.HandleMessage(`{"type":"api:success","id":"unknown","data":1}`)

	w, out := f.do(t, "GET", "/api/v1/sandbox/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, out["count"])
	entries := out["entries"].([]any)
	assert.Equal(t, "first", entries[0].(map[string]any)["message"])
	assert.Equal(t, "trace", entries[1].(map[string]any)["event"])

	_, out = f.do(t, "GET", "/api/v1/sandbox/logs?limit=1", nil)
	assert.EqualValues(t, 1, out["count"])

	w, _ = f.do(t, "GET", "/api/v1/sandbox/logs?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogBufferWraps(t *testing.T) {
	var forwarded int
	buf := apihttp.NewLogBuffer(2, func(relay.Message) { forwarded++ })
	sink := buf.Sink()
	for _, msg := range []string{"a", "b", "c"} {
		sink(relay.Message{Event: "log", Message: msg})
	}

	entries := buf.Recent(0)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Message)
	assert.Equal(t, "c", entries[1].Message)
	assert.Equal(t, 3, forwarded)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, true, nil)

	w, out := f.do(t, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, relay.StateUnbound.String(), out["sandbox"].(map[string]any)["state"])
	assert.Equal(t, "closed", out["fallback"].(map[string]any)["breaker"])
}

func TestMetricsJSON(t *testing.T) {
	f := newFixture(t, false, nil)
	w, _ := f.do(t, "GET", "/metrics/json", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f = newFixture(t, false, monitoring.NewMetrics(prometheus.NewRegistry()))
	w, out := f.do(t, "GET", "/metrics/json", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, out, "relay_requests")
}

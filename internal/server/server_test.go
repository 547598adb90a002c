package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/AgentOS/navigator/internal/engine/fetch"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/navigation"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body><p>hello</p></body></html>`)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

type fixture struct {
	srv     *Server
	ctrl    *navigation.Controller
	metrics *monitoring.Metrics
	site    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := fetch.DefaultConfig()
	cfg.Retries = 0
	cfg.RequestsPerHost = 0
	cfg.RequestTimeout = 5 * time.Second
	cfg.SandboxPool = 1
	engine, err := fetch.New(cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	ctrl := navigation.New(engine, navigation.DefaultOptions(), zaptest.NewLogger(t)).WithMetrics(metrics)
	t.Cleanup(func() { ctrl.Dispose() })

	appCfg := config.Default()
	appCfg.RateLimit.Enabled = false
	srv, err := New(Deps{
		Config:     appCfg,
		Logger:     logging.Nop(),
		Controller: ctrl,
		Metrics:    metrics,
		Gatherer:   reg,
		Inspector:  engine,
		Engine:     fetch.Name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	return &fixture{srv: srv, ctrl: ctrl, metrics: metrics, site: newSite(t)}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestNavigateCompletes(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/navigate", NavigateRequest{Address: f.site.URL + "/"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", body["status"])

	snap := body["snapshot"].(map[string]interface{})
	assert.Equal(t, "completed", snap["state"])
	assert.Equal(t, f.site.URL+"/", snap["address"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestNavigateRejectsInvalidAddress(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodPost, "/navigate", NavigateRequest{Address: "http://"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/navigate", map[string]interface{}{"timeout_ms": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/navigate", NavigateRequest{Address: f.site.URL, TimeoutMS: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNavigateRejectsOversizedTimeout(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/navigate", NavigateRequest{Address: f.site.URL, TimeoutMS: math.MaxInt64 / 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "timeout_ms")

	w, _ = f.do(t, http.MethodPost, "/navigate", NavigateRequest{Address: f.site.URL + "/", TimeoutMS: MaxTimeoutMS})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNavigateReportsProtocolFailure(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/navigate", NavigateRequest{Address: f.site.URL + "/missing"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "protocol", body["kind"])
	assert.NotEmpty(t, body["code"])
}

func TestNavigateAsync(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/navigate", NavigateRequest{Address: f.site.URL + "/", Async: true})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "accepted", body["status"])

	require.Eventually(t, func() bool {
		snap, err := f.ctrl.Snapshot()
		return err == nil && snap.State == "completed"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHistoryCommands(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/back", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, body["error"], "go back")

	w, _ = f.do(t, http.MethodPost, "/navigate", NavigateRequest{Address: f.site.URL + "/"})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = f.do(t, http.MethodPost, "/refresh", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, _ = f.do(t, http.MethodPost, "/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusIncludesPage(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodPost, "/navigate", NavigateRequest{Address: f.site.URL + "/"})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, fetch.Name, body["engine"])

	page := body["page"].(map[string]interface{})
	assert.Equal(t, "Home", page["title"])
	assert.Contains(t, body, "breakers")

	pool := body["sandbox"].(map[string]interface{})
	assert.EqualValues(t, 1, pool["size"])
	assert.Equal(t, false, pool["closed"])
}

func TestDisposedController(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Dispose())

	w, _ := f.do(t, http.MethodPost, "/stop", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestMetricsEndpoints(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodPost, "/navigate", NavigateRequest{Address: f.site.URL + "/"})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "navigator_attempts_total")

	w, body := f.do(t, http.MethodGet, "/metrics/json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["attempts"])
}

func TestLogLevelEndpoint(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPut, "/log/level", strings.NewReader(`{"level":"debug"}`))
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "debug")
}

func dialEvents(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(f.srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	conn := dialEvents(t, f)

	hello := readFrame(t, conn)
	require.Equal(t, "hello", hello.Type)
	assert.NotEmpty(t, hello.ClientID)
	assert.Equal(t, 1, f.srv.Hub().Clients())

	w, _ := f.do(t, http.MethodPost, "/navigate", NavigateRequest{Address: f.site.URL + "/missing", Async: true})
	require.Equal(t, http.StatusAccepted, w.Code)

	var stages []string
	var failure map[string]interface{}
	for failure == nil {
		frame := readFrame(t, conn)
		data, _ := frame.Data.(map[string]interface{})
		switch frame.Type {
		case "progress":
			stages = append(stages, data["stage"].(string))
		case "failure":
			failure = data
		}
	}
	assert.Equal(t, string(navigation.StageResolving), stages[0])
	assert.Contains(t, stages, string(navigation.StageFailed))
	assert.Equal(t, f.site.URL+"/missing", failure["uri"])
	assert.Equal(t, false, failure["is_cancelled"])
}

func TestEventsPing(t *testing.T) {
	f := newFixture(t)
	conn := dialEvents(t, f)
	require.Equal(t, "hello", readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readFrame(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "malformed message", frame.Message)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	f := newFixture(t)
	conn := dialEvents(t, f)
	require.Equal(t, "hello", readFrame(t, conn).Type)
	assert.EqualValues(t, 1, f.metrics.Snapshot().WSConnections)

	f.srv.Hub().Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, f.srv.Hub().Clients())
	assert.EqualValues(t, 0, f.metrics.Snapshot().WSConnections)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", navigation.ErrInvalidAddress), http.StatusBadRequest},
		{navigation.ErrDisposed, http.StatusServiceUnavailable},
		{&navigation.NavigationError{Kind: navigation.KindTimeout}, http.StatusGatewayTimeout},
		{&navigation.NavigationError{Kind: navigation.KindStall}, http.StatusGatewayTimeout},
		{&navigation.NavigationError{Kind: navigation.KindCancelled}, http.StatusConflict},
		{&navigation.NavigationError{Kind: navigation.KindProtocol}, http.StatusBadGateway},
		{fmt.Errorf("%w: go back", navigation.ErrEngineCommand), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

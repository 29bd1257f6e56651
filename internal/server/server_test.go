package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/embedrpc/internal/config"
	"github.com/morezero/embedrpc/pkg/bridge"
	"github.com/morezero/embedrpc/pkg/events"
	"github.com/morezero/embedrpc/pkg/frame"
	"github.com/morezero/embedrpc/pkg/initstore"
)

const serverTestPrefix = "server:server_test"

func startTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		COMMSEmbedded: true,
		COMMSPort:     0,
		COMMSName:     "embedrpc-test",
		InitNamespace: "default",
	}
	s, err := Start(context.Background(), cfg)
	require.NoError(t, err, "%s - Start", serverTestPrefix)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

// memoryServer builds a Server without COMMS for handler and dispatcher tests.
func memoryServer(t *testing.T) *Server {
	t.Helper()
	store, err := initstore.NewMemoryStore(map[string]interface{}{"theme": "dark"})
	require.NoError(t, err)
	s := &Server{
		cfg:      &config.Config{},
		store:    store,
		registry: prometheus.NewRegistry(),
	}
	s.watchStateEvents()
	bus := bridge.NewMemoryBus()
	t.Cleanup(bus.Close)
	s.launcher = frame.NewLauncher(bus, s.dispatcherFor)
	t.Cleanup(s.launcher.StopAll)
	return s
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("%s - ParseLevel(%q) = %v, want %v", serverTestPrefix, tt.in, got, tt.want)
		}
	}
}

func TestServer_HostsFramesOverComms(t *testing.T) {
	s := startTestServer(t)

	hostConn, err := comms.Connect(s.ClientURL(), comms.Timeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(hostConn.Close)

	const contextID = "ctx-server"
	ch, err := bridge.Open(context.Background(), bridge.NewCommsBus(hostConn), bridge.Config{
		ContextID: contextID,
		Address:   "https://embed.example.com/frame?clientId=c-1",
	},
		bridge.WithRegistry(bridge.NewRegistry()),
		bridge.WithEmbedder(frame.NewCommsLauncher(hostConn, 5*time.Second)),
		bridge.WithPublisher(events.NewCommsPublisher(hostConn, nil)),
	)
	require.NoError(t, err)

	status, err := bridge.Invoke[map[string]string](context.Background(), ch, "getStatus", nil)
	require.NoError(t, err)
	assert.Equal(t, "ready", status["status"])

	_, err = ch.Call(context.Background(), "setState", map[string]interface{}{"key": "locale", "value": "fr"})
	require.NoError(t, err)
	locale, err := bridge.Invoke[string](context.Background(), ch, "getState", map[string]string{"key": "locale"})
	require.NoError(t, err)
	assert.Equal(t, "fr", locale)

	stored, err := s.Store().Get(context.Background(), "locale")
	require.NoError(t, err)
	assert.JSONEq(t, `"fr"`, string(stored))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	code, body := get(t, srv, "/frames")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, contextID)

	code, body = get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, code)
	var h healthOutput
	require.NoError(t, json.Unmarshal([]byte(body), &h))
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 1, h.Frames)

	code, body = get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "embedrpc_server_frames 1")

	code, body = get(t, srv, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, contextID)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(s.stateCount.WithLabelValues("READY")) >= 1
	}, 5*time.Second, 10*time.Millisecond, "%s - READY event not observed", serverTestPrefix)

	require.NoError(t, ch.Close())
	require.Eventually(t, func() bool { return len(s.launcher.Active()) == 0 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(s.stateCount.WithLabelValues("CLOSED")) >= 1
	}, 5*time.Second, 10*time.Millisecond, "%s - CLOSED event not observed", serverTestPrefix)
}

func TestServer_ShutdownPartial(t *testing.T) {
	s := &Server{}
	s.Shutdown(context.Background())
}

func TestHandler_UnhealthyWithoutComms(t *testing.T) {
	s := memoryServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	code, body := get(t, srv, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, `"unhealthy"`)

	code, body = get(t, srv, "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ready"}`, body)

	code, _ = get(t, srv, "/nope")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get(t, srv, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, "No frames running."), "%s - home page body: %s", serverTestPrefix, body)
}

func TestDispatcherFor_StateProcedures(t *testing.T) {
	s := memoryServer(t)
	d := s.dispatcherFor(bridge.EmbedRequest{ContextID: "ctx"})
	ctx := context.Background()

	call := func(procedure, params string) *bridge.Message {
		return d.Dispatch(ctx, &bridge.Message{
			Type:          bridge.TypeCall,
			ContextID:     "ctx",
			CorrelationID: "c-1",
			ProcedureName: procedure,
			Params:        json.RawMessage(params),
		})
	}

	failure := func(resp *bridge.Message) string {
		text, _ := resp.Failure()
		return text
	}

	resp := call("getState", `{"key":"theme"}`)
	assert.Nil(t, resp.ErrorMessage)
	assert.JSONEq(t, `"dark"`, string(resp.Result))

	resp = call("getState", `{"key":"missing"}`)
	assert.Equal(t, "no state for key missing", failure(resp))

	resp = call("getState", `{}`)
	assert.Equal(t, "key is required", failure(resp))

	resp = call("setState", `{"key":"size","value":{"w":3}}`)
	assert.Nil(t, resp.ErrorMessage)
	stored, err := s.store.Get(ctx, "size")
	require.NoError(t, err)
	assert.JSONEq(t, `{"w":3}`, string(stored))

	resp = call("listProcedures", `null`)
	var procs []string
	require.NoError(t, json.Unmarshal(resp.Result, &procs))
	assert.Equal(t, []string{"echo", "getInitVars", "getState", "getStatus", "listProcedures", "setState"}, procs)
}

func TestHandleStateEvent_CountsTransitions(t *testing.T) {
	s := memoryServer(t)

	send := func(data string) {
		s.handleStateEvent(&comms.Msg{Subject: "embed.state", Data: []byte(data)})
	}
	send(`{"contextId":"ctx-a","from":"UNATTACHED","to":"LOADING"}`)
	send(`{"contextId":"ctx-a","from":"LOADING","to":"CLOSED","reason":"incompatible protocol version"}`)
	send(`{"contextId":"ctx-b","from":"READY","to":"CLOSED"}`)
	send(`{not json`)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.stateCount.WithLabelValues("LOADING")), "%s - LOADING count", serverTestPrefix)
	assert.Equal(t, float64(2), testutil.ToFloat64(s.stateCount.WithLabelValues("CLOSED")), "%s - CLOSED count", serverTestPrefix)
	assert.Equal(t, 2, testutil.CollectAndCount(s.stateCount), "%s - label set", serverTestPrefix)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/conductor/internal/conductor"
	"github.com/nerrad567/conductor/internal/device"
	"github.com/nerrad567/conductor/internal/devices/abstract"
	"github.com/nerrad567/conductor/internal/events"
	"github.com/nerrad567/conductor/internal/infrastructure/config"
	"github.com/nerrad567/conductor/internal/infrastructure/database"
	"github.com/nerrad567/conductor/internal/infrastructure/logging"
	"github.com/nerrad567/conductor/internal/infrastructure/metrics"
	"github.com/nerrad567/conductor/internal/store"
	_ "github.com/nerrad567/conductor/migrations"
)

type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(context.Context) error { return f.err }

type testEnv struct {
	srv       *Server
	http      *httptest.Server
	conductor *conductor.Conductor
	store     *store.Store
}

func testConfig() (config.APIConfig, config.WebSocketConfig) {
	return config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		}, config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		}
}

// newTestEnv wires a server to a real conductor with the abstract device
// type and an in-memory store.
func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	st := store.New(db.DB)

	registry := device.NewRegistry()
	if err := registry.Register(abstract.DeviceType, abstract.Factory); err != nil {
		t.Fatalf("registering abstract: %v", err)
	}
	c := conductor.New(conductor.Options{Factories: registry})
	t.Cleanup(func() { c.Close(context.Background()) }) //nolint:errcheck // Test cleanup

	apiCfg, wsCfg := testConfig()
	deps := Deps{
		Config:    apiCfg,
		WS:        wsCfg,
		Logger:    logging.Discard(),
		Conductor: c,
		Store:     st,
		Checks:    map[string]HealthChecker{"database": db},
		Version:   "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, http: ts, conductor: c, store: st}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("%s %s: body is not JSON: %s", method, path, raw)
		}
	}
	return resp, decoded
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s status = %d, want %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want)
	}
}

const showTimeline = `{"timeline": [
  {"id": "opener", "layer": "PGM", "enable": [{"start": "now", "duration": 10000}],
   "content": {"deviceType": "abstract", "file": "opener.mov"}},
  {"id": "logo", "layer": "GFX", "enable": [{"start": "#opener.start + 500"}]}
]}`

// =============================================================================
// Server lifecycle
// =============================================================================

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without conductor should fail")
	}
}

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := env.srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/health", env.srv.Addr()))
	if err != nil {
		t.Fatalf("GET health on listener: %v", err)
	}
	resp.Body.Close() //nolint:errcheck // Test cleanup
	expectStatus(t, resp, http.StatusOK)

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

// =============================================================================
// Health and metrics
// =============================================================================

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/v1/health", "")
	expectStatus(t, resp, http.StatusOK)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health body = %v", body)
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["database"] != "ok" {
		t.Errorf("checks = %v, want database ok", checks)
	}
}

func TestHealth_DegradedDependency(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Checks["mqtt"] = fakeChecker{err: errors.New("broker unreachable")}
	})

	resp, body := env.do(t, http.MethodGet, "/api/v1/health", "")
	expectStatus(t, resp, http.StatusServiceUnavailable)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	expectStatus(t, resp, http.StatusNotFound)

	env = newTestEnv(t, func(d *Deps) { d.Metrics = metrics.New("apitest") })
	env.do(t, http.MethodGet, "/api/v1/health", "")

	resp, err := http.Get(env.http.URL + "/api/v1/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body) //nolint:errcheck // Test read

	for _, want := range []string{"apitest_events_dropped 0", `apitest_http_requests_total{class="2xx"}`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

// =============================================================================
// Timeline and mappings
// =============================================================================

func TestTimeline_PutAndGet(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPut, "/api/v1/timeline", showTimeline)
	expectStatus(t, resp, http.StatusOK)
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}

	stored, err := env.store.Timeline(context.Background())
	if err != nil {
		t.Fatalf("store.Timeline: %v", err)
	}
	if len(stored) != 2 || stored[0].ID != "opener" {
		t.Errorf("stored timeline = %+v", stored)
	}
	if got := env.conductor.Timeline(); len(got) != 2 {
		t.Errorf("conductor timeline has %d objects, want 2", len(got))
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/timeline", "")
	expectStatus(t, resp, http.StatusOK)
	objects, _ := body["timeline"].([]any)
	if len(objects) != 2 {
		t.Errorf("GET timeline = %v", body)
	}
}

func TestTimeline_Rejects(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"timeline": [`, http.StatusBadRequest},
		{"unknown field", `{"objects": []}`, http.StatusBadRequest},
		{"no layer", `{"timeline": [{"id": "a", "enable": [{"start": 0}]}]}`, http.StatusUnprocessableEntity},
		{
			"duplicate id",
			`{"timeline": [{"id": "a", "layer": "L", "enable": [{"start": 0}]}, {"id": "a", "layer": "M", "enable": [{"start": 0}]}]}`,
			http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPut, "/api/v1/timeline", tt.body)
			expectStatus(t, resp, tt.want)
			if body["code"] == nil {
				t.Errorf("error body = %v", body)
			}
		})
	}

	if got := env.conductor.Timeline(); len(got) != 0 {
		t.Errorf("rejected timelines must not reach the conductor, got %d objects", len(got))
	}
}

func TestMappings_PutAndGet(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodPut, "/api/v1/mappings",
		`{"mappings": {"PGM": {"device_type": "abstract", "device_id": "vision", "lookahead": "preload", "lookahead_depth": 1}}}`)
	expectStatus(t, resp, http.StatusOK)

	stored, err := env.store.Mappings(context.Background())
	if err != nil {
		t.Fatalf("store.Mappings: %v", err)
	}
	if stored["PGM"].DeviceID != "vision" {
		t.Errorf("stored mappings = %+v", stored)
	}

	resp, body := env.do(t, http.MethodGet, "/api/v1/mappings", "")
	expectStatus(t, resp, http.StatusOK)
	if body["count"] != float64(1) {
		t.Errorf("GET mappings = %v", body)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/v1/mappings", `{"mappings": {"PGM": {"device_type": "abstract"}}}`)
	expectStatus(t, resp, http.StatusUnprocessableEntity)
}

// =============================================================================
// Devices
// =============================================================================

func TestDevices_Lifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/devices", `{"id": "vision", "type": "abstract"}`)
	expectStatus(t, resp, http.StatusCreated)
	if body["id"] != "vision" {
		t.Errorf("created id = %v", body["id"])
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/devices", `{"id": "vision", "type": "abstract"}`)
	expectStatus(t, resp, http.StatusConflict)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/devices", `{"id": "x", "type": "teleprompter"}`)
	expectStatus(t, resp, http.StatusUnprocessableEntity)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/devices", `{"id": "x"}`)
	expectStatus(t, resp, http.StatusUnprocessableEntity)

	resp, body = env.do(t, http.MethodGet, "/api/v1/devices", "")
	expectStatus(t, resp, http.StatusOK)
	if body["count"] != float64(1) {
		t.Errorf("device count = %v, want 1", body["count"])
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/devices/vision", "")
	expectStatus(t, resp, http.StatusOK)
	if body["type"] != "abstract" {
		t.Errorf("device = %v", body)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/devices/ghost", "")
	expectStatus(t, resp, http.StatusNotFound)

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/devices/vision", "")
	expectStatus(t, resp, http.StatusNoContent)

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/devices/vision", "")
	expectStatus(t, resp, http.StatusNotFound)
}

func TestDevices_Operations(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.conductor.AddDevice(context.Background(), device.Options{ID: "vision", Type: abstract.DeviceType}); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	resp, _ := env.do(t, http.MethodPost, "/api/v1/devices/make-ready", "")
	expectStatus(t, resp, http.StatusOK)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/devices/make-ready", `{"ok_to_destroy_stuff": true}`)
	expectStatus(t, resp, http.StatusOK)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/devices/vision/clear-future", "")
	expectStatus(t, resp, http.StatusOK)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/devices/ghost/clear-future", "")
	expectStatus(t, resp, http.StatusNotFound)

	resp, body := env.do(t, http.MethodGet, "/api/v1/devices/vision/actions", "")
	expectStatus(t, resp, http.StatusOK)
	if body["count"] != float64(1) {
		t.Errorf("actions = %v", body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/v1/devices/vision/actions/clearHistory", "")
	expectStatus(t, resp, http.StatusOK)
	if body["ok"] != true {
		t.Errorf("action result = %v", body)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/devices/vision/actions/selfDestruct", "")
	expectStatus(t, resp, http.StatusNotFound)
}

// =============================================================================
// Command log
// =============================================================================

func TestCommands(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i, entry := range []store.CommandLogEntry{
		{DeviceID: "vision", CommandID: "c1", ExecutedAt: 1000},
		{DeviceID: "vision", CommandID: "c2", ExecutedAt: 2000, Error: "timeout"},
		{DeviceID: "audio", CommandID: "c3", ExecutedAt: 3000},
	} {
		if err := env.store.RecordCommand(ctx, &entry); err != nil {
			t.Fatalf("RecordCommand(%d): %v", i, err)
		}
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?device_id=vision", 2},
		{"?failed=true", 1},
		{"?since=2000", 2},
		{"?limit=1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, "/api/v1/commands"+tt.query, "")
			expectStatus(t, resp, http.StatusOK)
			if body["count"] != float64(tt.want) {
				t.Errorf("count = %v, want %d", body["count"], tt.want)
			}
		})
	}

	for _, bad := range []string{"?failed=maybe", "?since=yesterday", "?limit=0"} {
		resp, _ := env.do(t, http.MethodGet, "/api/v1/commands"+bad, "")
		expectStatus(t, resp, http.StatusBadRequest)
	}
}

func TestCommands_WithoutStore(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Store = nil })

	resp, _ := env.do(t, http.MethodGet, "/api/v1/commands", "")
	expectStatus(t, resp, http.StatusNotFound)

	// Timeline edits still reach the conductor.
	resp, _ = env.do(t, http.MethodPut, "/api/v1/timeline", showTimeline)
	expectStatus(t, resp, http.StatusOK)
	if got := env.conductor.Timeline(); len(got) != 2 {
		t.Errorf("conductor timeline has %d objects, want 2", len(got))
	}
}

// =============================================================================
// Middleware
// =============================================================================

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodGet, "/api/v1/health", "")
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be generated")
	}

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/api/v1/health", nil) //nolint:errcheck // Static request
	req.Header.Set("X-Request-ID", "cue-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close() //nolint:errcheck // Test cleanup
	if got := resp.Header.Get("X-Request-ID"); got != "cue-42" {
		t.Errorf("X-Request-ID = %q, want cue-42", got)
	}
}

func TestBodySizeLimit(t *testing.T) {
	env := newTestEnv(t, nil)

	huge := `{"timeline": [` + strings.Repeat(" ", maxRequestBodySize) + `]}`
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/timeline", strings.NewReader(huge)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t, nil)

	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Config.CORS.AllowedOrigins = []string{"https://desk.local"} })

	req := mustRequest(t, http.MethodOptions, env.http.URL+"/api/v1/timeline", "")
	req.Header.Set("Origin", "https://desk.local")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close() //nolint:errcheck // Test cleanup
	expectStatus(t, resp, http.StatusNoContent)
	if resp.Header.Get("Access-Control-Allow-Origin") != "https://desk.local" {
		t.Error("allowed origin should be echoed")
	}

	req = mustRequest(t, http.MethodOptions, env.http.URL+"/api/v1/timeline", "")
	req.Header.Set("Origin", "https://elsewhere")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close() //nolint:errcheck // Test cleanup
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("foreign origin must not be echoed")
	}
}

func mustRequest(t *testing.T, method, url, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	return req
}

// =============================================================================
// WebSocket
// =============================================================================

func TestWebSocket_EventStream(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go env.srv.hub.Run(ctx)
	t.Cleanup(env.srv.relayEvents())

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // Test deadline

	send := func(msg WSMessage) {
		t.Helper()
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	read := func() WSMessage {
		t.Helper()
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	send(WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"nonsense"}}})
	if msg := read(); msg.Type != WSTypeError || msg.ID != "1" {
		t.Fatalf("unknown channel reply = %+v", msg)
	}

	send(WSMessage{Type: WSTypeSubscribe, ID: "2", Payload: WSSubscribePayload{Channels: []string{"deviceAdded"}}})
	if msg := read(); msg.Type != WSTypeResponse || msg.ID != "2" {
		t.Fatalf("subscribe reply = %+v", msg)
	}

	send(WSMessage{Type: WSTypePing, ID: "3"})
	if msg := read(); msg.Type != WSTypePong {
		t.Fatalf("ping reply = %+v", msg)
	}

	if _, err := env.conductor.AddDevice(context.Background(), device.Options{ID: "vision", Type: abstract.DeviceType}); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	for {
		msg := read()
		if msg.Type != WSTypeEvent {
			continue
		}
		if msg.EventType != "deviceAdded" {
			t.Fatalf("received unsubscribed event %q", msg.EventType)
		}
		payload, _ := msg.Payload.(map[string]any)
		if payload["device_id"] != "vision" || msg.DeviceID != "vision" {
			t.Errorf("payload = %v", msg.Payload)
		}
		return
	}
}

func TestWSClient_Wants(t *testing.T) {
	tests := []struct {
		name     string
		channels []string
		devices  []string
		channel  string
		deviceID string
		want     bool
	}{
		{"wildcard", []string{WSChannelAll}, nil, "resolveDone", "", true},
		{"named match", []string{"commandError"}, nil, "commandError", "vision", true},
		{"named miss", []string{"commandError"}, nil, "resolveDone", "", false},
		{"device filter match", []string{WSChannelAll}, []string{"vision"}, "commandError", "vision", true},
		{"device filter miss", []string{WSChannelAll}, []string{"vision"}, "commandError", "audio", false},
		{"conductor-wide event passes filter", []string{"resolveDone"}, []string{"vision"}, "resolveDone", "", true},
		{"nothing subscribed", nil, nil, "info", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newWSClient(nil, nil)
			for _, ch := range tt.channels {
				c.channels[ch] = struct{}{}
			}
			for _, id := range tt.devices {
				c.devices[id] = struct{}{}
			}
			if got := c.wants(tt.channel, tt.deviceID); got != tt.want {
				t.Errorf("wants(%q, %q) = %v, want %v", tt.channel, tt.deviceID, got, tt.want)
			}
		})
	}
}

func TestHub_BroadcastCountsDrops(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())

	slow := newWSClient(hub, nil)
	slow.send = make(chan []byte) // unbuffered and never read
	slow.channels[WSChannelAll] = struct{}{}
	hub.Register(slow)

	fast := newWSClient(hub, nil)
	fast.channels["connectionChanged"] = struct{}{}
	fast.devices["vision"] = struct{}{}
	hub.Register(fast)

	hub.Broadcast(events.Event{
		Type:      events.ConnectionChanged,
		Timestamp: time.Now(),
		Data:      conductor.ConnectionPayload{DeviceID: "vision"},
	})

	if hub.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1 for the slow client", hub.Dropped())
	}
	select {
	case data := <-fast.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("frame is not JSON: %v", err)
		}
		if msg.EventType != "connectionChanged" || msg.DeviceID != "vision" {
			t.Errorf("frame = %+v", msg)
		}
	default:
		t.Fatal("fast client received nothing")
	}

	hub.Unregister(fast)
	hub.Unregister(fast)
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}
}

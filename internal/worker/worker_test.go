package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/conductor/internal/device"
	"github.com/nerrad567/conductor/internal/timeline"
)

// ─── Mock Device ────────────────────────────────────────────────────────────

type mockDevice struct {
	mu         sync.Mutex
	sent       []string
	terminated bool
	hang       chan struct{}
	gate       chan struct{}
	inflight   atomic.Int32
}

func (m *mockDevice) Init(context.Context, device.EventSink) error { return nil }

func (m *mockDevice) Terminate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = true
	return nil
}

func (m *mockDevice) ConvertTimelineStateToDeviceState(state timeline.ResolvedState, _ timeline.Mappings) (device.State, error) {
	if _, ok := state.Layers["hang"]; ok {
		<-m.hang
	}
	return len(state.Layers), nil
}

func (m *mockDevice) DiffStates(_, newState device.State, _ timeline.Mappings) ([]device.Command, error) {
	if newState.(int) == 0 {
		return nil, nil
	}
	return []device.Command{{Payload: "play"}}, nil
}

func (m *mockDevice) SendCommand(_ context.Context, cmd device.Command) error {
	switch cmd.Payload {
	case "boom":
		panic("protocol bug")
	case "hang":
		<-m.hang
	case "gate":
		m.inflight.Add(1)
		<-m.gate
	case "reject":
		return errors.New("rejected")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, cmd.Payload.(string))
	return nil
}

func (m *mockDevice) GetStatus() device.Status {
	return device.Status{Code: device.StatusGood, Active: true}
}

func (m *mockDevice) Actions() map[string]device.Action {
	return map[string]device.Action{
		"ping": {
			ID:   "ping",
			Name: "Ping",
			Handler: func(context.Context, map[string]any) (device.ActionResult, error) {
				return device.ActionResult{OK: true, Message: "pong"}, nil
			},
		},
	}
}

func (m *mockDevice) MakeReady(context.Context, bool) error { return nil }
func (m *mockDevice) ClearFuture(context.Context) error     { return nil }

// recordingSink captures device notifications.
type recordingSink struct {
	mu       sync.Mutex
	statuses []device.Status
	errs     []error
}

func (s *recordingSink) ConnectionChanged(st device.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *recordingSink) Warning(string) {}

func (s *recordingSink) Error(_ string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func setupWorker(t *testing.T, cfg Config) (*Worker, *atomic.Int32, *recordingSink) {
	t.Helper()

	var created atomic.Int32
	w := New("dev0", func() (device.Device, error) {
		created.Add(1)
		return &mockDevice{hang: make(chan struct{})}, nil
	}, cfg)

	sink := &recordingSink{}
	require.NoError(t, w.Init(context.Background(), sink))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = w.Terminate(ctx)
	})
	return w, &created, sink
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestWorker_ForwardsCalls(t *testing.T) {
	w, _, _ := setupWorker(t, DefaultConfig())
	ctx := context.Background()

	state := timeline.ResolvedState{Layers: map[string]timeline.ResolvedInstance{"L0": {ObjectID: "a"}}}
	ds, err := w.ConvertTimelineStateToDeviceState(state, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ds)

	cmds, err := w.DiffStates(nil, ds, nil)
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	require.NoError(t, w.SendCommand(ctx, cmds[0]))
	assert.Error(t, w.SendCommand(ctx, device.Command{Payload: "reject"}))

	assert.Equal(t, device.StatusGood, w.GetStatus().Code)
	assert.Equal(t, StatusRunning, w.Status())

	action, ok := w.Actions()["ping"]
	require.True(t, ok)
	res, err := action.Handler(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Message)
}

func TestWorker_RestartsAfterCrash(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RestartDelay = 10 * time.Millisecond
	w, created, sink := setupWorker(t, cfg)
	ctx := context.Background()

	err := w.SendCommand(ctx, device.Command{Payload: "boom"})
	require.ErrorIs(t, err, ErrWorkerCrashed)

	require.Eventually(t, func() bool {
		return w.Status() == StatusRunning && created.Load() == 2
	}, time.Second, 5*time.Millisecond)

	assert.NoError(t, w.SendCommand(ctx, device.Command{Payload: "play"}))
	assert.Equal(t, 1, w.RestartCount())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.statuses)
	assert.Equal(t, device.StatusBad, sink.statuses[0].Code)
	require.NotEmpty(t, sink.errs)
	assert.ErrorIs(t, sink.errs[0], ErrWorkerCrashed)
}

func TestWorker_CallTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CallTimeout = 50 * time.Millisecond
	w, _, _ := setupWorker(t, cfg)

	start := time.Now()
	state := timeline.ResolvedState{Layers: map[string]timeline.ResolvedInstance{"hang": {ObjectID: "a"}}}
	_, err := w.ConvertTimelineStateToDeviceState(state, nil)
	assert.ErrorIs(t, err, ErrCallTimeout)
	assert.Less(t, time.Since(start), time.Second)

	// The actor is still busy, so status reports bad rather than blocking.
	assert.Equal(t, device.StatusBad, w.GetStatus().Code)
}

func TestWorker_SlowSendDoesNotBlockConversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CallTimeout = 50 * time.Millisecond
	w, _, _ := setupWorker(t, cfg)

	err := w.SendCommand(context.Background(), device.Command{Payload: "hang"})
	assert.ErrorIs(t, err, ErrCallTimeout)

	state := timeline.ResolvedState{Layers: map[string]timeline.ResolvedInstance{"L0": {ObjectID: "a"}}}
	ds, err := w.ConvertTimelineStateToDeviceState(state, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ds)
	assert.Equal(t, device.StatusGood, w.GetStatus().Code)
}

func TestWorker_SendsRunConcurrently(t *testing.T) {
	dev := &mockDevice{gate: make(chan struct{})}
	w := New("dev0", func() (device.Device, error) { return dev, nil }, DefaultConfig())
	require.NoError(t, w.Init(context.Background(), nil))
	defer func() { _ = w.Terminate(context.Background()) }()

	errs := make(chan error, 3)
	for range 3 {
		go func() {
			errs <- w.SendCommand(context.Background(), device.Command{Payload: "gate"})
		}()
	}

	// All three are inside the device at once before any is released.
	require.Eventually(t, func() bool {
		return dev.inflight.Load() == 3
	}, time.Second, 2*time.Millisecond)
	close(dev.gate)

	for range 3 {
		require.NoError(t, <-errs)
	}
	dev.mu.Lock()
	assert.Len(t, dev.sent, 3)
	dev.mu.Unlock()
}

func TestWorker_ActionHandlerRunsAlongsideSend(t *testing.T) {
	dev := &mockDevice{gate: make(chan struct{})}
	w := New("dev0", func() (device.Device, error) { return dev, nil }, DefaultConfig())
	require.NoError(t, w.Init(context.Background(), nil))
	defer func() {
		close(dev.gate)
		_ = w.Terminate(context.Background())
	}()

	go func() { _ = w.SendCommand(context.Background(), device.Command{Payload: "gate"}) }()
	require.Eventually(t, func() bool { return dev.inflight.Load() == 1 }, time.Second, 2*time.Millisecond)

	res, err := w.Actions()["ping"].Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Message)
}

func TestWorker_MaxRestartAttempts(t *testing.T) {
	var created atomic.Int32
	cfg := DefaultConfig()
	cfg.RestartDelay = 5 * time.Millisecond
	cfg.MaxRestartAttempts = 2

	w := New("dev0", func() (device.Device, error) {
		if created.Add(1) > 1 {
			return nil, errors.New("device unreachable")
		}
		return &mockDevice{}, nil
	}, cfg)
	require.NoError(t, w.Init(context.Background(), nil))
	defer func() { _ = w.Terminate(context.Background()) }()

	_ = w.SendCommand(context.Background(), device.Command{Payload: "boom"})

	require.Eventually(t, func() bool {
		return w.Status() == StatusFailed && w.RestartCount() == 3
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, w.SendCommand(context.Background(), device.Command{Payload: "play"}), ErrWorkerRestarting)
	assert.Equal(t, int32(3), created.Load())
}

func TestWorker_Terminate(t *testing.T) {
	dev := &mockDevice{}
	var stopped atomic.Bool
	cfg := DefaultConfig()
	cfg.OnStop = func(err error) { stopped.Store(err == nil) }

	w := New("dev0", func() (device.Device, error) { return dev, nil }, cfg)
	require.NoError(t, w.Init(context.Background(), nil))
	require.NoError(t, w.Terminate(context.Background()))

	assert.Equal(t, StatusStopped, w.Status())
	assert.True(t, stopped.Load())
	dev.mu.Lock()
	assert.True(t, dev.terminated)
	dev.mu.Unlock()

	assert.ErrorIs(t, w.SendCommand(context.Background(), device.Command{Payload: "play"}), ErrWorkerStopped)
	assert.NoError(t, w.Terminate(context.Background()), "second Terminate is a no-op")
}

func TestWorker_InitFailure(t *testing.T) {
	w := New("dev0", func() (device.Device, error) {
		return nil, errors.New("no such host")
	}, DefaultConfig())

	err := w.Init(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, w.Status())
	assert.Equal(t, "no such host", errors.Unwrap(err).Error())
}

package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/conductor/internal/clock"
	"github.com/nerrad567/conductor/internal/device"
	"github.com/nerrad567/conductor/internal/timeline"
)

// Status represents the current state of a worker.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Config holds supervision settings.
type Config struct {
	// RestartOnFailure enables automatic restart after a crash.
	RestartOnFailure bool

	// RestartDelay is the time to wait before restarting after a crash.
	RestartDelay time.Duration

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int

	// CallTimeout bounds every call into the actor.
	CallTimeout time.Duration

	// Clock times restart delays. Defaults to the real clock.
	Clock clock.Clock

	// OnStop is called when an actor stops, with the crash error or nil.
	OnStop func(err error)

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RestartOnFailure:   true,
		RestartDelay:       time.Second,
		MaxRestartAttempts: 10,
		CallTimeout:        5 * time.Second,
	}
}

// Logger defines the logging interface for the worker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// FactoryFunc creates a fresh device for each actor incarnation.
type FactoryFunc func() (device.Device, error)

type request struct {
	fn    func(dev device.Device) error
	reply chan error

	// concurrent requests run on their own goroutine so a slow send does
	// not hold up conversions queued behind it.
	concurrent bool
}

// incarnation is one running actor.
type incarnation struct {
	inbox  chan request
	quit   chan struct{}
	dead   chan struct{}
	panics chan error // first panic from a concurrent request
	crash  error      // set before dead is closed
}

// Worker is a supervised device actor. It implements device.Device.
type Worker struct {
	name    string
	factory FactoryFunc
	config  Config
	logger  Logger

	mu            sync.RWMutex
	current       *incarnation
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	sink          device.EventSink

	done   chan struct{}
	cancel context.CancelFunc
}

var _ device.Device = (*Worker)(nil)

// New creates a worker. The device is not created until Init.
func New(name string, factory FactoryFunc, cfg Config) *Worker {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	return &Worker{
		name:    name,
		factory: factory,
		config:  cfg,
		logger:  noopLogger{},
		status:  StatusStopped,
		sink:    device.NopSink{},
	}
}

// SetLogger sets the logger for the worker.
func (w *Worker) SetLogger(logger Logger) {
	w.logger = logger
}

// Init creates the device, starts its actor, initialises the device and
// begins supervision.
func (w *Worker) Init(ctx context.Context, sink device.EventSink) error {
	w.mu.Lock()
	if w.status == StatusRunning || w.status == StatusStarting {
		w.mu.Unlock()
		return nil
	}
	if sink != nil {
		w.sink = sink
	}
	w.status = StatusStarting
	w.stopRequested = false
	w.mu.Unlock()

	if err := w.startIncarnation(ctx); err != nil {
		w.mu.Lock()
		w.status = StatusFailed
		w.lastError = err
		w.mu.Unlock()
		return err
	}

	superviseCtx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.done = make(chan struct{})
	w.cancel = cancel
	w.mu.Unlock()

	go w.monitor(superviseCtx)
	return nil
}

// startIncarnation creates the device, spawns its actor and runs Init
// inside it.
func (w *Worker) startIncarnation(ctx context.Context) error {
	dev, err := w.factory()
	if err != nil {
		return fmt.Errorf("creating device %s: %w", w.name, err)
	}

	inc := &incarnation{
		inbox:  make(chan request),
		quit:   make(chan struct{}),
		dead:   make(chan struct{}),
		panics: make(chan error, 1),
	}
	go inc.run(dev)

	w.mu.Lock()
	w.current = inc
	sink := w.sink
	w.mu.Unlock()

	if err := w.callOn(ctx, inc, request{fn: func(d device.Device) error { return d.Init(ctx, sink) }}); err != nil {
		close(inc.quit)
		return fmt.Errorf("initialising device %s: %w", w.name, err)
	}

	w.mu.Lock()
	w.status = StatusRunning
	w.startTime = time.Now()
	w.mu.Unlock()

	w.logger.Info("device worker started", "device_id", w.name)
	return nil
}

// run is the actor loop. A panic in device code ends the incarnation and
// is delivered to the request that caused it. Concurrent requests are
// started and left to reply on their own.
func (inc *incarnation) run(dev device.Device) {
	var active *request
	defer func() {
		if r := recover(); r != nil {
			inc.crash = fmt.Errorf("%w: %v", ErrWorkerCrashed, r)
			if active != nil {
				active.reply <- inc.crash
			}
		}
		close(inc.dead)
	}()

	for {
		select {
		case <-inc.quit:
			return
		case err := <-inc.panics:
			inc.crash = err
			return
		case req := <-inc.inbox:
			if req.concurrent {
				go inc.runConcurrent(dev, req)
				continue
			}
			active = &req
			req.reply <- req.fn(dev)
			active = nil
		}
	}
}

// runConcurrent runs one concurrent request. A panic is replied to the
// caller and then ends the incarnation like a panic in the loop would.
func (inc *incarnation) runConcurrent(dev device.Device, req request) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrWorkerCrashed, r)
			req.reply <- err
			select {
			case inc.panics <- err:
			default:
			}
		}
	}()
	req.reply <- req.fn(dev)
}

// monitor watches the actor and handles restarts.
func (w *Worker) monitor(ctx context.Context) {
	w.mu.RLock()
	done := w.done
	w.mu.RUnlock()
	defer close(done)

	for {
		w.mu.RLock()
		inc := w.current
		w.mu.RUnlock()

		if inc == nil {
			return
		}

		select {
		case <-inc.dead:
		case <-ctx.Done():
			return
		}

		w.mu.Lock()
		stopRequested := w.stopRequested
		w.mu.Unlock()

		if stopRequested {
			w.mu.Lock()
			w.status = StatusStopped
			w.mu.Unlock()
			if w.config.OnStop != nil {
				w.config.OnStop(nil)
			}
			return
		}

		err := inc.crash
		w.logger.Warn("device worker crashed", "device_id", w.name, "error", err)

		w.mu.Lock()
		w.lastError = err
		w.status = StatusFailed
		sink := w.sink
		w.mu.Unlock()

		sink.Error("device worker "+w.name, err)
		sink.ConnectionChanged(device.Status{Code: device.StatusBad, Messages: []string{err.Error()}})
		if w.config.OnStop != nil {
			w.config.OnStop(err)
		}

		if !w.restart(ctx) {
			return
		}
	}
}

// restart recreates the actor, retrying until it succeeds, the attempt
// limit is reached or the worker stops.
func (w *Worker) restart(ctx context.Context) bool {
	for {
		if !w.config.RestartOnFailure {
			w.logger.Info("restart disabled, not restarting", "device_id", w.name)
			return false
		}

		w.mu.Lock()
		w.restartCount++
		attempt := w.restartCount
		w.mu.Unlock()

		if w.config.MaxRestartAttempts > 0 && attempt > w.config.MaxRestartAttempts {
			w.logger.Error("max restart attempts reached", "device_id", w.name, "attempts", attempt)
			return false
		}

		w.logger.Info("restarting device worker",
			"device_id", w.name,
			"attempt", attempt,
			"delay", w.config.RestartDelay,
		)
		if w.config.OnRestart != nil {
			w.config.OnRestart(attempt)
		}

		select {
		case <-ctx.Done():
			return false
		case <-w.config.Clock.After(w.config.RestartDelay):
		}

		w.mu.Lock()
		if w.stopRequested {
			w.mu.Unlock()
			return false
		}
		w.status = StatusStarting
		w.mu.Unlock()

		if err := w.startIncarnation(ctx); err != nil {
			w.logger.Error("failed to restart device worker", "device_id", w.name, "error", err)
			w.mu.Lock()
			w.lastError = err
			w.status = StatusFailed
			w.mu.Unlock()
			continue
		}
		return true
	}
}

// Terminate terminates the device and stops supervision.
func (w *Worker) Terminate(ctx context.Context) error {
	w.mu.Lock()
	if w.stopRequested || w.current == nil {
		w.stopRequested = true
		w.status = StatusStopped
		w.mu.Unlock()
		return nil
	}
	w.stopRequested = true
	inc := w.current
	done := w.done
	cancel := w.cancel
	w.mu.Unlock()

	err := w.callOn(ctx, inc, request{fn: func(d device.Device) error { return d.Terminate(ctx) }})

	select {
	case <-inc.quit:
	default:
		close(inc.quit)
	}
	select {
	case <-inc.dead:
	case <-ctx.Done():
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			cancel()
		}
	}

	w.mu.Lock()
	w.status = StatusStopped
	w.mu.Unlock()

	w.logger.Info("device worker stopped", "device_id", w.name)
	return err
}

// call runs fn on the current actor, after any request ahead of it.
func (w *Worker) call(ctx context.Context, fn func(d device.Device) error) error {
	return w.dispatch(ctx, request{fn: fn})
}

// callConcurrent runs fn against the current actor's device without
// waiting for, or holding up, the actor's other requests.
func (w *Worker) callConcurrent(ctx context.Context, fn func(d device.Device) error) error {
	return w.dispatch(ctx, request{fn: fn, concurrent: true})
}

func (w *Worker) dispatch(ctx context.Context, req request) error {
	w.mu.RLock()
	inc, status, stopped := w.current, w.status, w.stopRequested
	w.mu.RUnlock()

	if stopped {
		return ErrWorkerStopped
	}
	if inc == nil || status != StatusRunning {
		return ErrWorkerRestarting
	}
	return w.callOn(ctx, inc, req)
}

func (w *Worker) callOn(ctx context.Context, inc *incarnation, req request) error {
	ctx, cancel := context.WithTimeout(ctx, w.config.CallTimeout)
	defer cancel()

	req.reply = make(chan error, 1)

	select {
	case inc.inbox <- req:
	case <-inc.dead:
		return ErrWorkerRestarting
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", ErrCallTimeout, w.name)
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", ErrCallTimeout, w.name)
	}
}

// ConvertTimelineStateToDeviceState runs the conversion inside the actor.
func (w *Worker) ConvertTimelineStateToDeviceState(state timeline.ResolvedState, mappings timeline.Mappings) (device.State, error) {
	var out device.State
	err := w.call(context.Background(), func(d device.Device) error {
		var err error
		out, err = d.ConvertTimelineStateToDeviceState(state, mappings)
		return err
	})
	return out, err
}

// DiffStates runs the diff inside the actor.
func (w *Worker) DiffStates(oldState, newState device.State, mappings timeline.Mappings) ([]device.Command, error) {
	var out []device.Command
	err := w.call(context.Background(), func(d device.Device) error {
		var err error
		out, err = d.DiffStates(oldState, newState, mappings)
		return err
	})
	return out, err
}

// SendCommand sends a command on the actor's device. Sends run alongside
// each other and alongside conversions, so salvo commands stay parallel.
func (w *Worker) SendCommand(ctx context.Context, cmd device.Command) error {
	return w.callConcurrent(ctx, func(d device.Device) error { return d.SendCommand(ctx, cmd) })
}

// GetStatus reports the device status, or bad while the actor is down.
func (w *Worker) GetStatus() device.Status {
	var status device.Status
	err := w.call(context.Background(), func(d device.Device) error {
		status = d.GetStatus()
		return nil
	})
	if err != nil {
		return device.Status{Code: device.StatusBad, Messages: []string{err.Error()}}
	}
	return status
}

// Actions returns the device's actions with handlers that run under the
// actor's supervision, outside its serial loop.
func (w *Worker) Actions() map[string]device.Action {
	var actions map[string]device.Action
	if err := w.call(context.Background(), func(d device.Device) error {
		actions = d.Actions()
		return nil
	}); err != nil {
		return nil
	}

	out := make(map[string]device.Action, len(actions))
	for id, action := range actions {
		handler := action.Handler
		action.Handler = func(ctx context.Context, payload map[string]any) (device.ActionResult, error) {
			var res device.ActionResult
			err := w.callConcurrent(ctx, func(device.Device) error {
				var err error
				res, err = handler(ctx, payload)
				return err
			})
			return res, err
		}
		out[id] = action
	}
	return out
}

// MakeReady forwards to the device.
func (w *Worker) MakeReady(ctx context.Context, okToDestroyStuff bool) error {
	return w.call(ctx, func(d device.Device) error { return d.MakeReady(ctx, okToDestroyStuff) })
}

// ClearFuture forwards to the device.
func (w *Worker) ClearFuture(ctx context.Context) error {
	return w.call(ctx, func(d device.Device) error { return d.ClearFuture(ctx) })
}

// Status returns the supervision status.
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// RestartCount returns the number of restart attempts.
func (w *Worker) RestartCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.restartCount
}

// Stats returns statistics about the worker.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the worker.
func (w *Worker) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := Stats{
		Name:         w.name,
		Status:       w.status,
		RestartCount: w.restartCount,
	}
	if w.status == StatusRunning {
		stats.Uptime = time.Since(w.startTime)
	}
	if w.lastError != nil {
		stats.LastError = w.lastError.Error()
	}
	return stats
}

package conductor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/conductor/internal/device"
	"github.com/nerrad567/conductor/internal/events"
	"github.com/nerrad567/conductor/internal/executor"
	"github.com/nerrad567/conductor/internal/pipeline"
	"github.com/nerrad567/conductor/internal/worker"
)

// connection is one added device with its pipeline.
type connection struct {
	id       string
	opts     device.Options
	isolated bool
	dev      device.Device
	worker   *worker.Worker // nil unless isolated
	pipeline *pipeline.Pipeline

	mu       sync.Mutex
	lastSent []sentState
}

func (conn *connection) resetSent() {
	conn.mu.Lock()
	conn.lastSent = nil
	conn.mu.Unlock()
}

func (conn *connection) close(ctx context.Context) error {
	var errs []error
	if err := conn.pipeline.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping pipeline of %s: %w", conn.id, err))
	}
	if err := conn.dev.Terminate(ctx); err != nil {
		errs = append(errs, fmt.Errorf("terminating %s: %w", conn.id, err))
	}
	return errors.Join(errs...)
}

// deviceSink forwards device notifications to the bus.
type deviceSink struct {
	c  *Conductor
	id string
}

func (s deviceSink) ConnectionChanged(status device.Status) {
	s.c.bus.Publish(events.ConnectionChanged, ConnectionPayload{DeviceID: s.id, Status: status})
	if !status.Connected() {
		s.c.logger.Warn("device disconnected",
			"device_id", s.id,
			"status", status.Code.String(),
			"messages", status.Messages,
		)
	}
}

func (s deviceSink) Warning(msg string) {
	s.c.publishWarning(s.id, msg)
}

func (s deviceSink) Error(where string, err error) {
	s.c.reportError(where, s.id, err)
}

// AddDevice creates, initialises and starts a device. An empty opts.ID is
// replaced with a generated one, which is returned.
func (c *Conductor) AddDevice(ctx context.Context, opts device.Options) (string, error) {
	if opts.ID == "" {
		opts.ID = device.GenerateID()
	}
	id := opts.ID

	factory, err := c.opts.Factories.Lookup(opts.Type)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if _, exists := c.devices[id]; exists {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDeviceExists, id)
	}
	c.devices[id] = nil
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.devices, id)
		c.mu.Unlock()
	}

	isolated := c.opts.Isolated
	if opts.Isolated != nil {
		isolated = *opts.Isolated
	}
	conn := &connection{id: id, opts: opts, isolated: isolated}

	settings := opts.Settings
	if isolated {
		cfg := c.opts.Worker
		cfg.OnRestart = func(attempt int) {
			c.publishWarning(id, fmt.Sprintf("restarting device worker (attempt %d)", attempt))
		}
		cfg.OnStop = func(err error) {
			if err != nil {
				c.reportError("worker", id, &ConnectionError{DeviceID: id, Err: err})
			}
		}
		w := worker.New(id, func() (device.Device, error) { return factory(id, settings) }, cfg)
		w.SetLogger(c.logger)
		conn.worker = w
		conn.dev = w
	} else {
		dev, err := factory(id, settings)
		if err != nil {
			release()
			return "", fmt.Errorf("creating device %s: %w", id, err)
		}
		conn.dev = dev
	}

	if err := conn.dev.Init(ctx, deviceSink{c: c, id: id}); err != nil {
		release()
		cerr := &ConnectionError{DeviceID: id, Err: err}
		c.reportError("init", id, cerr)
		return "", cerr
	}

	conn.pipeline = pipeline.New(pipeline.Config{
		DeviceID:     id,
		Device:       conn.dev,
		Clock:        c.clock,
		TickInterval: c.opts.TickInterval,
		Logger:       c.logger,
		OnConvertError: func(t int64, err error) {
			c.reportError("convert", id, &ConvertError{DeviceID: id, StateTime: t, Err: err})
		},
		OnDiffError: func(t int64, err error) {
			c.reportError("diff", id, &DiffError{DeviceID: id, StateTime: t, Err: err})
		},
		OnCommandResult: c.commandResult(id),
		OnApplied: func(t int64, commands int) {
			c.logger.Debug("state applied", "device_id", id, "time", t, "commands", commands)
		},
	})
	conn.pipeline.Start()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.close(ctx) //nolint:errcheck // best-effort cleanup after a concurrent Close
		return "", ErrClosed
	}
	c.devices[id] = conn
	n := len(c.devices)
	c.mu.Unlock()

	c.opts.Metrics.DevicesConnected(n)
	c.logger.Info("device added", "device_id", id, "type", opts.Type, "isolated", isolated)
	c.bus.Publish(events.DeviceAdded, DevicePayload{DeviceID: id, Type: opts.Type})
	c.TriggerResolve()
	return id, nil
}

// RemoveDevice stops and terminates a device.
func (c *Conductor) RemoveDevice(ctx context.Context, id string) error {
	c.mu.Lock()
	conn := c.devices[id]
	if conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(c.devices, id)
	n := len(c.devices)
	c.mu.Unlock()

	err := conn.close(ctx)
	c.opts.Metrics.DevicesConnected(n)
	c.logger.Info("device removed", "device_id", id)
	c.bus.Publish(events.DeviceRemoved, DevicePayload{DeviceID: id, Type: conn.opts.Type})
	return err
}

// DevicesMakeReady asks every device to prepare for a show, concurrently.
// One device failing does not stop the others; all failures are returned
// joined. With okToDestroyStuff, pipelines forget their baseline and the
// next resolve re-sends everything.
func (c *Conductor) DevicesMakeReady(ctx context.Context, okToDestroyStuff bool) error {
	conns := c.connectionList()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, conn := range conns {
		g.Go(func() error {
			if err := safeMakeReady(ctx, conn.dev, okToDestroyStuff); err != nil {
				err = fmt.Errorf("device %s: make ready: %w", conn.id, err)
				c.reportError("makeReady", conn.id, err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			if okToDestroyStuff {
				conn.pipeline.SetCurrentState(nil)
				conn.resetSent()
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines collect their own errors

	c.TriggerResolve()
	return errors.Join(errs...)
}

// ExecuteAction runs a named device action.
func (c *Conductor) ExecuteAction(ctx context.Context, deviceID, actionID string, payload map[string]any) (device.ActionResult, error) {
	conn, err := c.connection(deviceID)
	if err != nil {
		return device.ActionResult{}, fmt.Errorf("%w: %s", err, deviceID)
	}

	action, ok := conn.dev.Actions()[actionID]
	if !ok || action.Handler == nil {
		return device.ActionResult{}, fmt.Errorf("%w: %s", device.ErrActionNotFound, actionID)
	}
	return safeAction(ctx, action.Handler, payload)
}

// ClearFuture asks a device to discard commands it has queued itself.
func (c *Conductor) ClearFuture(ctx context.Context, deviceID string) error {
	conn, err := c.connection(deviceID)
	if err != nil {
		return fmt.Errorf("%w: %s", err, deviceID)
	}
	return conn.dev.ClearFuture(ctx)
}

// DeviceStatuses returns every device's status, ordered by id.
func (c *Conductor) DeviceStatuses() []DeviceInfo {
	conns := c.connectionList()
	out := make([]DeviceInfo, 0, len(conns))
	for _, conn := range conns {
		info := DeviceInfo{
			ID:       conn.id,
			Type:     conn.opts.Type,
			Isolated: conn.isolated,
			Status:   conn.dev.GetStatus(),
			Pipeline: conn.pipeline.Stats(),
		}
		if conn.worker != nil {
			stats := conn.worker.Stats()
			info.Worker = &stats
		}
		out = append(out, info)
	}
	return out
}

// DeviceStatus returns one device's status.
func (c *Conductor) DeviceStatus(id string) (DeviceInfo, error) {
	for _, info := range c.DeviceStatuses() {
		if info.ID == id {
			return info, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// Actions lists the actions a device exposes.
func (c *Conductor) Actions(deviceID string) ([]device.Action, error) {
	conn, err := c.connection(deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, deviceID)
	}
	actions := conn.dev.Actions()
	out := make([]device.Action, 0, len(actions))
	for _, a := range actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Conductor) commandResult(deviceID string) executor.ResultFunc {
	return func(cmd executor.Command, err error, d time.Duration) {
		c.opts.Metrics.CommandCompleted(deviceID, d, err)
		c.opts.Telemetry.RecordCommand(deviceID, cmd, d, err)

		payload := CommandPayload{
			DeviceID:      deviceID,
			CommandID:     cmd.ID,
			Context:       cmd.Context,
			TimelineObjID: cmd.TimelineObjID,
			Mode:          string(cmd.Mode),
			QueueID:       cmd.QueueID,
			Payload:       cmd.Payload,
			DurationMs:    d.Milliseconds(),
		}
		if err != nil {
			cerr := &CommandError{
				DeviceID:      deviceID,
				CommandID:     cmd.ID,
				Context:       cmd.Context,
				TimelineObjID: cmd.TimelineObjID,
				Err:           err,
			}
			payload.Error = cerr.Error()
			c.bus.Publish(events.CommandError, payload)
			c.reportError("command", deviceID, cerr)
			return
		}
		c.bus.Publish(events.CommandReport, payload)
	}
}

func safeMakeReady(ctx context.Context, dev device.Device, ok bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return dev.MakeReady(ctx, ok)
}

func safeAction(ctx context.Context, h device.ActionHandler, payload map[string]any) (res device.ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()
	return h(ctx, payload)
}

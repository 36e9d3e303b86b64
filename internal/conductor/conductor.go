package conductor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/conductor/internal/clock"
	"github.com/nerrad567/conductor/internal/events"
	"github.com/nerrad567/conductor/internal/timeline"
)

// Conductor resolves a timeline and feeds the result to device pipelines.
type Conductor struct {
	opts   Options
	clock  clock.Clock
	bus    *events.Bus
	ownBus bool
	logger Logger

	mu              sync.Mutex
	objects         []timeline.Object
	mappings        timeline.Mappings
	devices         map[string]*connection // nil value while a device is being added
	boundNow        map[string]int64
	activeCallbacks map[string]activeCallback
	closed          bool

	// resolveMu serialises resolve passes.
	resolveMu sync.Mutex

	loopMu   sync.Mutex
	running  bool
	timer    *clock.Timer
	requests chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a conductor. Call Start to begin the resolve loop.
func New(opts Options) *Conductor {
	opts.withDefaults()

	c := &Conductor{
		opts:            opts,
		clock:           opts.Clock,
		bus:             opts.Bus,
		logger:          opts.Logger,
		mappings:        make(timeline.Mappings),
		devices:         make(map[string]*connection),
		boundNow:        make(map[string]int64),
		activeCallbacks: make(map[string]activeCallback),
		requests:        make(chan struct{}, 1),
	}
	if c.bus == nil {
		c.bus = events.NewBus(0)
		c.bus.SetTimeSource(c.clock.Now)
		c.ownBus = true
	}
	return c
}

// Events returns the bus the conductor publishes to.
func (c *Conductor) Events() *events.Bus {
	return c.bus
}

// Start runs the resolve loop until ctx is cancelled or Close is called.
// A first resolve is requested immediately.
func (c *Conductor) Start(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	c.loopMu.Lock()
	if c.running {
		c.loopMu.Unlock()
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.wg.Add(1)
	go c.loop(loopCtx)
	c.loopMu.Unlock()

	c.logger.Info("conductor started",
		"devices", len(c.connectionList()),
		"lookahead_horizon", c.opts.LookaheadHorizon,
	)
	c.TriggerResolve()
	return nil
}

// Close stops the resolve loop and terminates every device.
func (c *Conductor) Close(ctx context.Context) error {
	c.loopMu.Lock()
	if c.running {
		c.running = false
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.cancel()
	}
	c.loopMu.Unlock()
	c.wg.Wait()

	c.resolveMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.resolveMu.Unlock()
		return nil
	}
	c.closed = true
	conns := c.connectionListLocked()
	c.devices = make(map[string]*connection)
	c.mu.Unlock()
	c.resolveMu.Unlock()

	var errs []error
	for _, conn := range conns {
		if err := conn.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.opts.Metrics.DevicesConnected(0)

	if c.ownBus {
		c.bus.Close()
	}
	c.logger.Info("conductor stopped")
	return errors.Join(errs...)
}

// SetTimelineAndMappings replaces the timeline and, when mappings is not
// nil, the mappings, then requests a resolve. The objects are copied; the
// caller's slice is never modified.
func (c *Conductor) SetTimelineAndMappings(objects []timeline.Object, mappings timeline.Mappings) {
	copied := make([]timeline.Object, len(objects))
	for i := range objects {
		copied[i] = objects[i].Clone()
	}

	c.mu.Lock()
	c.objects = copied
	if mappings != nil {
		m := make(timeline.Mappings, len(mappings))
		for layer, mapping := range mappings {
			m[layer] = mapping
		}
		c.mappings = m
	}
	c.mu.Unlock()

	c.TriggerResolve()
}

// Timeline returns a copy of the current timeline.
func (c *Conductor) Timeline() []timeline.Object {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]timeline.Object, len(c.objects))
	for i := range c.objects {
		out[i] = c.objects[i].Clone()
	}
	return out
}

// Mappings returns a copy of the current mappings.
func (c *Conductor) Mappings() timeline.Mappings {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(timeline.Mappings, len(c.mappings))
	for layer, mapping := range c.mappings {
		out[layer] = mapping
	}
	return out
}

// TriggerResolve requests a resolve at the current time. Requests made
// while a pass is running collapse into one follow-up pass.
func (c *Conductor) TriggerResolve() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

func (c *Conductor) loop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.requests:
		}

		now := clock.NowMillis(c.clock)
		result, err := c.Resolve(now)
		if errors.Is(err, ErrClosed) {
			return
		}

		delay := c.opts.MaxResolveTime
		if err == nil && result.NextEventTime > 0 {
			ms := calculateResolveTime(result.NextEventTime-now, c.opts.ResolveWeight,
				c.opts.MinResolveTime.Milliseconds(), c.opts.MaxResolveTime.Milliseconds())
			delay = time.Duration(ms) * time.Millisecond
		}
		c.arm(delay)
	}
}

// arm replaces the pending resolve timer.
func (c *Conductor) arm(d time.Duration) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if !c.running {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clock.AfterFunc(d, c.TriggerResolve)
}

func (c *Conductor) connectionList() []*connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionListLocked()
}

func (c *Conductor) connectionListLocked() []*connection {
	conns := make([]*connection, 0, len(c.devices))
	for _, conn := range c.devices {
		if conn != nil {
			conns = append(conns, conn)
		}
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	return conns
}

func (c *Conductor) connection(id string) (*connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn := c.devices[id]
	if conn == nil {
		return nil, ErrDeviceNotFound
	}
	return conn, nil
}

func (c *Conductor) reportError(where, deviceID string, err error) {
	c.logger.Error("conductor error",
		"context", where,
		"device_id", deviceID,
		"error", err,
	)
	c.bus.Publish(events.Error, ErrorPayload{
		DeviceID: deviceID,
		Context:  where,
		Message:  err.Error(),
		Err:      err,
	})
}

func (c *Conductor) publishWarning(deviceID, msg string) {
	c.logger.Warn(msg, "device_id", deviceID)
	c.bus.Publish(events.Warning, MessagePayload{DeviceID: deviceID, Message: msg})
}

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/conductor/internal/clock"
	"github.com/nerrad567/conductor/internal/device"
	"github.com/nerrad567/conductor/internal/executor"
	"github.com/nerrad567/conductor/internal/timeline"
)

// DefaultTickInterval bounds scheduling precision. It is not a real-time
// guarantee.
const DefaultTickInterval = 20 * time.Millisecond

// Logger defines the logging interface used by the pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds pipeline dependencies and callbacks. Callbacks may be nil.
type Config struct {
	DeviceID string
	Device   device.Device

	Clock        clock.Clock
	TickInterval time.Duration
	Logger       Logger

	// OnConvertError is called when a state cannot be converted. The
	// state is dropped.
	OnConvertError func(stateTime int64, err error)

	// OnDiffError is called when diffing fails. The transition proceeds
	// with no commands.
	OnDiffError func(stateTime int64, err error)

	// OnCommandResult receives every command outcome.
	OnCommandResult executor.ResultFunc

	// OnApplied is called after a state becomes the baseline.
	OnApplied func(stateTime int64, commands int)
}

type entry struct {
	state       timeline.ResolvedState
	deviceState device.State
	mappings    timeline.Mappings
	commands    []device.Command
	computed    bool
}

// Stats is a snapshot of pipeline state.
type Stats struct {
	QueueLength  int     `json:"queue_length"`
	Executing    bool    `json:"executing"`
	LastExecuted int64   `json:"last_executed"`
	Queued       []int64 `json:"queued,omitempty"`
}

// Pipeline is the future-state queue of one device.
type Pipeline struct {
	cfg  Config
	exec *executor.Executor

	mu           sync.Mutex
	queue        []*entry
	current      *entry // nil while a transition is executing
	pendingBase  *entry // installed by SetCurrentState during a transition
	executing    bool
	lastExecuted int64
	stopped      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline with an empty baseline.
func New(cfg Config) *Pipeline {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:     cfg,
		current: &entry{},
		ctx:     ctx,
		cancel:  cancel,
	}
	p.exec = executor.New(executor.Config{
		Send:     cfg.Device.SendCommand,
		OnResult: cfg.OnCommandResult,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
	})
	return p
}

// Start runs the periodic tick until Stop is called.
func (p *Pipeline) Start() {
	ticker := p.cfg.Clock.NewTicker(p.cfg.TickInterval)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.calculateNextStateChange()
			}
		}
	}()
}

// Stop halts the tick, abandons queued states and waits for in-flight
// commands until ctx is done.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.queue = nil
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	return p.exec.Close(ctx)
}

// HandleState queues a future state. Entries at or after its time are
// superseded.
func (p *Pipeline) HandleState(state timeline.ResolvedState, mappings timeline.Mappings) error {
	ds, err := safeConvert(p.cfg.Device, state, mappings)
	if err != nil {
		p.cfg.Logger.Warn("state conversion failed",
			"device_id", p.cfg.DeviceID,
			"time", state.Time,
			"error", err,
		)
		if p.cfg.OnConvertError != nil {
			p.cfg.OnConvertError(state.Time, err)
		}
		return err
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}

	keep := p.queue[:0]
	for _, e := range p.queue {
		if e.state.Time < state.Time {
			keep = append(keep, e)
		}
	}
	p.queue = append(keep, &entry{state: state, deviceState: ds, mappings: mappings})
	p.mu.Unlock()

	p.calculateNextStateChange()
	return nil
}

// ClearFutureAfterTimestamp drops queued states later than t. An
// execution in flight is not affected.
func (p *Pipeline) ClearFutureAfterTimestamp(t int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keep := p.queue[:0]
	for _, e := range p.queue {
		if e.state.Time <= t {
			keep = append(keep, e)
		}
	}
	for i := len(keep); i < len(p.queue); i++ {
		p.queue[i] = nil
	}
	p.queue = keep
}

// SetCurrentState installs a baseline without diffing. A nil state means
// nothing is applied, so the next transition is diffed from scratch. If a
// transition is executing, the baseline replaces its result when it
// finishes.
func (p *Pipeline) SetCurrentState(ds device.State) {
	p.mu.Lock()
	base := &entry{deviceState: ds, state: timeline.ResolvedState{Time: p.lastExecuted}}
	if p.current == nil {
		p.pendingBase = base
	} else {
		p.current = base
	}
	if len(p.queue) > 0 {
		p.queue[0].computed = false
		p.queue[0].commands = nil
	}
	p.mu.Unlock()

	p.calculateNextStateChange()
}

// Stats returns a snapshot of the queue.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		QueueLength:  len(p.queue),
		Executing:    p.executing,
		LastExecuted: p.lastExecuted,
	}
	for _, e := range p.queue {
		s.Queued = append(s.Queued, e.state.Time)
	}
	return s
}

// Drain waits until every dispatched command has completed.
func (p *Pipeline) Drain(ctx context.Context) error {
	return p.exec.Drain(ctx)
}

// calculateNextStateChange diffs the head entry if needed and starts an
// execution when it is due.
func (p *Pipeline) calculateNextStateChange() {
	p.mu.Lock()
	if p.stopped || p.executing || p.current == nil || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	head, base := p.queue[0], p.current
	computed := head.computed
	p.mu.Unlock()

	if !computed {
		cmds := p.diff(base, head)

		p.mu.Lock()
		if p.current != base || len(p.queue) == 0 || p.queue[0] != head {
			// Superseded while diffing; a later call recomputes.
			p.mu.Unlock()
			return
		}
		head.commands, head.computed = cmds, true
		p.mu.Unlock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.executing || p.current == nil || len(p.queue) == 0 || p.queue[0] != head || !p.isDue(head) {
		return
	}
	p.executing = true
	p.wg.Add(1)
	go p.executeNextStateChange()
}

// executeNextStateChange applies due head entries back to back. The
// caller has set p.executing.
func (p *Pipeline) executeNextStateChange() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		if p.stopped || p.current == nil || len(p.queue) == 0 {
			p.executing = false
			p.mu.Unlock()
			return
		}
		head, base := p.queue[0], p.current

		if !head.computed {
			p.mu.Unlock()
			cmds := p.diff(base, head)
			p.mu.Lock()
			if p.current != base || len(p.queue) == 0 || p.queue[0] != head {
				p.mu.Unlock()
				continue
			}
			head.commands, head.computed = cmds, true
		}

		if !p.isDue(head) {
			p.executing = false
			p.mu.Unlock()
			return
		}

		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.current = nil
		p.mu.Unlock()

		p.cfg.Logger.Debug("executing state change",
			"device_id", p.cfg.DeviceID,
			"time", head.state.Time,
			"commands", len(head.commands),
		)

		batch := p.exec.Execute(p.ctx, head.commands)
		if err := batch.WaitIssued(p.ctx); err != nil {
			p.cfg.Logger.Debug("state change interrupted", "device_id", p.cfg.DeviceID, "error", err)
		}

		p.mu.Lock()
		p.current = head
		if p.pendingBase != nil {
			p.current, p.pendingBase = p.pendingBase, nil
		}
		p.lastExecuted = head.state.Time
		if len(p.queue) > 0 {
			p.queue[0].computed = false
			p.queue[0].commands = nil
		}
		p.mu.Unlock()

		if p.cfg.OnApplied != nil {
			p.cfg.OnApplied(head.state.Time, len(head.commands))
		}
	}
}

// isDue reports whether e should start executing now. Caller holds p.mu.
func (p *Pipeline) isDue(e *entry) bool {
	lead := executor.MaxPreliminary(e.commands).Milliseconds()
	return e.state.Time-lead <= clock.NowMillis(p.cfg.Clock)
}

// diff computes the commands from base to head. Failures yield no
// commands.
func (p *Pipeline) diff(base, head *entry) []device.Command {
	cmds, err := safeDiff(p.cfg.Device, base.deviceState, head.deviceState, head.mappings)
	if err != nil {
		p.cfg.Logger.Warn("state diff failed",
			"device_id", p.cfg.DeviceID,
			"time", head.state.Time,
			"error", err,
		)
		if p.cfg.OnDiffError != nil {
			p.cfg.OnDiffError(head.state.Time, err)
		}
		return nil
	}
	return cmds
}

func safeConvert(dev device.Device, state timeline.ResolvedState, mappings timeline.Mappings) (ds device.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: convert: %v", ErrDevicePanic, r)
		}
	}()
	return dev.ConvertTimelineStateToDeviceState(state, mappings)
}

func safeDiff(dev device.Device, oldState, newState device.State, mappings timeline.Mappings) (cmds []device.Command, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: diff: %v", ErrDevicePanic, r)
		}
	}()
	return dev.DiffStates(oldState, newState, mappings)
}

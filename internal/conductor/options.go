package conductor

import (
	"time"

	"github.com/nerrad567/conductor/internal/clock"
	"github.com/nerrad567/conductor/internal/device"
	"github.com/nerrad567/conductor/internal/events"
	"github.com/nerrad567/conductor/internal/timeline"
	"github.com/nerrad567/conductor/internal/worker"
)

// Default scheduling parameters.
const (
	DefaultLookaheadHorizon   = 10 * time.Second
	DefaultMaxLookaheadStates = 10
)

// Logger defines the logging interface for the conductor.
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

// Metrics receives counters and gauges. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ResolveCompleted(d time.Duration, err error)
	StatesQueued(deviceID string, n int)
	CommandCompleted(deviceID string, d time.Duration, err error)
	DevicesConnected(n int)
}

type noopMetrics struct{}

func (noopMetrics) ResolveCompleted(time.Duration, error)         {}
func (noopMetrics) StatesQueued(string, int)                      {}
func (noopMetrics) CommandCompleted(string, time.Duration, error) {}
func (noopMetrics) DevicesConnected(int)                          {}

// Telemetry records per-event history, typically to a time-series store.
type Telemetry interface {
	RecordResolve(t int64, d time.Duration, states int, err error)
	RecordCommand(deviceID string, cmd device.Command, d time.Duration, err error)
}

type noopTelemetry struct{}

func (noopTelemetry) RecordResolve(int64, time.Duration, int, error)             {}
func (noopTelemetry) RecordCommand(string, device.Command, time.Duration, error) {}

// Options configures a Conductor. Zero values select defaults.
type Options struct {
	Clock     clock.Clock
	Resolver  timeline.Resolver
	Factories *device.Registry
	Bus       *events.Bus
	Logger    Logger
	Metrics   Metrics
	Telemetry Telemetry

	// Isolated runs every device in a supervised worker unless the
	// device's own options say otherwise.
	Isolated bool
	Worker   worker.Config

	// MinResolveTime and MaxResolveTime bound the re-check interval.
	MinResolveTime time.Duration
	MaxResolveTime time.Duration

	// ResolveWeight scales the re-check curve.
	ResolveWeight float64

	// LookaheadHorizon and MaxLookaheadStates bound how far ahead each
	// resolve queues states.
	LookaheadHorizon   time.Duration
	MaxLookaheadStates int

	// TickInterval is each pipeline's due-check period.
	TickInterval time.Duration
}

func (o *Options) withDefaults() {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Resolver == nil {
		o.Resolver = timeline.NewReferenceResolver()
	}
	if o.Factories == nil {
		o.Factories = device.NewRegistry()
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	if o.Metrics == nil {
		o.Metrics = noopMetrics{}
	}
	if o.Telemetry == nil {
		o.Telemetry = noopTelemetry{}
	}
	if o.Worker.CallTimeout == 0 && o.Worker.RestartDelay == 0 {
		o.Worker = worker.DefaultConfig()
	}
	if o.Worker.Clock == nil {
		o.Worker.Clock = o.Clock
	}
	if o.MinResolveTime <= 0 {
		o.MinResolveTime = time.Duration(MinResolveTime) * time.Millisecond
	}
	if o.MaxResolveTime <= 0 {
		o.MaxResolveTime = time.Duration(MaxResolveTime) * time.Millisecond
	}
	if o.MaxResolveTime < o.MinResolveTime {
		o.MaxResolveTime = o.MinResolveTime
	}
	if o.ResolveWeight <= 0 {
		o.ResolveWeight = 1
	}
	if o.LookaheadHorizon <= 0 {
		o.LookaheadHorizon = DefaultLookaheadHorizon
	}
	if o.MaxLookaheadStates <= 0 {
		o.MaxLookaheadStates = DefaultMaxLookaheadStates
	}
}

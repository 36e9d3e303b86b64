// Package abstract is a protocol-free device integration. It models a
// generic playout device with independently addressed targets: each
// mapped layer plays its active object on a target, and changes are
// expressed as stop and play commands.
//
// It is used for rehearsals without hardware and as the reference
// implementation of the device contract.
package abstract

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/conductor/internal/device"
	"github.com/nerrad567/conductor/internal/executor"
	"github.com/nerrad567/conductor/internal/timeline"
)

// DeviceType is the registry key of this integration.
const DeviceType = "abstract"

// Mapping options.
const (
	// OptionTarget names the output a layer plays on. Defaults to the
	// layer name.
	OptionTarget = "target"

	// OptionPreliminary is the command lead time in milliseconds.
	OptionPreliminary = "preliminary_ms"
)

// Command actions.
const (
	ActionPlay    = "play"
	ActionStop    = "stop"
	ActionPreload = "preload"
)

// TargetState is what plays on one target.
type TargetState struct {
	ObjectID string         `json:"object_id"`
	Layer    string         `json:"layer"`
	Target   string         `json:"target"`
	Content  map[string]any `json:"content,omitempty"`
}

// State is the abstract device's projection of a resolved state.
type State struct {
	// Targets maps target name to its foreground content.
	Targets map[string]TargetState `json:"targets"`

	// Preloads maps look-ahead layer name to previewed content.
	Preloads map[string]TargetState `json:"preloads,omitempty"`
}

// Payload is the body of every abstract command.
type Payload struct {
	Action   string         `json:"action"`
	Target   string         `json:"target"`
	ObjectID string         `json:"object_id,omitempty"`
	Content  map[string]any `json:"content,omitempty"`
}

// String renders the payload for logs.
func (p Payload) String() string {
	if p.ObjectID == "" {
		return p.Action + " " + p.Target
	}
	return fmt.Sprintf("%s %s %s", p.Action, p.Target, p.ObjectID)
}

// Device is the abstract integration.
type Device struct {
	id        string
	sendDelay time.Duration

	mu      sync.Mutex
	sink    device.EventSink
	history []Payload
	ready   int
}

var _ device.Device = (*Device)(nil)

// New creates an abstract device. The optional "send_delay_ms" setting
// simulates network latency.
func New(id string, settings map[string]any) *Device {
	delay := timeline.Mapping{Options: settings}.OptionInt("send_delay_ms", 0)
	return &Device{
		id:        id,
		sendDelay: time.Duration(delay) * time.Millisecond,
		sink:      device.NopSink{},
	}
}

// Factory adapts New to device.Factory.
func Factory(id string, settings map[string]any) (device.Device, error) {
	return New(id, settings), nil
}

// Init marks the device connected.
func (d *Device) Init(_ context.Context, sink device.EventSink) error {
	d.mu.Lock()
	if sink != nil {
		d.sink = sink
	}
	sink = d.sink
	d.mu.Unlock()

	sink.ConnectionChanged(d.GetStatus())
	return nil
}

// Terminate does nothing.
func (d *Device) Terminate(context.Context) error { return nil }

// ConvertTimelineStateToDeviceState maps each layer to its target.
func (d *Device) ConvertTimelineStateToDeviceState(state timeline.ResolvedState, mappings timeline.Mappings) (device.State, error) {
	out := State{
		Targets:  make(map[string]TargetState),
		Preloads: make(map[string]TargetState),
	}

	for layer, inst := range state.Layers {
		mapping, ok := mappings[inst.MappingLayer()]
		if !ok {
			continue
		}
		ts := TargetState{
			ObjectID: inst.ObjectID,
			Layer:    inst.MappingLayer(),
			Target:   mapping.OptionString(OptionTarget, inst.MappingLayer()),
			Content:  inst.Content,
		}
		if inst.IsLookahead {
			out.Preloads[layer] = ts
			continue
		}
		if existing, taken := out.Targets[ts.Target]; taken && existing.Layer < ts.Layer {
			// Two layers on one target: the lexically smaller layer wins
			// so the projection stays deterministic.
			continue
		}
		out.Targets[ts.Target] = ts
	}
	return out, nil
}

// DiffStates stops removed or changed targets, then plays new or changed
// ones, then preloads. All commands share the default sequential queue so
// a stop always precedes the play that replaces it.
func (d *Device) DiffStates(oldState, newState device.State, mappings timeline.Mappings) ([]device.Command, error) {
	var prev State
	if oldState != nil {
		var ok bool
		if prev, ok = oldState.(State); !ok {
			return nil, fmt.Errorf("%w: %T", device.ErrInvalidState, oldState)
		}
	}
	next, ok := newState.(State)
	if !ok {
		return nil, fmt.Errorf("%w: %T", device.ErrInvalidState, newState)
	}

	var stops, plays, preloads []device.Command

	for _, target := range sortedKeys(prev.Targets) {
		old := prev.Targets[target]
		cur, still := next.Targets[target]
		if still && sameContent(old, cur) {
			continue
		}
		stops = append(stops, d.command(Payload{Action: ActionStop, Target: target}, old, mappings,
			fmt.Sprintf("%s removed from %s", old.ObjectID, target)))
	}

	for _, target := range sortedKeys(next.Targets) {
		cur := next.Targets[target]
		if old, had := prev.Targets[target]; had && sameContent(old, cur) {
			continue
		}
		plays = append(plays, d.command(
			Payload{Action: ActionPlay, Target: target, ObjectID: cur.ObjectID, Content: cur.Content},
			cur, mappings, fmt.Sprintf("%s started on %s", cur.ObjectID, target)))
	}

	for _, layer := range sortedKeys(next.Preloads) {
		cur := next.Preloads[layer]
		if old, had := prev.Preloads[layer]; had && sameContent(old, cur) {
			continue
		}
		preloads = append(preloads, d.command(
			Payload{Action: ActionPreload, Target: cur.Target, ObjectID: cur.ObjectID, Content: cur.Content},
			cur, mappings, fmt.Sprintf("%s preloaded on %s", cur.ObjectID, cur.Target)))
	}

	cmds := make([]device.Command, 0, len(stops)+len(plays)+len(preloads))
	cmds = append(cmds, stops...)
	cmds = append(cmds, plays...)
	return append(cmds, preloads...), nil
}

func (d *Device) command(p Payload, ts TargetState, mappings timeline.Mappings, why string) device.Command {
	lead := mappings[ts.Layer].OptionInt(OptionPreliminary, 0)
	return device.Command{
		Payload:       p,
		Context:       why,
		TimelineObjID: ts.ObjectID,
		Mode:          executor.ModeSequential,
		Preliminary:   time.Duration(lead) * time.Millisecond,
	}
}

// SendCommand records the command.
func (d *Device) SendCommand(ctx context.Context, cmd device.Command) error {
	p, ok := cmd.Payload.(Payload)
	if !ok {
		return fmt.Errorf("%w: %T", device.ErrInvalidCommand, cmd.Payload)
	}

	if d.sendDelay > 0 {
		select {
		case <-time.After(d.sendDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	d.history = append(d.history, p)
	d.mu.Unlock()
	return nil
}

// History returns every command sent so far.
func (d *Device) History() []Payload {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Payload, len(d.history))
	copy(out, d.history)
	return out
}

// GetStatus always reports good.
func (d *Device) GetStatus() device.Status {
	return device.Status{Code: device.StatusGood, Active: true}
}

// Actions exposes a history reset.
func (d *Device) Actions() map[string]device.Action {
	return map[string]device.Action{
		"clearHistory": {
			ID:          "clearHistory",
			Name:        "Clear history",
			Description: "Forget the commands sent so far",
			Handler: func(context.Context, map[string]any) (device.ActionResult, error) {
				d.mu.Lock()
				n := len(d.history)
				d.history = nil
				d.mu.Unlock()
				return device.ActionResult{OK: true, Message: fmt.Sprintf("cleared %d commands", n)}, nil
			},
		},
	}
}

// MakeReady counts readiness requests.
func (d *Device) MakeReady(context.Context, bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready++
	return nil
}

// ClearFuture does nothing: the abstract device schedules nothing natively.
func (d *Device) ClearFuture(context.Context) error { return nil }

func sameContent(a, b TargetState) bool {
	return a.ObjectID == b.ObjectID && a.Target == b.Target && reflect.DeepEqual(a.Content, b.Content)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

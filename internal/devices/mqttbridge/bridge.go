package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/conductor/internal/device"
	"github.com/nerrad567/conductor/internal/executor"
	"github.com/nerrad567/conductor/internal/infrastructure/mqtt"
	"github.com/nerrad567/conductor/internal/timeline"
)

// DeviceType is the registry key of this integration.
const DeviceType = "mqttbridge"

// Settings and mapping options.
const (
	// SettingProtocol is the bridge type used in topic names.
	SettingProtocol = "protocol"

	// SettingQoS overrides the publish QoS (default 1).
	SettingQoS = "qos"

	OptionAddress     = "address"
	OptionPreliminary = "preliminary_ms"
)

// Transport is the subset of the MQTT client the bridge device uses.
// *mqtt.Client satisfies it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// AddressState is what one bridge address carries.
type AddressState struct {
	ObjectID string         `json:"object_id"`
	Layer    string         `json:"layer"`
	Content  map[string]any `json:"content,omitempty"`
}

// State maps bridge address to its content.
type State map[string]AddressState

// Device forwards commands to a remote bridge.
type Device struct {
	id        string
	protocol  string
	qos       byte
	transport Transport
	topics    mqtt.Topics
	now       func() time.Time

	mu     sync.Mutex
	sink   device.EventSink
	status device.Status
	closed bool
}

var _ device.Device = (*Device)(nil)

// NewFactory returns a device.Factory that builds bridge devices sharing
// one transport.
func NewFactory(transport Transport) device.Factory {
	return func(id string, settings map[string]any) (device.Device, error) {
		return New(id, settings, transport)
	}
}

// New creates a bridge device.
func New(id string, settings map[string]any, transport Transport) (*Device, error) {
	if transport == nil {
		return nil, fmt.Errorf("mqttbridge %s: %w", id, device.ErrNotConnected)
	}
	opts := timeline.Mapping{Options: settings}
	qos := opts.OptionInt(SettingQoS, 1)
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("mqttbridge %s: qos %d out of range", id, qos)
	}
	return &Device{
		id:        id,
		protocol:  opts.OptionString(SettingProtocol, DeviceType),
		qos:       byte(qos),
		transport: transport,
		now:       time.Now,
		sink:      device.NopSink{},
		status: device.Status{
			Code:     device.StatusUnknown,
			Messages: []string{"waiting for bridge status"},
		},
	}, nil
}

// Init subscribes to the bridge's status topic.
func (d *Device) Init(_ context.Context, sink device.EventSink) error {
	d.mu.Lock()
	if sink != nil {
		d.sink = sink
	}
	d.closed = false
	d.mu.Unlock()

	topic := d.topics.DeviceStatus(d.protocol, d.id)
	if err := d.transport.Subscribe(topic, d.qos, d.handleStatus); err != nil {
		d.setStatus(device.Status{Code: device.StatusBad, Messages: []string{err.Error()}})
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	d.notify()
	return nil
}

// Terminate drops the status subscription.
func (d *Device) Terminate(context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.transport.Unsubscribe(d.topics.DeviceStatus(d.protocol, d.id))
}

func (d *Device) handleStatus(_ string, payload []byte) error {
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.sinkRef().Warning(fmt.Sprintf("unparseable status from bridge %s: %v", d.id, err))
		return fmt.Errorf("decoding status: %w", err)
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil
	}

	if d.setStatus(msg.DeviceStatus()) {
		d.notify()
	}
	return nil
}

// setStatus stores s and reports whether it differs from the previous one.
func (d *Device) setStatus(s device.Status) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	changed := d.status.Code != s.Code || !reflect.DeepEqual(d.status.Messages, s.Messages)
	d.status = s
	return changed
}

func (d *Device) notify() {
	d.sinkRef().ConnectionChanged(d.GetStatus())
}

func (d *Device) sinkRef() device.EventSink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sink
}

// GetStatus returns the last status reported by the bridge. A lost broker
// connection overrides it.
func (d *Device) GetStatus() device.Status {
	d.mu.Lock()
	s := d.status
	d.mu.Unlock()

	if !d.transport.IsConnected() {
		return device.Status{Code: device.StatusBad, Messages: []string{"MQTT broker not connected"}}
	}
	s.Messages = append([]string(nil), s.Messages...)
	return s
}

// ConvertTimelineStateToDeviceState projects foreground layers onto
// bridge addresses. Look-ahead instances are not forwarded.
func (d *Device) ConvertTimelineStateToDeviceState(state timeline.ResolvedState, mappings timeline.Mappings) (device.State, error) {
	out := make(State)
	for _, inst := range state.Layers {
		if inst.IsLookahead {
			continue
		}
		layer := inst.MappingLayer()
		mapping, ok := mappings[layer]
		if !ok || mapping.DeviceID != d.id {
			continue
		}
		addr := mapping.OptionString(OptionAddress, layer)
		if existing, taken := out[addr]; taken && existing.Layer < layer {
			continue
		}
		out[addr] = AddressState{ObjectID: inst.ObjectID, Layer: layer, Content: inst.Content}
	}
	return out, nil
}

// DiffStates clears addresses that lost or changed content, then sets new
// content. Each address is its own sequential queue, so a clear always
// reaches the bridge before the set that replaces it.
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

	var clears, sets []device.Command
	for _, addr := range sortedAddresses(prev) {
		old := prev[addr]
		if cur, still := next[addr]; still && sameContent(old, cur) {
			continue
		}
		clears = append(clears, d.command(CommandMessage{Command: CommandClear, Address: addr, ObjectID: old.ObjectID, Layer: old.Layer},
			mappings, fmt.Sprintf("%s removed from %s", old.ObjectID, addr)))
	}
	for _, addr := range sortedAddresses(next) {
		cur := next[addr]
		if old, had := prev[addr]; had && sameContent(old, cur) {
			continue
		}
		sets = append(sets, d.command(CommandMessage{Command: CommandSet, Address: addr, ObjectID: cur.ObjectID, Layer: cur.Layer, Content: cur.Content},
			mappings, fmt.Sprintf("%s set on %s", cur.ObjectID, addr)))
	}
	return append(clears, sets...), nil
}

func (d *Device) command(msg CommandMessage, mappings timeline.Mappings, why string) device.Command {
	lead := mappings[msg.Layer].OptionInt(OptionPreliminary, 0)
	return device.Command{
		Payload:       msg,
		Context:       why,
		TimelineObjID: msg.ObjectID,
		Mode:          executor.ModeSequential,
		QueueID:       msg.Address,
		Preliminary:   time.Duration(lead) * time.Millisecond,
	}
}

// SendCommand publishes the command to the bridge.
func (d *Device) SendCommand(ctx context.Context, cmd device.Command) error {
	msg, ok := cmd.Payload.(CommandMessage)
	if !ok {
		return fmt.Errorf("%w: %T", device.ErrInvalidCommand, cmd.Payload)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg.ID = cmd.ID
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Timestamp = d.now().UTC()
	msg.DeviceID = d.id
	return d.publish(d.topics.DeviceCommand(d.protocol, d.id), msg)
}

// ClearFuture asks the bridge to drop anything it scheduled natively.
func (d *Device) ClearFuture(ctx context.Context) error {
	return d.request(ctx, RequestClearFuture, nil)
}

// MakeReady asks the bridge to bring its outputs to a known state.
func (d *Device) MakeReady(ctx context.Context, okToDestroy bool) error {
	return d.request(ctx, RequestMakeReady, map[string]any{"ok_to_destroy": okToDestroy})
}

// Actions exposes a resync request.
func (d *Device) Actions() map[string]device.Action {
	return map[string]device.Action{
		RequestResync: {
			ID:          RequestResync,
			Name:        "Resync",
			Description: "Ask the bridge to re-read its outputs",
			Handler: func(ctx context.Context, payload map[string]any) (device.ActionResult, error) {
				if err := d.request(ctx, RequestResync, payload); err != nil {
					return device.ActionResult{OK: false, Message: err.Error()}, nil
				}
				return device.ActionResult{OK: true, Message: "resync requested"}, nil
			},
		},
	}
}

func (d *Device) request(ctx context.Context, action string, params map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.publish(d.topics.DeviceRequest(d.protocol, d.id), RequestMessage{
		RequestID:  uuid.NewString(),
		Timestamp:  d.now().UTC(),
		DeviceID:   d.id,
		Action:     action,
		Parameters: params,
	})
}

func (d *Device) publish(topic string, v any) error {
	if !d.transport.IsConnected() {
		return device.ErrNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message for %s: %w", topic, err)
	}
	if err := d.transport.Publish(topic, payload, d.qos, false); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func sameContent(a, b AddressState) bool {
	return a.ObjectID == b.ObjectID && reflect.DeepEqual(a.Content, b.Content)
}

func sortedAddresses(s State) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

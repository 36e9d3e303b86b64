package timeline

import (
	"fmt"
	"math"
	"strconv"
)

// Forever is the end time of an instance that never ends.
const Forever int64 = math.MaxInt64

// Content keys the conductor understands. Everything else in an object's
// content is opaque and passed through to the device.
const (
	// ContentDeviceType tags the content with the device type it targets.
	ContentDeviceType = "deviceType"

	// ContentCallback names a host callback fired when the object starts.
	ContentCallback = "callBack"

	// ContentCallbackStopped names a host callback fired when the object stops.
	ContentCallbackStopped = "callBackStopped"

	// ContentCallbackData is passed to both callbacks.
	ContentCallbackData = "callBackData"
)

// Object is one entry of a timeline.
type Object struct {
	ID               string         `json:"id" yaml:"id"`
	Enable           []Enable       `json:"enable" yaml:"enable"`
	Layer            string         `json:"layer" yaml:"layer"`
	Content          map[string]any `json:"content,omitempty" yaml:"content,omitempty"`
	Priority         int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	DisableLookahead bool           `json:"disable_lookahead,omitempty" yaml:"disable_lookahead,omitempty"`
}

// Enable is one activation window of an object. End and Duration are
// alternatives; when both are empty the window never ends.
type Enable struct {
	Start    Expression `json:"start" yaml:"start"`
	End      Expression `json:"end,omitempty" yaml:"end,omitempty"`
	Duration Expression `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Validate checks structural fields. Expression semantics are checked
// during resolution.
func (o *Object) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidObject)
	}
	if o.Layer == "" {
		return fmt.Errorf("%w: object %q has no layer", ErrInvalidObject, o.ID)
	}
	if len(o.Enable) == 0 {
		return fmt.Errorf("%w: object %q has no enable window", ErrInvalidObject, o.ID)
	}
	return nil
}

// Clone returns a copy of the object whose Enable slice can be modified
// without affecting the original. Content is shared.
func (o Object) Clone() Object {
	enable := make([]Enable, len(o.Enable))
	copy(enable, o.Enable)
	o.Enable = enable
	return o
}

// StartsNow reports whether any enable window starts at the "now" sentinel.
func (o *Object) StartsNow() bool {
	for _, e := range o.Enable {
		if e.Start.IsNow() {
			return true
		}
	}
	return false
}

// DeviceType returns the device type tag of the content, if any.
func (o *Object) DeviceType() string {
	s, _ := o.Content[ContentDeviceType].(string) //nolint:errcheck // type assertion, not error
	return s
}

// LookaheadMode selects how a mapping previews upcoming content.
type LookaheadMode string

const (
	// LookaheadNone disables look-ahead for the mapping.
	LookaheadNone LookaheadMode = ""

	// LookaheadPreload always projects the next instances.
	LookaheadPreload LookaheadMode = "preload"

	// LookaheadWhenClear projects the next instances only while the
	// foreground layer is empty.
	LookaheadWhenClear LookaheadMode = "when_clear"
)

// Mapping binds a layer to a device.
type Mapping struct {
	DeviceType     string         `json:"device_type" yaml:"device_type"`
	DeviceID       string         `json:"device_id" yaml:"device_id"`
	Options        map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
	Lookahead      LookaheadMode  `json:"lookahead,omitempty" yaml:"lookahead,omitempty"`
	LookaheadDepth int            `json:"lookahead_depth,omitempty" yaml:"lookahead_depth,omitempty"`
}

// OptionString returns a string option, or def when missing.
// Numeric options are formatted in decimal.
func (m Mapping) OptionString(key, def string) string {
	switch v := m.Options[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return def
}

// OptionInt returns an integer option, or def when missing or not numeric.
func (m Mapping) OptionInt(key string, def int) int {
	switch v := m.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Mappings maps layer names to their device binding.
type Mappings map[string]Mapping

// ForDevice returns the subset of mappings targeting deviceID.
func (m Mappings) ForDevice(deviceID string) Mappings {
	out := make(Mappings)
	for layer, mapping := range m {
		if mapping.DeviceID == deviceID {
			out[layer] = mapping
		}
	}
	return out
}

// ResolvedInstance is the active occurrence of an object on a layer.
type ResolvedInstance struct {
	ObjectID      string         `json:"object_id"`
	Layer         string         `json:"layer"`
	Content       map[string]any `json:"content,omitempty"`
	Start         int64          `json:"start"`
	End           int64          `json:"end"`
	OriginalStart int64          `json:"original_start"`

	// IsLookahead marks a preview of content that is not yet foreground.
	IsLookahead bool `json:"is_lookahead,omitempty"`

	// LookaheadForLayer is the foreground layer a look-ahead instance previews.
	LookaheadForLayer string `json:"lookahead_for_layer,omitempty"`
}

// MappingLayer returns the layer whose mapping governs this instance.
func (r ResolvedInstance) MappingLayer() string {
	if r.IsLookahead && r.LookaheadForLayer != "" {
		return r.LookaheadForLayer
	}
	return r.Layer
}

// ResolvedState is the set of active instances at one point in time.
type ResolvedState struct {
	Time       int64                       `json:"time"`
	Layers     map[string]ResolvedInstance `json:"layers"`
	NextEvents []int64                     `json:"next_events,omitempty"`
}

// TriggerTime reports the concrete start bound to an object whose start
// was "now". Hosts write it back into their stored timeline.
type TriggerTime struct {
	ID   string `json:"id"`
	Time int64  `json:"time"`
}

package timeline

import (
	"errors"
	"reflect"
	"testing"
)

func obj(id, layer string, start, end Expression) Object {
	return Object{
		ID:      id,
		Layer:   layer,
		Enable:  []Enable{{Start: start, End: end}},
		Content: map[string]any{ContentDeviceType: "abstract"},
	}
}

func resolve(t *testing.T, objects []Object, at int64) *Resolved {
	t.Helper()
	resolved, err := NewReferenceResolver().Resolve(objects, ResolveOptions{Time: at})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return resolved
}

func TestReferenceResolver_StateAt(t *testing.T) {
	resolved := resolve(t, []Object{
		obj("a", "L0", "10000", "11000"),
		obj("b", "L1", "11000", "12000"),
	}, 10000)

	tests := []struct {
		at         int64
		wantLayers map[string]string
		wantEvents []int64
	}{
		{at: 9000, wantLayers: map[string]string{}, wantEvents: []int64{10000, 11000, 12000}},
		{at: 10000, wantLayers: map[string]string{"L0": "a"}, wantEvents: []int64{11000, 12000}},
		{at: 11000, wantLayers: map[string]string{"L1": "b"}, wantEvents: []int64{12000}},
		{at: 12000, wantLayers: map[string]string{}, wantEvents: nil},
	}

	for _, tt := range tests {
		state := resolved.StateAt(tt.at, 0)
		got := make(map[string]string)
		for layer, inst := range state.Layers {
			got[layer] = inst.ObjectID
		}
		if !reflect.DeepEqual(got, tt.wantLayers) {
			t.Errorf("StateAt(%d) layers = %v, want %v", tt.at, got, tt.wantLayers)
		}
		if !reflect.DeepEqual(state.NextEvents, tt.wantEvents) {
			t.Errorf("StateAt(%d) nextEvents = %v, want %v", tt.at, state.NextEvents, tt.wantEvents)
		}
	}
}

func TestReferenceResolver_LimitTime(t *testing.T) {
	resolved := resolve(t, []Object{
		obj("a", "L0", "1000", "2000"),
		obj("b", "L0", "5000", ""),
	}, 0)

	state := resolved.StateAt(0, 2000)
	if !reflect.DeepEqual(state.NextEvents, []int64{1000, 2000}) {
		t.Errorf("nextEvents = %v, want [1000 2000]", state.NextEvents)
	}

	state = resolved.StateAt(6000, 0)
	if state.Layers["L0"].End != Forever {
		t.Errorf("open-ended instance End = %d, want Forever", state.Layers["L0"].End)
	}
	if len(state.NextEvents) != 0 {
		t.Errorf("Forever must not be an event, got %v", state.NextEvents)
	}
}

func TestReferenceResolver_Now(t *testing.T) {
	o := obj("live", "L0", "now", "")
	o.Enable[0].Duration = "3000"

	resolved := resolve(t, []Object{o}, 10000)
	inst := resolved.Instances[0]
	if inst.Start != 10000 || inst.End != 13000 {
		t.Errorf("instance = [%d, %d), want [10000, 13000)", inst.Start, inst.End)
	}
}

func TestReferenceResolver_References(t *testing.T) {
	resolved := resolve(t, []Object{
		obj("outro", "L0", "#main.end", "#main.end + 2000"),
		obj("main", "L0", "#intro.end + 500", ""),
		{ID: "intro", Layer: "L0", Enable: []Enable{{Start: "1000", Duration: "4000"}}},
	}, 0)

	// main is open-ended, so outro's references resolve to Forever and
	// produce no instance.
	byID := make(map[string]Instance)
	for _, inst := range resolved.Instances {
		byID[inst.ObjectID] = inst
	}
	if got := byID["intro"]; got.Start != 1000 || got.End != 5000 {
		t.Errorf("intro = [%d, %d), want [1000, 5000)", got.Start, got.End)
	}
	if got := byID["main"]; got.Start != 5500 || got.End != Forever {
		t.Errorf("main = [%d, %d), want [5500, Forever)", got.Start, got.End)
	}
	if _, ok := byID["outro"]; ok {
		t.Error("outro referencing an open end should produce no instance")
	}
}

func TestReferenceResolver_Errors(t *testing.T) {
	tests := []struct {
		name    string
		objects []Object
		want    error
	}{
		{
			name:    "unknown reference",
			objects: []Object{obj("a", "L0", "#missing.end", "")},
			want:    ErrUnknownReference,
		},
		{
			name: "circular",
			objects: []Object{
				obj("a", "L0", "#b.start", ""),
				obj("b", "L0", "#a.start", ""),
			},
			want: ErrCircularReference,
		},
		{
			name:    "self reference",
			objects: []Object{obj("a", "L0", "#a.end", "")},
			want:    ErrCircularReference,
		},
		{
			name:    "missing start",
			objects: []Object{obj("a", "L0", "", "100")},
			want:    ErrMissingStart,
		},
		{
			name:    "duplicate id",
			objects: []Object{obj("a", "L0", "0", ""), obj("a", "L1", "0", "")},
			want:    ErrDuplicateID,
		},
		{
			name:    "no layer",
			objects: []Object{obj("a", "", "0", "")},
			want:    ErrInvalidObject,
		},
		{
			name:    "bad expression",
			objects: []Object{obj("a", "L0", "tomorrow", "")},
			want:    ErrInvalidExpression,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReferenceResolver().Resolve(tt.objects, ResolveOptions{})
			if !errors.Is(err, tt.want) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReferenceResolver_LayerWinner(t *testing.T) {
	low := obj("low", "L0", "0", "")
	high := obj("high", "L0", "0", "")
	high.Priority = 5
	later := obj("later", "L0", "100", "")

	resolved := resolve(t, []Object{low, high, later}, 0)
	if got := resolved.StateAt(200, 0).Layers["L0"].ObjectID; got != "high" {
		t.Errorf("winner = %q, want high (priority)", got)
	}

	resolved = resolve(t, []Object{low, later}, 0)
	if got := resolved.StateAt(200, 0).Layers["L0"].ObjectID; got != "later" {
		t.Errorf("winner = %q, want later (latest start)", got)
	}

	resolved = resolve(t, []Object{obj("x", "L0", "0", ""), obj("y", "L0", "0", "")}, 0)
	if got := resolved.StateAt(0, 0).Layers["L0"].ObjectID; got != "y" {
		t.Errorf("winner = %q, want y (greatest id)", got)
	}
}

func TestReferenceResolver_DoesNotMutateInput(t *testing.T) {
	objects := []Object{obj("a", "L0", "now", "")}
	resolve(t, objects, 5000)
	if objects[0].Enable[0].Start != "now" {
		t.Errorf("input mutated: start = %q", objects[0].Enable[0].Start)
	}
}

func TestAddLookahead(t *testing.T) {
	resolved := resolve(t, []Object{
		obj("one", "PGM", "1000", "2000"),
		obj("two", "PGM", "2000", "3000"),
		obj("three", "PGM", "3000", "4000"),
	}, 0)

	mappings := Mappings{
		"PGM": {DeviceType: "abstract", DeviceID: "dev0", Lookahead: LookaheadPreload, LookaheadDepth: 2},
	}

	state := AddLookahead(resolved.StateAt(1500, 0), resolved, mappings)
	if state.Layers["PGM"].ObjectID != "one" {
		t.Fatalf("foreground = %q, want one", state.Layers["PGM"].ObjectID)
	}

	la := state.Layers["PGM_lookahead"]
	if la.ObjectID != "two" || !la.IsLookahead || la.LookaheadForLayer != "PGM" {
		t.Errorf("PGM_lookahead = %+v, want two previewing PGM", la)
	}
	if got := state.Layers["PGM_lookahead_2"].ObjectID; got != "three" {
		t.Errorf("PGM_lookahead_2 = %q, want three", got)
	}
	if got := la.MappingLayer(); got != "PGM" {
		t.Errorf("MappingLayer() = %q, want PGM", got)
	}

	mappings["PGM"] = Mapping{DeviceType: "abstract", DeviceID: "dev0", Lookahead: LookaheadWhenClear}
	state = AddLookahead(resolved.StateAt(1500, 0), resolved, mappings)
	if _, ok := state.Layers["PGM_lookahead"]; ok {
		t.Error("when_clear must not preview while the layer is active")
	}
	state = AddLookahead(resolved.StateAt(500, 0), resolved, mappings)
	if got := state.Layers["PGM_lookahead"].ObjectID; got != "one" {
		t.Errorf("when_clear preview = %q, want one", got)
	}
}

func TestMappings_ForDevice(t *testing.T) {
	m := Mappings{
		"a": {DeviceID: "dev0"},
		"b": {DeviceID: "dev1"},
		"c": {DeviceID: "dev0"},
	}
	got := m.ForDevice("dev0")
	if len(got) != 2 {
		t.Fatalf("ForDevice(dev0) = %v, want 2 entries", got)
	}
	if _, ok := got["b"]; ok {
		t.Error("ForDevice(dev0) leaked dev1's mapping")
	}
}

func TestMapping_Options(t *testing.T) {
	m := Mapping{Options: map[string]any{"channel": float64(2), "name": "out", "port": "7"}}
	if got := m.OptionInt("channel", 0); got != 2 {
		t.Errorf("OptionInt(channel) = %d, want 2", got)
	}
	if got := m.OptionInt("port", 0); got != 7 {
		t.Errorf("OptionInt(port) = %d, want 7", got)
	}
	if got := m.OptionString("channel", ""); got != "2" {
		t.Errorf("OptionString(channel) = %q, want 2", got)
	}
	if got := m.OptionString("missing", "def"); got != "def" {
		t.Errorf("OptionString(missing) = %q, want def", got)
	}
}

package timeline

import (
	"fmt"
	"sort"
)

// Resolver computes concrete instances from a timeline and answers which
// instance is active on each layer at a given time.
//
// Implementations must be safe for concurrent use and must not modify the
// objects they are given.
type Resolver interface {
	// Resolve computes every instance of the timeline. "now" expressions
	// bind to opts.Time.
	Resolve(objects []Object, opts ResolveOptions) (*Resolved, error)

	// StateAt returns the winning instance per layer at t, with the
	// distinct event times in (t, limitTime]. A limitTime of zero means
	// unbounded.
	StateAt(resolved *Resolved, t, limitTime int64) ResolvedState
}

// ResolveOptions controls a Resolve call.
type ResolveOptions struct {
	// Time is the resolve time. "now" expressions bind to it.
	Time int64
}

// Instance is one concrete occurrence of an object.
type Instance struct {
	ObjectID         string
	Layer            string
	Content          map[string]any
	Start            int64
	End              int64
	OriginalStart    int64
	Priority         int
	DisableLookahead bool
}

// Active reports whether the instance covers t.
func (i *Instance) Active(t int64) bool {
	return i.Start <= t && t < i.End
}

// beats reports whether i wins its layer over other.
func (i *Instance) beats(other *Instance) bool {
	if i.Priority != other.Priority {
		return i.Priority > other.Priority
	}
	if i.Start != other.Start {
		return i.Start > other.Start
	}
	return i.ObjectID > other.ObjectID
}

func (i *Instance) toResolved() ResolvedInstance {
	return ResolvedInstance{
		ObjectID:      i.ObjectID,
		Layer:         i.Layer,
		Content:       i.Content,
		Start:         i.Start,
		End:           i.End,
		OriginalStart: i.OriginalStart,
	}
}

// Resolved is the output of a Resolve call.
type Resolved struct {
	Options   ResolveOptions
	Instances []Instance

	byLayer map[string][]Instance
}

// NewResolved indexes instances for querying. Custom Resolver
// implementations use it to build their results.
func NewResolved(opts ResolveOptions, instances []Instance) *Resolved {
	sort.SliceStable(instances, func(a, b int) bool {
		if instances[a].Start != instances[b].Start {
			return instances[a].Start < instances[b].Start
		}
		return instances[a].ObjectID < instances[b].ObjectID
	})

	r := &Resolved{
		Options:   opts,
		Instances: instances,
		byLayer:   make(map[string][]Instance),
	}
	for _, inst := range instances {
		r.byLayer[inst.Layer] = append(r.byLayer[inst.Layer], inst)
	}
	return r
}

// StateAt returns the active state at t. See Resolver.StateAt.
func (r *Resolved) StateAt(t, limitTime int64) ResolvedState {
	state := ResolvedState{
		Time:   t,
		Layers: make(map[string]ResolvedInstance),
	}

	for layer, instances := range r.byLayer {
		var winner *Instance
		for i := range instances {
			inst := &instances[i]
			if !inst.Active(t) {
				continue
			}
			if winner == nil || inst.beats(winner) {
				winner = inst
			}
		}
		if winner != nil {
			state.Layers[layer] = winner.toResolved()
		}
	}

	seen := make(map[int64]struct{})
	for _, inst := range r.Instances {
		for _, ts := range [2]int64{inst.Start, inst.End} {
			if ts <= t || ts == Forever {
				continue
			}
			if limitTime > 0 && ts > limitTime {
				continue
			}
			if _, ok := seen[ts]; ok {
				continue
			}
			seen[ts] = struct{}{}
			state.NextEvents = append(state.NextEvents, ts)
		}
	}
	sort.Slice(state.NextEvents, func(a, b int) bool { return state.NextEvents[a] < state.NextEvents[b] })

	return state
}

// Upcoming returns up to n instances on layer that start after t, in start
// order. Instances flagged DisableLookahead are skipped.
func (r *Resolved) Upcoming(layer string, t int64, n int) []Instance {
	var out []Instance
	for _, inst := range r.byLayer[layer] {
		if len(out) >= n {
			break
		}
		if inst.Start <= t || inst.DisableLookahead {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// ReferenceResolver resolves literal, "now", duration and reference
// expressions.
type ReferenceResolver struct{}

// NewReferenceResolver creates a ReferenceResolver.
func NewReferenceResolver() *ReferenceResolver {
	return &ReferenceResolver{}
}

// StateAt delegates to Resolved.StateAt.
func (*ReferenceResolver) StateAt(resolved *Resolved, t, limitTime int64) ResolvedState {
	return resolved.StateAt(t, limitTime)
}

// Resolve computes every enable window of every object. Windows that end
// at or before they start produce no instance.
func (*ReferenceResolver) Resolve(objects []Object, opts ResolveOptions) (*Resolved, error) {
	res := &resolution{
		objects:  make(map[string]*Object, len(objects)),
		opts:     opts,
		memo:     make(map[endpoint]int64),
		visiting: make(map[endpoint]bool),
	}

	for i := range objects {
		obj := &objects[i]
		if err := obj.Validate(); err != nil {
			return nil, err
		}
		if _, exists := res.objects[obj.ID]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, obj.ID)
		}
		res.objects[obj.ID] = obj
	}

	instances := make([]Instance, 0, len(objects))
	for i := range objects {
		obj := &objects[i]
		for idx := range obj.Enable {
			start, err := res.evaluate(endpoint{id: obj.ID, enable: idx, field: "start"})
			if err != nil {
				return nil, fmt.Errorf("resolving %q start: %w", obj.ID, err)
			}
			end, err := res.evaluate(endpoint{id: obj.ID, enable: idx, field: "end"})
			if err != nil {
				return nil, fmt.Errorf("resolving %q end: %w", obj.ID, err)
			}
			if end <= start {
				continue
			}
			instances = append(instances, Instance{
				ObjectID:         obj.ID,
				Layer:            obj.Layer,
				Content:          obj.Content,
				Start:            start,
				End:              end,
				OriginalStart:    start,
				Priority:         obj.Priority,
				DisableLookahead: obj.DisableLookahead,
			})
		}
	}

	return NewResolved(opts, instances), nil
}

type endpoint struct {
	id     string
	enable int
	field  string
}

// resolution holds the memoised state of one Resolve call.
type resolution struct {
	objects  map[string]*Object
	opts     ResolveOptions
	memo     map[endpoint]int64
	visiting map[endpoint]bool
}

func (r *resolution) evaluate(ep endpoint) (int64, error) {
	if v, ok := r.memo[ep]; ok {
		return v, nil
	}
	if r.visiting[ep] {
		return 0, fmt.Errorf("%w: #%s.%s", ErrCircularReference, ep.id, ep.field)
	}
	r.visiting[ep] = true
	defer delete(r.visiting, ep)

	enable := r.objects[ep.id].Enable[ep.enable]

	var v int64
	var err error
	if ep.field == "start" {
		v, err = r.evaluateStart(enable)
	} else {
		v, err = r.evaluateEnd(ep, enable)
	}
	if err != nil {
		return 0, err
	}

	r.memo[ep] = v
	return v, nil
}

func (r *resolution) evaluateStart(enable Enable) (int64, error) {
	p, err := parseExpression(enable.Start)
	if err != nil {
		return 0, err
	}
	if p.kind == exprEmpty {
		return 0, ErrMissingStart
	}
	return r.value(p)
}

func (r *resolution) evaluateEnd(ep endpoint, enable Enable) (int64, error) {
	if !enable.End.IsEmpty() {
		p, err := parseExpression(enable.End)
		if err != nil {
			return 0, err
		}
		return r.value(p)
	}

	if enable.Duration.IsEmpty() {
		return Forever, nil
	}

	p, err := parseExpression(enable.Duration)
	if err != nil {
		return 0, err
	}
	if p.kind != exprLiteral {
		return 0, fmt.Errorf("%w: duration must be a number of milliseconds", ErrInvalidExpression)
	}
	start, err := r.evaluate(endpoint{id: ep.id, enable: ep.enable, field: "start"})
	if err != nil {
		return 0, err
	}
	if start == Forever {
		return Forever, nil
	}
	return start + p.value, nil
}

func (r *resolution) value(p parsedExpression) (int64, error) {
	switch p.kind {
	case exprNow:
		return r.opts.Time, nil
	case exprLiteral:
		return p.value, nil
	case exprReference:
		target, ok := r.objects[p.ref]
		if !ok {
			return 0, fmt.Errorf("%w: #%s", ErrUnknownReference, p.ref)
		}
		if len(target.Enable) == 0 {
			return 0, fmt.Errorf("%w: #%s has no enable window", ErrUnknownReference, p.ref)
		}
		v, err := r.evaluate(endpoint{id: p.ref, enable: 0, field: p.field})
		if err != nil {
			return 0, err
		}
		if v == Forever {
			return Forever, nil
		}
		return v + p.offset, nil
	default:
		return 0, ErrInvalidExpression
	}
}

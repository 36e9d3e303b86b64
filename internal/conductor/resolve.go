package conductor

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/conductor/internal/events"
	"github.com/nerrad567/conductor/internal/pipeline"
	"github.com/nerrad567/conductor/internal/timeline"
	"github.com/nerrad567/conductor/internal/worker"
)

// ResolveResult summarises one resolve pass.
type ResolveResult struct {
	Time           int64
	TriggerTimes   []timeline.TriggerTime
	Callbacks      []Callback
	States         int
	NextEventTime  int64 // first event not yet queued, 0 if none
	DevicesUpdated []string
	Duration       time.Duration
}

type activeCallback struct {
	name    string
	stopped string
	data    any
}

// sentState is one step of what a device has been sent: from time on, the
// device should show state under mappings.
type sentState struct {
	time     int64
	state    timeline.ResolvedState
	mappings timeline.Mappings
}

func (s sentState) equal(o sentState) bool {
	return reflect.DeepEqual(s.state.Layers, o.state.Layers) &&
		reflect.DeepEqual(s.mappings, o.mappings)
}

// Resolve runs one resolve pass at target (Unix ms). It is normally driven
// by the loop started with Start, but may be called directly.
func (c *Conductor) Resolve(target int64) (ResolveResult, error) {
	c.resolveMu.Lock()
	defer c.resolveMu.Unlock()

	started := c.clock.Now()
	result := ResolveResult{Time: target}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return result, ErrClosed
	}
	objects, fresh := c.bindNowLocked(target)
	mappings := c.mappings
	conns := c.connectionListLocked()
	c.mu.Unlock()

	resolved, err := c.resolveObjects(objects, target)
	var states []timeline.ResolvedState
	if err == nil {
		states, err = c.statesFrom(resolved, target, mappings)
	}
	if err != nil {
		rerr := &ResolveError{Time: target, Err: err}
		result.Duration = c.clock.Now().Sub(started)
		c.reportError("resolve", "", rerr)
		c.opts.Metrics.ResolveCompleted(result.Duration, rerr)
		c.opts.Telemetry.RecordResolve(target, result.Duration, 0, rerr)
		return result, rerr
	}
	result.States = len(states)
	result.NextEventTime = nextUnqueued(states)

	c.mu.Lock()
	result.TriggerTimes = c.commitBindingsLocked(fresh)
	result.Callbacks = c.diffCallbacksLocked(states[0])
	c.mu.Unlock()

	if len(result.TriggerTimes) > 0 {
		c.bus.Publish(events.SetTimelineTriggerTime, result.TriggerTimes)
	}
	for _, cb := range result.Callbacks {
		c.bus.Publish(events.TimelineCallback, cb)
	}

	// Devices are projected side by side so one slow conversion does not
	// hold up the others.
	updated := make([]bool, len(conns))
	var g errgroup.Group
	for i, conn := range conns {
		g.Go(func() error {
			updated[i] = c.project(conn, states, mappings)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // project reports its own failures
	for i, conn := range conns {
		if updated[i] {
			result.DevicesUpdated = append(result.DevicesUpdated, conn.id)
		}
	}

	result.Duration = c.clock.Now().Sub(started)
	c.opts.Metrics.ResolveCompleted(result.Duration, nil)
	c.opts.Telemetry.RecordResolve(target, result.Duration, len(states), nil)
	c.bus.Publish(events.ResolveDone, ResolveDonePayload{
		Time:           target,
		DurationMs:     result.Duration.Milliseconds(),
		NextEventTime:  result.NextEventTime,
		States:         len(states),
		DevicesUpdated: result.DevicesUpdated,
	})
	return result, nil
}

// bindNowLocked copies the timeline, replacing "now" starts with their
// bound time. Objects seen for the first time are bound to target and
// returned in fresh; they are committed only if the pass succeeds.
func (c *Conductor) bindNowLocked(target int64) ([]timeline.Object, map[string]int64) {
	objects := make([]timeline.Object, len(c.objects))
	fresh := make(map[string]int64)

	for i := range c.objects {
		objects[i] = c.objects[i].Clone()
		obj := &objects[i]
		if !obj.StartsNow() {
			continue
		}

		t, bound := c.boundNow[obj.ID]
		if !bound {
			t = target
			fresh[obj.ID] = t
		}
		for j := range obj.Enable {
			if obj.Enable[j].Start.IsNow() {
				obj.Enable[j].Start = timeline.Literal(t)
			}
		}
	}
	return objects, fresh
}

// commitBindingsLocked records fresh bindings and forgets bindings whose
// object is gone or no longer starts "now".
func (c *Conductor) commitBindingsLocked(fresh map[string]int64) []timeline.TriggerTime {
	live := make(map[string]bool)
	for i := range c.objects {
		if c.objects[i].StartsNow() {
			live[c.objects[i].ID] = true
		}
	}
	for id := range c.boundNow {
		if !live[id] {
			delete(c.boundNow, id)
		}
	}

	var triggers []timeline.TriggerTime
	for id, t := range fresh {
		if !live[id] {
			continue
		}
		if _, bound := c.boundNow[id]; bound {
			continue
		}
		c.boundNow[id] = t
		triggers = append(triggers, timeline.TriggerTime{ID: id, Time: t})
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].ID < triggers[j].ID })
	return triggers
}

// diffCallbacksLocked compares the callback-bearing objects active in
// state with those of the previous pass.
func (c *Conductor) diffCallbacksLocked(state timeline.ResolvedState) []Callback {
	current := make(map[string]activeCallback)
	for _, inst := range state.Layers {
		if inst.IsLookahead {
			continue
		}
		name, _ := inst.Content[timeline.ContentCallback].(string)           //nolint:errcheck // type assertion, not error
		stopped, _ := inst.Content[timeline.ContentCallbackStopped].(string) //nolint:errcheck // type assertion, not error
		if name == "" && stopped == "" {
			continue
		}
		current[inst.ObjectID] = activeCallback{
			name:    name,
			stopped: stopped,
			data:    inst.Content[timeline.ContentCallbackData],
		}
	}

	var out []Callback
	for id, cb := range c.activeCallbacks {
		if _, still := current[id]; still || cb.stopped == "" {
			continue
		}
		out = append(out, Callback{Time: state.Time, ObjectID: id, Name: cb.stopped, Data: cb.data})
	}
	for id, cb := range current {
		if _, was := c.activeCallbacks[id]; was || cb.name == "" {
			continue
		}
		out = append(out, Callback{Time: state.Time, ObjectID: id, Name: cb.name, Data: cb.data, Active: true})
	}
	c.activeCallbacks = current

	// Stops first, then by object.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return !out[i].Active
		}
		return out[i].ObjectID < out[j].ObjectID
	})
	return out
}

func (c *Conductor) resolveObjects(objects []timeline.Object, target int64) (resolved *timeline.Resolved, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrResolverPanic, r)
		}
	}()
	return c.opts.Resolver.Resolve(objects, timeline.ResolveOptions{Time: target})
}

// statesFrom returns the state at target followed by the states at each
// upcoming event inside the horizon, with look-ahead layers added.
func (c *Conductor) statesFrom(resolved *timeline.Resolved, target int64, mappings timeline.Mappings) (states []timeline.ResolvedState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrResolverPanic, r)
		}
	}()

	limit := target + c.opts.LookaheadHorizon.Milliseconds()
	base := c.opts.Resolver.StateAt(resolved, target, limit)
	states = append(states, base)
	for _, t := range base.NextEvents {
		if len(states) >= c.opts.MaxLookaheadStates || t > limit {
			break
		}
		states = append(states, c.opts.Resolver.StateAt(resolved, t, limit))
	}

	for i := range states {
		states[i] = timeline.AddLookahead(states[i], resolved, mappings)
	}
	return states, nil
}

// project sends conn the part of states it has not already been sent. It
// reports whether the device's queued future changed.
func (c *Conductor) project(conn *connection, states []timeline.ResolvedState, mappings timeline.Mappings) bool {
	own := mappings.ForDevice(conn.id)
	candidates := make([]sentState, len(states))
	for i, st := range states {
		candidates[i] = sentState{
			time:     st.Time,
			state:    filterState(st, own),
			mappings: own,
		}
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	clearAfter, from, changed := divergence(conn.lastSent, candidates)
	if !changed {
		conn.lastSent = pruneSent(conn.lastSent, candidates[0].time)
		return false
	}

	conn.pipeline.ClearFutureAfterTimestamp(clearAfter)

	kept := make([]sentState, 0, len(conn.lastSent)+len(candidates))
	for _, s := range conn.lastSent {
		if s.time <= clearAfter {
			kept = append(kept, s)
		}
	}

	queued := 0
	for _, cand := range candidates[from:] {
		if err := conn.pipeline.HandleState(cand.state, cand.mappings); err != nil {
			c.logger.Warn("queueing state failed",
				"device_id", conn.id,
				"time", cand.time,
				"error", err,
			)
			// A state the device cannot convert stays recorded so it is
			// not retried every pass. A stopped pipeline or an unreachable
			// worker stops the projection, leaving the rest to be resent.
			if errors.Is(err, pipeline.ErrStopped) || transient(err) {
				break
			}
		}
		kept = append(kept, cand)
		queued++
	}
	conn.lastSent = pruneSent(kept, candidates[0].time)

	c.opts.Metrics.StatesQueued(conn.id, queued)
	c.logger.Debug("device states queued",
		"device_id", conn.id,
		"from", clearAfter+1,
		"count", queued,
	)
	return true
}

// nextUnqueued returns the first upcoming event after the last state
// queued in this pass, or 0 if there is none.
func nextUnqueued(states []timeline.ResolvedState) int64 {
	last := states[len(states)-1].Time
	for _, t := range states[0].NextEvents {
		if t > last {
			return t
		}
	}
	return 0
}

// transient reports whether a failed conversion is worth retrying on the
// next pass.
func transient(err error) bool {
	return errors.Is(err, worker.ErrCallTimeout) ||
		errors.Is(err, worker.ErrWorkerRestarting) ||
		errors.Is(err, worker.ErrWorkerCrashed)
}

// divergence compares what a device was sent against the new candidates
// over the candidates' time span. At the first point where they differ it
// returns the last still-valid time and the index of the first candidate
// to send.
func divergence(old, candidates []sentState) (clearAfter int64, from int, changed bool) {
	first := candidates[0].time
	last := candidates[len(candidates)-1].time

	points := make([]int64, 0, len(old)+len(candidates))
	for _, s := range candidates {
		points = append(points, s.time)
	}
	for _, s := range old {
		if s.time > first && s.time <= last {
			points = append(points, s.time)
		}
	}
	slices.Sort(points)
	points = slices.Compact(points)

	for _, p := range points {
		j := stepAt(candidates, p)
		o := stepAt(old, p)
		if o >= 0 && old[o].equal(candidates[j]) {
			continue
		}
		if candidates[j].time == p {
			return p - 1, j, true
		}
		// A step only the old sequence has: drop it and resend what follows.
		return candidates[j].time, j + 1, true
	}
	return 0, 0, false
}

// stepAt returns the index of the last step at or before t, or -1.
func stepAt(steps []sentState, t int64) int {
	idx := -1
	for i, s := range steps {
		if s.time > t {
			break
		}
		idx = i
	}
	return idx
}

// pruneSent drops steps superseded before t, keeping the one in force at t.
func pruneSent(steps []sentState, t int64) []sentState {
	idx := stepAt(steps, t)
	if idx <= 0 {
		return steps
	}
	return append([]sentState(nil), steps[idx:]...)
}

// filterState keeps the layers whose mapping is in own.
func filterState(state timeline.ResolvedState, own timeline.Mappings) timeline.ResolvedState {
	layers := make(map[string]timeline.ResolvedInstance)
	for name, inst := range state.Layers {
		if _, ok := own[inst.MappingLayer()]; ok {
			layers[name] = inst
		}
	}
	return timeline.ResolvedState{
		Time:       state.Time,
		Layers:     layers,
		NextEvents: state.NextEvents,
	}
}

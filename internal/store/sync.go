package store

import (
	"context"
	"encoding/json"

	"github.com/nerrad567/conductor/internal/conductor"
	"github.com/nerrad567/conductor/internal/events"
	"github.com/nerrad567/conductor/internal/timeline"
)

// TimelineTarget receives the stored timeline after trigger times have
// been written back. *conductor.Conductor satisfies it.
type TimelineTarget interface {
	SetTimelineAndMappings(objects []timeline.Object, mappings timeline.Mappings)
}

// Attach subscribes the store to bus. Trigger times are written back and
// the refreshed timeline pushed to target; command reports and errors are
// appended to the command log. The returned function unsubscribes.
func (s *Store) Attach(ctx context.Context, bus *events.Bus, target TimelineTarget) func() {
	unsubTriggers := bus.Subscribe(func(e events.Event) {
		triggers, ok := e.Data.([]timeline.TriggerTime)
		if !ok {
			return
		}
		s.handleTriggerTimes(ctx, triggers, target)
	}, events.SetTimelineTriggerTime)

	unsubCommands := bus.Subscribe(func(e events.Event) {
		payload, ok := e.Data.(conductor.CommandPayload)
		if !ok {
			return
		}
		entry := entryFromPayload(payload, e.Timestamp.UnixMilli())
		if err := s.RecordCommand(ctx, &entry); err != nil {
			s.logger.Warn("recording command failed", "device_id", payload.DeviceID, "error", err)
		}
	}, events.CommandReport, events.CommandError)

	return func() {
		unsubTriggers()
		unsubCommands()
	}
}

func (s *Store) handleTriggerTimes(ctx context.Context, triggers []timeline.TriggerTime, target TimelineTarget) {
	n, err := s.ApplyTriggerTimes(ctx, triggers)
	if err != nil {
		s.logger.Error("writing back trigger times failed", "count", len(triggers), "error", err)
		return
	}
	if n == 0 || target == nil {
		return
	}

	objects, err := s.Timeline(ctx)
	if err != nil {
		s.logger.Error("reloading timeline failed", "error", err)
		return
	}
	s.logger.Debug("trigger times written back", "count", n)
	target.SetTimelineAndMappings(objects, nil)
}

func entryFromPayload(p conductor.CommandPayload, executedAt int64) CommandLogEntry {
	entry := CommandLogEntry{
		DeviceID:      p.DeviceID,
		CommandID:     p.CommandID,
		Context:       p.Context,
		TimelineObjID: p.TimelineObjID,
		Mode:          p.Mode,
		QueueID:       p.QueueID,
		ExecutedAt:    executedAt,
		DurationMs:    p.DurationMs,
		Error:         p.Error,
	}
	if p.Payload != nil {
		if data, err := json.Marshal(p.Payload); err == nil {
			entry.Payload = data
		}
	}
	return entry
}

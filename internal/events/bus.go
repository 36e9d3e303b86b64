// Package events is the subscription bus through which the conductor
// reports to its host. Event names are part of the host contract.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names an event.
type Type string

// Event names surfaced to hosts.
const (
	Info    Type = "info"
	Warning Type = "warning"
	Error   Type = "error"
	Debug   Type = "debug"

	// SetTimelineTriggerTime carries []timeline.TriggerTime. Hosts must
	// write the times back before the next resolve.
	SetTimelineTriggerTime Type = "setTimelineTriggerTime"

	TimelineCallback  Type = "timelineCallback"
	ResolveDone       Type = "resolveDone"
	CommandReport     Type = "commandReport"
	CommandError      Type = "commandError"
	ConnectionChanged Type = "connectionChanged"
	DeviceAdded       Type = "deviceAdded"
	DeviceRemoved     Type = "deviceRemoved"
)

// AllTypes lists every event name.
var AllTypes = []Type{
	Info, Warning, Error, Debug,
	SetTimelineTriggerTime, TimelineCallback, ResolveDone,
	CommandReport, CommandError, ConnectionChanged,
	DeviceAdded, DeviceRemoved,
}

// Event is one published event.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Subscriber receives events.
type Subscriber func(Event)

type subscription struct {
	ch    chan Event
	types map[Type]bool // nil means every type
}

// Bus is a non-blocking publish/subscribe bus. Each subscriber has its own
// buffered channel and delivery goroutine, so a slow subscriber only
// delays itself. When a subscriber's buffer is full the event is dropped
// for that subscriber and counted.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscription
	bufferSize  int
	dropped     atomic.Uint64
	panics      atomic.Uint64
	now         func() time.Time
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		bufferSize: bufferSize,
		now:        time.Now,
	}
}

// SetTimeSource overrides the clock used to stamp events.
func (b *Bus) SetTimeSource(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Subscribe registers fn for the given event types, or for every type if
// none are given. fn runs on the subscription's own goroutine; panics are
// recovered and counted. Returns an unsubscribe function.
func (b *Bus) Subscribe(fn Subscriber, types ...Type) func() {
	sub := &subscription{ch: make(chan Event, b.bufferSize)}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	go func() {
		for event := range sub.ch {
			func() {
				defer func() {
					if r := recover(); r != nil {
						b.panics.Add(1)
					}
				}()
				fn(event)
			}()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subscribers {
				if s == sub {
					b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
					close(sub.ch)
					break
				}
			}
		})
	}
}

// Publish delivers an event to every matching subscriber without blocking.
func (b *Bus) Publish(t Type, data any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{Type: t, Timestamp: b.now().UTC(), Data: data}
	for _, sub := range b.subscribers {
		if sub.types != nil && !sub.types[t] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were dropped on full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Panics returns how many deliveries ended in a subscriber panic.
func (b *Bus) Panics() uint64 {
	return b.panics.Load()
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
}

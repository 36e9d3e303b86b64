package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received := make(chan Event, 1)
	unsub := bus.Subscribe(func(e Event) { received <- e }, SetTimelineTriggerTime)
	defer unsub()

	bus.Publish(SetTimelineTriggerTime, []string{"obj0"})

	select {
	case e := <-received:
		if e.Type != SetTimelineTriggerTime {
			t.Errorf("type = %s, want %s", e.Type, SetTimelineTriggerTime)
		}
		if ids, ok := e.Data.([]string); !ok || ids[0] != "obj0" {
			t.Errorf("data = %v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_TypeFilter(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	var filtered, all []Type
	bus.Subscribe(func(e Event) {
		mu.Lock()
		filtered = append(filtered, e.Type)
		mu.Unlock()
	}, Error)
	bus.Subscribe(func(e Event) {
		mu.Lock()
		all = append(all, e.Type)
		mu.Unlock()
	})

	bus.Publish(Info, "hello")
	bus.Publish(Error, "boom")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(all) == 2 && len(filtered) == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(filtered) != 1 || filtered[0] != Error {
		t.Errorf("filtered = %v, want [error]", filtered)
	}
	if len(all) != 2 {
		t.Errorf("all = %v, want 2 events", all)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	called := make(chan struct{}, 1)
	unsub := bus.Subscribe(func(Event) { called <- struct{}{} })
	unsub()
	unsub() // idempotent

	bus.Publish(Info, nil)
	select {
	case <-called:
		t.Error("unsubscribed handler was called")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe(func(Event) { <-block })

	for i := 0; i < 10; i++ {
		bus.Publish(Info, i)
	}
	close(block)

	if bus.Dropped() == 0 {
		t.Error("expected dropped deliveries on a full buffer")
	}
}

func TestBus_SubscriberPanicRecovered(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	got := make(chan int, 2)
	bus.Subscribe(func(e Event) {
		if e.Data.(int) == 1 {
			panic("subscriber bug")
		}
		got <- e.Data.(int)
	})

	bus.Publish(Info, 1)
	bus.Publish(Info, 2)

	select {
	case v := <-got:
		if v != 2 {
			t.Errorf("got %d, want 2", v)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber stopped after panic")
	}
	if n := bus.Panics(); n != 1 {
		t.Errorf("Panics() = %d, want 1", n)
	}
}

func TestBus_TimeSource(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()
	bus.SetTimeSource(func() time.Time { return time.UnixMilli(10000) })

	got := make(chan Event, 1)
	bus.Subscribe(func(e Event) { got <- e })
	bus.Publish(Debug, nil)

	e := <-got
	if e.Timestamp.UnixMilli() != 10000 {
		t.Errorf("timestamp = %d, want 10000", e.Timestamp.UnixMilli())
	}
}

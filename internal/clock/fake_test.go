package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestFake_AfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(time.UnixMilli(10000))

	var fired atomic.Int32
	c.AfterFunc(100*time.Millisecond, func() { fired.Add(1) })

	c.Advance(99 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("fired early")
	}

	c.Advance(1 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("fired = %d, want 1", fired.Load())
	}

	c.Advance(time.Second)
	if fired.Load() != 1 {
		t.Fatalf("one-shot timer fired %d times", fired.Load())
	}
}

func TestFake_TimerStop(t *testing.T) {
	c := Fake(time.UnixMilli(0))

	fired := false
	timer := c.AfterFunc(50*time.Millisecond, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop() = false on armed timer")
	}
	if timer.Stop() {
		t.Fatal("second Stop() = true")
	}

	c.Advance(time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if c.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d, want 0", c.PendingCount())
	}
}

func TestFake_Ticker(t *testing.T) {
	c := Fake(time.UnixMilli(0))
	ticker := c.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	c.Advance(20 * time.Millisecond)
	select {
	case got := <-ticker.C:
		if got.UnixMilli() != 20 {
			t.Errorf("tick at %d, want 20", got.UnixMilli())
		}
	default:
		t.Fatal("no tick after one interval")
	}

	c.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C:
		t.Fatal("tick before interval elapsed")
	default:
	}
}

func TestFake_AfterImmediate(t *testing.T) {
	c := Fake(time.UnixMilli(500))
	select {
	case got := <-c.After(0):
		if got.UnixMilli() != 500 {
			t.Errorf("After(0) = %d, want 500", got.UnixMilli())
		}
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestNowMillis(t *testing.T) {
	c := Fake(time.UnixMilli(12345))
	if got := NowMillis(c); got != 12345 {
		t.Errorf("NowMillis() = %d, want 12345", got)
	}
}

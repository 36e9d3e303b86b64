package clock

import "time"

// Clock abstracts reading the current time and arming timers.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has elapsed.
	// If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously during
	// Advance (fake) once d has elapsed. The returned Timer cancels it.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks every d on the returned Ticker's C channel.
	// Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a cancellable one-shot timer created by AfterFunc.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. It reports whether the call
// stopped the timer (false if it already fired or was stopped).
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Ticker delivers periodic ticks. The C channel has capacity 1; ticks
// are dropped while the consumer is behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. It does not close C.
func (t *Ticker) Stop() {
	if t == nil || t.stopFunc == nil {
		return
	}
	t.stopFunc()
}

// NowMillis returns the clock's current time as Unix milliseconds, the
// unit used throughout the timeline model.
func NowMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}

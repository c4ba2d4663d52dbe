// Package timeutil abstracts wall-clock time so motion timeouts and capture
// timestamps can be driven deterministically in tests.
package timeutil

import (
	"context"
	"sync"
	"time"
)

// Clock provides the time operations used by the motion gate and the
// frame pipeline.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// Sleep pauses for the specified duration.
	Sleep(d time.Duration)

	// NewTimer creates a Timer that fires once after d.
	NewTimer(d time.Duration) Timer

	// NewTicker creates a Ticker that fires every d.
	NewTicker(d time.Duration) Ticker
}

// Timer represents a single event timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Ticker delivers ticks at intervals.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) Sleep(d time.Duration)           { time.Sleep(d) }

func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time { return r.t.C }
func (r *realTimer) Stop() bool          { return r.t.Stop() }

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// MockClock is a manually controlled clock for testing. Timers and tickers
// fire only when Advance moves the clock past their deadline.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	waiters []*mockWaiter
	changed chan struct{}
}

// NewMockClock creates a MockClock set to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t, changed: make(chan struct{})}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Sleep records the duration and returns immediately.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
}

// Sleeps returns all recorded sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// Set moves the clock to t without firing anything.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d and fires every timer or ticker
// whose deadline has been reached.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	active := c.waiters[:0]
	var due []*mockWaiter
	for _, w := range c.waiters {
		if w.isStopped() {
			continue
		}
		if !now.Before(w.deadline) {
			due = append(due, w)
		}
		if w.period > 0 || now.Before(w.deadline) {
			active = append(active, w)
		}
	}
	c.waiters = active
	c.mu.Unlock()

	for _, w := range due {
		w.fire(now)
	}
}

// Pending returns the number of timers and tickers still waiting to fire.
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.isStopped() {
			n++
		}
	}
	return n
}

// BlockUntil waits until at least n timers or tickers are pending, so a test
// can Advance only after the code under test has armed its timeout.
func (c *MockClock) BlockUntil(ctx context.Context, n int) error {
	for {
		c.mu.Lock()
		pending := 0
		for _, w := range c.waiters {
			if !w.isStopped() {
				pending++
			}
		}
		ch := c.changed
		c.mu.Unlock()
		if pending >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// NewTimer creates a timer that fires once the clock reaches now+d.
func (c *MockClock) NewTimer(d time.Duration) Timer {
	return c.add(d, 0)
}

// NewTicker creates a ticker with period d.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	return mockTicker{c.add(d, d)}
}

func (c *MockClock) add(d, period time.Duration) *mockWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &mockWaiter{
		ch:       make(chan time.Time, 1),
		deadline: c.now.Add(d),
		period:   period,
	}
	c.waiters = append(c.waiters, w)
	close(c.changed)
	c.changed = make(chan struct{})
	return w
}

// mockWaiter backs both MockClock timers (period 0) and tickers.
type mockWaiter struct {
	mu       sync.Mutex
	ch       chan time.Time
	deadline time.Time
	period   time.Duration
	stopped  bool
}

func (w *mockWaiter) C() <-chan time.Time { return w.ch }

func (w *mockWaiter) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	was := !w.stopped
	w.stopped = true
	return was
}

type mockTicker struct{ *mockWaiter }

func (t mockTicker) Stop() { t.mockWaiter.Stop() }

func (w *mockWaiter) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *mockWaiter) fire(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.ch <- now:
	default:
	}
	if w.period > 0 {
		w.deadline = now.Add(w.period)
	} else {
		w.stopped = true
	}
}

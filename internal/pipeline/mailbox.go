package pipeline

import (
	"image"
	"sync"
	"time"
)

// Frame is one captured image.
type Frame struct {
	Seq        uint64
	Image      image.Image
	CapturedAt time.Time
}

// LatestFrame is a single-slot mailbox between the frame producer and the
// detection consumer. Publish never blocks: a frame the consumer has not yet
// taken is overwritten and counted as dropped.
type LatestFrame struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	closed bool
	drops  uint64
}

// NewLatestFrame returns an empty mailbox.
func NewLatestFrame() *LatestFrame {
	m := &LatestFrame{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish stores f, replacing any unconsumed frame. Publishing to a closed
// mailbox is a no-op.
func (m *LatestFrame) Publish(f Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.frame != nil {
		m.drops++
	}
	m.frame = &f
	m.cond.Signal()
}

// Next blocks until a frame is available and takes it. After Close it still
// returns a pending frame once, then reports false.
func (m *LatestFrame) Next() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.frame == nil && !m.closed {
		m.cond.Wait()
	}
	if m.frame == nil {
		return Frame{}, false
	}
	f := *m.frame
	m.frame = nil
	return f, true
}

// Close wakes the consumer. Safe to call more than once.
func (m *LatestFrame) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}

// Drops returns the number of frames overwritten before being consumed.
func (m *LatestFrame) Drops() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

// LatestResult holds the most recent FrameResult for preview readers.
type LatestResult struct {
	mu  sync.RWMutex
	res FrameResult
	ok  bool
}

// Store replaces the held result.
func (l *LatestResult) Store(r FrameResult) {
	l.mu.Lock()
	l.res, l.ok = r, true
	l.mu.Unlock()
}

// Load returns the held result, or false if nothing was stored yet.
func (l *LatestResult) Load() (FrameResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.res, l.ok
}

package testutil

import "sync"

// DefaultEpoch is the first stamp time handed out by a DeterministicClock:
// 2024-01-01T00:00:00Z in unix milliseconds.
const DefaultEpoch int64 = 1704067200000

// DeterministicClock hands out strictly increasing stamp times for tests.
//
// Each call to Next advances by Step milliseconds from the epoch, so the
// same scenario always produces the same stamps (and the same golden
// output).
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	epoch int64
	step  int64
	ticks int64
}

// NewDeterministicClock creates a clock starting at DefaultEpoch with a
// one-second step.
//
// The first call to Next() returns DefaultEpoch + 1000.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(DefaultEpoch, 1000)
}

// NewDeterministicClockAt creates a clock with a custom epoch and step.
// A non-positive step is treated as 1.
func NewDeterministicClockAt(epoch, step int64) *DeterministicClock {
	if step <= 0 {
		step = 1
	}
	return &DeterministicClock{epoch: epoch, step: step}
}

// Next advances the clock and returns the new stamp time.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return c.epoch + c.ticks*c.step
}

// Current returns the latest stamp time without advancing; the epoch
// before the first Next.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch + c.ticks*c.step
}

// Reset rewinds the clock to its epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}

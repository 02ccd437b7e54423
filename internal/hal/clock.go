package hal

import (
	"sync"
	"time"
)

// Clock supplies the two time sources the core needs: a monotonic duration
// for ordering and latency maths, and wall time for audit records.
//
// Tests substitute a manual clock to make staleness and watchdog behaviour
// deterministic.
type Clock interface {
	// Monotonic returns time elapsed since an arbitrary fixed origin.
	// It never goes backwards.
	Monotonic() time.Duration

	// Wall returns the current wall-clock time in UTC.
	Wall() time.Time
}

// SystemClock is the production Clock backed by the runtime's monotonic
// timer.
type SystemClock struct {
	origin time.Time
}

// NewSystemClock creates a SystemClock with its origin at the call time.
func NewSystemClock() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

// Monotonic returns the duration since the clock was created.
func (c *SystemClock) Monotonic() time.Duration {
	return time.Since(c.origin)
}

// Wall returns the current UTC time.
func (c *SystemClock) Wall() time.Time {
	return time.Now().UTC()
}

// ManualClock is a Clock advanced explicitly by the caller. Used with the
// Simulator for deterministic replay of timed behaviour.
type ManualClock struct {
	mu   sync.RWMutex
	now  time.Duration
	wall time.Time
}

// NewManualClock creates a ManualClock at the given wall origin.
func NewManualClock(wall time.Time) *ManualClock {
	return &ManualClock{wall: wall.UTC()}
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.wall = c.wall.Add(d)
	c.mu.Unlock()
}

// Monotonic returns the accumulated advanced duration.
func (c *ManualClock) Monotonic() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Wall returns the advanced wall time.
func (c *ManualClock) Wall() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wall
}

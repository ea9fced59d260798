package timeutil

import (
	"sync"
	"time"
)

var (
	mu  sync.RWMutex
	now = time.Now
)

// Now returns the current wall-clock time in UTC.
func Now() time.Time {
	mu.RLock()
	fn := now
	mu.RUnlock()
	return fn().UTC()
}

// SetClock replaces the clock used by Now and returns a restore func.
// Only tests should call it.
func SetClock(fn func() time.Time) (restore func()) {
	mu.Lock()
	prev := now
	now = fn
	mu.Unlock()
	return func() {
		mu.Lock()
		now = prev
		mu.Unlock()
	}
}

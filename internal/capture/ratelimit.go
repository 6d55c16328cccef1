package capture

import (
	"sync"
	"time"
)

// logLimiter caps how many per-frame errors are logged for each key within a window.
// Suppressed events are counted and reported when the window rotates.
type logLimiter struct {
	mu          sync.Mutex
	current     map[string]int
	suppressed  map[string]int
	windowStart time.Time
	windowSize  time.Duration
	maxPerKey   int
}

func newLogLimiter(maxPerKey int, window time.Duration) *logLimiter {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &logLimiter{
		current:     make(map[string]int),
		suppressed:  make(map[string]int),
		windowStart: time.Now(),
		windowSize:  window,
		maxPerKey:   maxPerKey,
	}
}

// Allow reports whether an event for key may be logged at now. When a window rotates the
// suppressed counts of the previous window are returned.
func (l *logLimiter) Allow(key string, now time.Time) (bool, map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var dropped map[string]int
	if now.Sub(l.windowStart) >= l.windowSize {
		if len(l.suppressed) > 0 {
			dropped = l.suppressed
			l.suppressed = make(map[string]int)
		}
		l.current = make(map[string]int)
		l.windowStart = now
	}

	l.current[key]++
	if l.maxPerKey > 0 && l.current[key] > l.maxPerKey {
		l.suppressed[key]++
		return false, dropped
	}
	return true, dropped
}

package adminapi

import (
	"sync"
	"time"
)

// loginRateLimit implements the process-wide sliding failure counter from
// SUPPLEMENTED FEATURES item 1: 3 failed /login attempts within 60 seconds
// blocks further attempts until the window rolls over or a login succeeds.
type loginRateLimit struct {
	window   time.Duration
	maxFails int

	mu      sync.Mutex
	fails   int
	firstAt time.Time
}

func newLoginRateLimit(window time.Duration, maxFails int) *loginRateLimit {
	return &loginRateLimit{window: window, maxFails: maxFails}
}

// Blocked reports whether login attempts are currently throttled.
func (l *loginRateLimit) Blocked(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fails == 0 {
		return false
	}
	if now.Sub(l.firstAt) > l.window {
		l.fails = 0
		return false
	}
	return l.fails >= l.maxFails
}

// RecordFailure registers one failed login attempt.
func (l *loginRateLimit) RecordFailure(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fails == 0 || now.Sub(l.firstAt) > l.window {
		l.firstAt = now
		l.fails = 1
		return
	}
	l.fails++
}

// RecordSuccess resets the counter on a successful login.
func (l *loginRateLimit) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fails = 0
}

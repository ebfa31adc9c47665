// Package ratelimit implements sliding-window admission control for
// outbound requests.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter bounds request rate to at most maxRequests per window. The window
// slides: only admissions within the trailing window count.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	admitted    []time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Limiter admitting maxRequests per window.
func New(maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// prune drops admissions that fell out of the window. Callers must hold mu.
func (l *Limiter) prune(now time.Time) {
	keep := l.admitted[:0]
	for _, ts := range l.admitted {
		if now.Sub(ts) < l.window {
			keep = append(keep, ts)
		}
	}
	l.admitted = keep
}

// Admit reports whether a new request may proceed now. On admission the
// current timestamp is recorded against the window.
func (l *Limiter) Admit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	if len(l.admitted) < l.maxRequests {
		l.admitted = append(l.admitted, now)
		return true
	}
	return false
}

// WaitIfNeeded blocks until a request is admissible, then records it. It
// returns the total time spent waiting (zero when admission was immediate).
// Another caller may take a freed slot during the sleep, in which case the
// wait is recomputed and the caller keeps blocking.
func (l *Limiter) WaitIfNeeded() time.Duration {
	var waited time.Duration
	for {
		if l.Admit() {
			return waited
		}

		l.mu.Lock()
		now := l.now()
		l.prune(now)
		var wait time.Duration
		if len(l.admitted) > 0 {
			oldest := l.admitted[0]
			for _, ts := range l.admitted[1:] {
				if ts.Before(oldest) {
					oldest = ts
				}
			}
			wait = l.window - now.Sub(oldest)
		}
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		l.sleep(wait)
		waited += wait
	}
}

// Remaining returns how many requests are currently admissible.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	if n := l.maxRequests - len(l.admitted); n > 0 {
		return n
	}
	return 0
}

// Package admission enforces the per-client sliding-window request limit.
package admission

import (
	"sync"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration // until the oldest counted request leaves the window
	RetryAfter int           // whole seconds a denied client should wait, rounded up
}

// Limiter tracks request timestamps per client key over a sliding window.
// All methods are safe for concurrent use.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string][]time.Time
}

// NewLimiter creates a limiter allowing limit admissions per window per key.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string][]time.Time),
	}
}

// Check records an admission attempt for key and reports whether it is
// allowed. Denied attempts are not recorded and never extend the window.
func (l *Limiter) Check(key string) Decision {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	live := prune(l.buckets[key], cutoff)

	if len(live) >= l.limit {
		reset := live[0].Add(l.window).Sub(now)
		l.buckets[key] = live
		return Decision{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			ResetAfter: reset,
			RetryAfter: ceilSeconds(reset),
		}
	}

	live = append(live, now)
	l.buckets[key] = live

	reset := live[0].Add(l.window).Sub(now)
	return Decision{
		Allowed:    true,
		Limit:      l.limit,
		Remaining:  l.limit - len(live),
		ResetAfter: reset,
	}
}

// Status reports the current window state for key without recording anything.
func (l *Limiter) Status(key string) Decision {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	live := prune(l.buckets[key], cutoff)
	if len(live) == 0 {
		delete(l.buckets, key)
	} else {
		l.buckets[key] = live
	}

	d := Decision{
		Allowed:   len(live) < l.limit,
		Limit:     l.limit,
		Remaining: l.limit - len(live),
	}
	if len(live) > 0 {
		d.ResetAfter = live[0].Add(l.window).Sub(now)
	}
	return d
}

// Sweep drops keys whose every timestamp has aged out of the window. It is
// called periodically so idle clients do not accumulate in the map.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, stamps := range l.buckets {
		live := prune(stamps, cutoff)
		if len(live) == 0 {
			delete(l.buckets, key)
			removed++
			continue
		}
		l.buckets[key] = live
	}
	return removed
}

func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

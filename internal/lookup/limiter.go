package lookup

import (
	"context"
	"sync"
	"time"
)

// Limiter is a sliding-window request limiter shared by every job in the
// process. A nil *Limiter never blocks.
type Limiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	stamps      []time.Time
	pausedUntil time.Time
	now         func() time.Time
}

// NewLimiter allows at most limit requests in any window-long interval.
func NewLimiter(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	return &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Wait blocks until a request slot is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		l.mu.Lock()
		delay := l.reserve()
		l.mu.Unlock()
		if delay <= 0 {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Pause blocks all callers for at least d, used when the provider reports an
// exhausted quota.
func (l *Limiter) Pause(d time.Duration) {
	if l == nil || d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := l.now().Add(d); until.After(l.pausedUntil) {
		l.pausedUntil = until
	}
}

// reserve takes a slot and returns 0, or returns how long to wait.
func (l *Limiter) reserve() time.Duration {
	now := l.now()
	if now.Before(l.pausedUntil) {
		return l.pausedUntil.Sub(now)
	}

	cutoff := now.Add(-l.window)
	keep := 0
	for keep < len(l.stamps) && !l.stamps[keep].After(cutoff) {
		keep++
	}
	l.stamps = l.stamps[keep:]

	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return 0
	}
	return l.stamps[0].Add(l.window).Sub(now)
}

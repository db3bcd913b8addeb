package discord

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pruneThreshold is the number of tracked users above which idle limiters
// are dropped on the next Allow.
const pruneThreshold = 1024

// UserLimiter applies a token-bucket rate limit per Discord user. A
// non-positive per-minute rate disables limiting.
type UserLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewUserLimiter allows each user perMinute events per minute with bursts of
// up to burst events.
func NewUserLimiter(perMinute, burst int) *UserLimiter {
	l := &UserLimiter{
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	l.setLocked(perMinute, burst)
	return l
}

// SetLimit changes the rate for every user, including those already tracked.
func (l *UserLimiter) SetLimit(perMinute, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setLocked(perMinute, burst)
	now := l.now()
	for _, lim := range l.limiters {
		lim.SetLimitAt(now, l.limit)
		lim.SetBurstAt(now, l.burst)
	}
}

func (l *UserLimiter) setLocked(perMinute, burst int) {
	if perMinute <= 0 {
		l.limit = rate.Inf
	} else {
		l.limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	l.burst = max(burst, 1)
}

// Allow reports whether userID may act now, consuming a token if so.
func (l *UserLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit == rate.Inf {
		return true
	}
	now := l.now()
	lim, ok := l.limiters[userID]
	if !ok {
		if len(l.limiters) >= pruneThreshold {
			l.pruneLocked(now)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	return lim.AllowN(now, 1)
}

// pruneLocked drops limiters that have refilled completely; recreating them
// is indistinguishable from keeping them.
func (l *UserLimiter) pruneLocked(now time.Time) {
	for id, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, id)
		}
	}
}

// Len returns the number of users currently tracked.
func (l *UserLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

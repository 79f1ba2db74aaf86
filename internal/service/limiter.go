package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterSweepInterval = time.Minute

// ActorLimiter hands out one token bucket per caller key. Buckets that have
// refilled completely are indistinguishable from new ones, so a periodic
// sweep drops them and the map stays bounded by recently active callers.
type ActorLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	qps       rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

func NewActorLimiter(qps float64, burst int) *ActorLimiter {
	if qps <= 0 {
		qps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &ActorLimiter{
		limiters:  make(map[string]*rate.Limiter),
		qps:       rate.Limit(qps),
		burst:     burst,
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

func (l *ActorLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= limiterSweepInterval {
		l.sweep(now)
	}
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.qps, l.burst)
		l.limiters[key] = lim
	}
	return lim.AllowN(now, 1)
}

// Len reports how many buckets are tracked.
func (l *ActorLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *ActorLimiter) sweep(now time.Time) {
	full := float64(l.burst)
	for key, lim := range l.limiters {
		if lim.TokensAt(now) >= full {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

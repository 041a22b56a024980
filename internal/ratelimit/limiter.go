package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"unicity-proxy.backend/internal/domain/entities"
	"unicity-proxy.backend/pkg/clock"
)

// Decision is the outcome of one consume attempt.
type Decision struct {
	Allowed bool
	// Remaining is the lower remaining token count across the two buckets
	// after the consume; meaningful only when Allowed.
	Remaining int
	// RetryAfter is how long the client must wait for both buckets to hold
	// a token again; meaningful only when denied. Never below one second.
	RetryAfter time.Duration
}

// bucketPair is the per-key state: a per-second and a per-day token bucket
// consumed together.
type bucketPair struct {
	mu     sync.Mutex
	limits entities.KeyLimits
	sec    *rate.Limiter
	day    *rate.Limiter
}

// Limiter manages the per-key bucket pairs. Pairs are built on demand and
// rebuilt when the key's plan limits change.
type Limiter struct {
	ts    clock.Clock
	mu    sync.Mutex
	pairs map[string]*bucketPair
}

func NewLimiter(ts clock.Clock) *Limiter {
	if ts == nil {
		ts = clock.System()
	}
	return &Limiter{
		ts:    ts,
		pairs: make(map[string]*bucketPair),
	}
}

func newPair(limits entities.KeyLimits) *bucketPair {
	return &bucketPair{
		limits: limits,
		sec:    rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), limits.RequestsPerSecond),
		day:    rate.NewLimiter(rate.Limit(float64(limits.RequestsPerDay)/86400.0), limits.RequestsPerDay),
	}
}

func (l *Limiter) pair(key string, limits entities.KeyLimits) *bucketPair {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pairs[key]
	if !ok || p.limits != limits {
		p = newPair(limits)
		l.pairs[key] = p
	}
	return p
}

// TryConsume takes one token from both of the key's buckets, or neither.
func (l *Limiter) TryConsume(key string, limits entities.KeyLimits) Decision {
	p := l.pair(key, limits)

	p.mu.Lock()
	defer p.mu.Unlock()

	now := l.ts.Now()
	secTokens := p.sec.TokensAt(now)
	dayTokens := p.day.TokensAt(now)

	if secTokens < 1 || dayTokens < 1 {
		return Decision{RetryAfter: retryAfter(secTokens, dayTokens, p.limits)}
	}

	p.sec.AllowN(now, 1)
	p.day.AllowN(now, 1)

	remaining := int(math.Floor(secTokens)) - 1
	if d := int(math.Floor(dayTokens)) - 1; d < remaining {
		remaining = d
	}
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// Forget drops the key's buckets; the next consume rebuilds them.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pairs, key)
}

func retryAfter(secTokens, dayTokens float64, limits entities.KeyLimits) time.Duration {
	var waitSecs float64
	if secTokens < 1 {
		waitSecs = (1 - secTokens) / float64(limits.RequestsPerSecond)
	}
	if dayTokens < 1 {
		if w := (1 - dayTokens) * 86400.0 / float64(limits.RequestsPerDay); w > waitSecs {
			waitSecs = w
		}
	}
	d := time.Duration(math.Ceil(waitSecs)) * time.Second
	if d < time.Second {
		d = time.Second
	}
	return d
}

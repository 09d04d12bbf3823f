package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// Fallbacks when the security config leaves rate limits unset; deny-by-
// default numbers sized for an unconfigured dev instance, not production.
const (
	defaultRPS   = 5
	defaultBurst = 10
)

// limiterPool hands out one token bucket per caller key (API key, or
// remote IP for unkeyed requests). Buckets are created lazily and live
// for the process; chat traffic reuses a small, stable key set.
type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg SecConfig
}

// Allow reports whether the caller identified by key may proceed.
func (p *limiterPool) Allow(key string) bool {
	return p.bucket(key).Allow()
}

func (p *limiterPool) bucket(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	l, ok := p.m[key]
	if !ok {
		rps := p.cfg.RPS
		if rps <= 0 {
			rps = defaultRPS
		}
		burst := p.cfg.Burst
		if burst <= 0 {
			burst = defaultBurst
		}
		l = rate.NewLimiter(rate.Limit(rps), burst)
		p.m[key] = l
	}
	return l
}

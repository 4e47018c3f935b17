package panel

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CooldownGuard suppresses repeated confirmation dispatches. Each key gets a
// one-token bucket that refills after the interval, so a second dispatch
// inside the window is refused.
type CooldownGuard struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
}

func NewCooldownGuard(interval time.Duration) *CooldownGuard {
	return &CooldownGuard{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (g *CooldownGuard) Interval() time.Duration {
	return g.interval
}

// Allow reports whether a dispatch for key at now is accepted.
func (g *CooldownGuard) Allow(key string, now time.Time) bool {
	g.mu.Lock()
	limiter, ok := g.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(g.interval), 1)
		g.limiters[key] = limiter
	}
	g.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Forget drops the window for key, e.g. after the conversation is reset.
func (g *CooldownGuard) Forget(key string) {
	g.mu.Lock()
	delete(g.limiters, key)
	g.mu.Unlock()
}

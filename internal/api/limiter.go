package api

import (
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedHosts bounds the limiter map; it is reset when exceeded.
const maxTrackedHosts = 10000

// hostLimiter applies a token bucket per target hostname.
type hostLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// newHostLimiter returns nil (no limiting) when rps is not positive.
func newHostLimiter(rps float64, burst int) *hostLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &hostLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *hostLimiter) Allow(host string) bool {
	if l == nil {
		return true
	}
	host = strings.ToLower(host)
	l.mu.Lock()
	lim, ok := l.limiters[host]
	if !ok {
		if len(l.limiters) >= maxTrackedHosts {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

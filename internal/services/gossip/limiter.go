package gossip

import (
	"sync"

	"golang.org/x/time/rate"

	"cipherlink/internal/domain"
)

// deviceLimiter throttles incoming requests per requesting device.
type deviceLimiter struct {
	mu     sync.Mutex
	limit  rate.Limit
	burst  int
	perDev map[string]*rate.Limiter
}

func newDeviceLimiter(perSecond float64, burst int) *deviceLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &deviceLimiter{limit: limit, burst: burst, perDev: map[string]*rate.Limiter{}}
}

func (l *deviceLimiter) Allow(user domain.UserID, device domain.DeviceID) bool {
	key := user.String() + "|" + device.String()
	l.mu.Lock()
	lim, ok := l.perDev[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.perDev[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

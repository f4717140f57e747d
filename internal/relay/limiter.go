package relay

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdle is how long an unused per-host limiter is kept.
const limiterIdle = 10 * time.Minute

type hostLimit struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// hostLimiter throttles channel creation per remote host.
type hostLimiter struct {
	mu     sync.Mutex
	limit  rate.Limit
	burst  int
	now    func() time.Time
	byHost map[string]*hostLimit
}

func newHostLimiter(perSecond float64, burst int, now func() time.Time) *hostLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &hostLimiter{limit: limit, burst: burst, now: now, byHost: map[string]*hostLimit{}}
}

func (l *hostLimiter) Allow(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.byHost) > maxTrackedHosts {
		for h, hl := range l.byHost {
			if now.Sub(hl.lastSeen) > limiterIdle {
				delete(l.byHost, h)
			}
		}
	}
	hl, ok := l.byHost[host]
	if !ok {
		hl = &hostLimit{lim: rate.NewLimiter(l.limit, l.burst)}
		l.byHost[host] = hl
	}
	hl.lastSeen = now
	return hl.lim.AllowN(now, 1)
}

const maxTrackedHosts = 4096

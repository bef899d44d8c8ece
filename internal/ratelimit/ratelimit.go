package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client address. Register and login run
// before any session exists, so the key is the remote IP rather than a user.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*client

	stopCh   chan struct{}
	stopOnce sync.Once
}

type client struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New creates a per-IP limiter allowing perMin requests per minute with the
// given burst, and starts a background cleanup of idle entries.
func New(perMin float64, burst int) *Limiter {
	l := &Limiter{
		limit:   rate.Limit(perMin / 60.0),
		burst:   burst,
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Allow reports whether the given remote address may proceed.
func (l *Limiter) Allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	l.mu.Lock()
	c, ok := l.clients[host]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[host] = c
	}
	c.lastAccess = time.Now()
	l.mu.Unlock()
	return c.limiter.Allow()
}

// Middleware rejects over-limit requests with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(r.RemoteAddr) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Len reports tracked client entries.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) cleanupLoop() {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.cleanup(10 * time.Minute)
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) cleanup(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for host, c := range l.clients {
		if c.lastAccess.Before(cutoff) {
			delete(l.clients, host)
		}
	}
}

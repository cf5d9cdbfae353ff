package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter hands out one token bucket per client IP. Idle buckets are
// evicted so the map does not grow with every scanner on the internet.
type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket

	ratePerSec rate.Limit
	burst      int
	trustProxy bool
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const clientIdleTTL = 10 * time.Minute

func newIPLimiter(ratePerSec float64, burst int, trustProxy bool) *ipLimiter {
	return &ipLimiter{
		clients:    make(map[string]*clientBucket),
		ratePerSec: rate.Limit(ratePerSec),
		burst:      burst,
		trustProxy: trustProxy,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.ratePerSec, l.burst)}
		l.clients[ip] = b
	}
	b.lastSeen = time.Now()

	if len(l.clients) > 1024 {
		l.evictIdle()
	}
	return b.limiter.Allow()
}

// evictIdle must be called with mu held.
func (l *ipLimiter) evictIdle() {
	cutoff := time.Now().Add(-clientIdleTTL)
	for ip, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// clientIP extracts the caller's IP. X-Forwarded-For is only honored
// when the server is configured to sit behind a trusted proxy; otherwise
// it is attacker-controlled.
func (l *ipLimiter) clientIP(r *http.Request) string {
	if l.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimitMiddleware rejects clients that exceed their per-IP bucket
// with 429.
func rateLimitMiddleware(l *ipLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := l.clientIP(r)
			if !l.allow(ip) {
				logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				writeError(w, logger, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

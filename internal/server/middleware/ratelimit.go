package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// RateLimit allows each client IP limit requests per window. Forwarding
// headers are honoured only when the connection comes from one of trusted.
// Limiter failures let the request through.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration, trusted []netip.Prefix, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), "ratelimit:api:"+clientIP(r, trusted), limit, window)
			if err != nil {
				logger.WarnContext(r.Context(), "middleware: rate limiter unavailable", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(window/time.Duration(limit)/time.Second))))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the connection address. When that address is a trusted
// proxy it prefers the first X-Forwarded-For hop, then X-Real-IP.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !fromProxy(host, trusted) {
		return host
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return host
}

func fromProxy(host string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// LocalLimiter is an in-process domain.RateLimiter: one token bucket per key
// refilling limit tokens per window. It serves single-instance deployments
// without Redis. A bucket idle for a whole window is full again, so it is
// dropped on the next sweep.
type LocalLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*localBucket
	lastSweep time.Time
	now       func() time.Time
}

type localBucket struct {
	limiter *rate.Limiter
	window  time.Duration
	seen    time.Time
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{buckets: make(map[string]*localBucket), now: time.Now}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= window {
		l.sweep(now)
		l.lastSweep = now
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{
			limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
			window:  window,
		}
		l.buckets[key] = b
	}
	b.seen = now
	return b.limiter.AllowN(now, 1), nil
}

func (l *LocalLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= b.window {
			delete(l.buckets, key)
		}
	}
}

// Len reports how many buckets are held.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

var _ domain.RateLimiter = (*LocalLimiter)(nil)

package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type contextKey int

const (
	ctxKeyName contextKey = iota
	ctxRemoteIP
)

// RequestKeyName returns the name of the key that authenticated the
// request, or "".
func RequestKeyName(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyName).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Falls back to the raw value if parsing fails.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

const (
	rateLimitWindow         = 5 * time.Minute
	rateLimitMaxFail        = 10
	rateLimitPruneThreshold = 1000
)

// failureLimiter tracks failed authentications per IP with a sliding
// window. After rateLimitMaxFail failures within the window, further
// attempts are rejected until the window expires.
type failureLimiter struct {
	mu       sync.Mutex
	now      func() time.Time
	failures map[string][]time.Time
}

func newFailureLimiter() *failureLimiter {
	return &failureLimiter{
		now:      time.Now,
		failures: make(map[string][]time.Time),
	}
}

// limited returns true if the IP is currently rate-limited.
func (rl *failureLimiter) limited(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rateLimitWindow)

	// Prevent unbounded growth from many distinct source IPs.
	if len(rl.failures) > rateLimitPruneThreshold {
		for k, times := range rl.failures {
			if len(times) == 0 || times[len(times)-1].Before(cutoff) {
				delete(rl.failures, k)
			}
		}
	}

	recent := rl.failures[ip][:0]
	for _, t := range rl.failures[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) == 0 {
		delete(rl.failures, ip)
	} else {
		rl.failures[ip] = recent
	}

	return len(recent) >= rateLimitMaxFail
}

func (rl *failureLimiter) record(ip string) {
	rl.mu.Lock()
	rl.failures[ip] = append(rl.failures[ip], rl.now())
	rl.mu.Unlock()
}

// Middleware returns HTTP middleware that requires a valid bearer API
// key. Failures get a 401; an IP with too many recent failures gets a 429
// without its key being checked.
func Middleware(keys *KeyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return middleware(keys, logger, newFailureLimiter())
}

func middleware(keys *KeyStore, logger *slog.Logger, limiter *failureLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			if limiter.limited(ip) {
				logger.Warn("middleware: rate limited", slog.String("ip", ip), slog.String("path", r.URL.Path))
				http.Error(w, "too many failed attempts", http.StatusTooManyRequests)

				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			name, ok := keys.Validate(strings.TrimPrefix(authHeader, "Bearer "))
			if !ok {
				limiter.record(ip)
				logger.Info("middleware: invalid api key",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			logger.Debug("middleware: authenticated",
				slog.String("key", name),
				slog.String("ip", ip),
			)

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxKeyName, name)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

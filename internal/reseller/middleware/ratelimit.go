package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/25x8/smm-reseller/internal/reseller/apperr"
	"github.com/25x8/smm-reseller/internal/reseller/ratelimit"
	"github.com/25x8/smm-reseller/internal/reseller/respond"
)

// HitRecorder counts a request against a fixed window.
type HitRecorder interface {
	RecordHit(ctx context.Context, identifier, route string, limit int64, window time.Duration) ratelimit.Result
}

// RateLimit gates requests per caller and route. The caller is the
// authenticated user when known, otherwise the client IP.
func RateLimit(limiter HitRecorder, limit int64, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.RecordHit(r.Context(), identifier(r), routeOf(r), limit, window)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				respond.Error(w, r, &apperr.RateLimitExceeded{RetryAfter: res.RetryAfter})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func identifier(r *http.Request) string {
	if id, ok := GetUserID(r.Context()); ok {
		return "user:" + strconv.FormatInt(id, 10)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// routeOf prefers the chi route pattern so path parameters share a bucket.
func routeOf(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return r.Method + " " + p
		}
	}
	return r.Method + " " + r.URL.Path
}

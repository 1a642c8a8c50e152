package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"tasklist-api/internal/domain"
	"tasklist-api/internal/metrics"
	"tasklist-api/internal/ratelimit"
	"tasklist-api/internal/respond"
	"tasklist-api/pkg/logging/logging"
)

// RateLimit admits each request through l, keyed by the identity that
// Identity stored. A limiter failure lets the request through.
func RateLimit(l ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity := domain.IdentityFromCtx(ctx)
			if identity == "" {
				identity = "ip:" + clientIP(r)
			}

			d, err := l.Admit(ctx, identity)
			if err != nil {
				metrics.RateLimitDecisionsTotal.WithLabelValues("error").Inc()
				logging.L(ctx).Warn("rate limiter unavailable, admitting request",
					zap.String("identity", identity),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining()))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				metrics.RateLimitDecisionsTotal.WithLabelValues("rejected").Inc()
				wait := d.RetryAfter(time.Now())
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				logging.L(ctx).Info("rate limited",
					zap.String("identity", identity),
					zap.Int("count", d.Count),
					zap.Int("limit", d.Limit),
				)
				respond.Error(w, http.StatusTooManyRequests, "rate limited")
				return
			}

			metrics.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

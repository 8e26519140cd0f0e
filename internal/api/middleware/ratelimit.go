package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/subtitler/internal/api/response"
)

const (
	defaultSubmissionsPerWindow = 30
	rateWindow                  = time.Minute
)

// RequestCounter counts hits per client in fixed windows. cache.RedisCache
// satisfies it.
type RequestCounter interface {
	CountRequest(ctx context.Context, client string, window time.Duration) (int64, error)
}

// RateLimit caps job submissions per client IP per minute. Submissions start
// ffmpeg and speech-to-text work, so the limit guards those rather than
// request volume in general.
type RateLimit struct {
	counter RequestCounter
	limit   int
	now     func() time.Time
}

func NewRateLimit(counter RequestCounter, perMinute int) *RateLimit {
	if perMinute <= 0 {
		perMinute = defaultSubmissionsPerWindow
	}
	return &RateLimit{counter: counter, limit: perMinute, now: time.Now}
}

func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := GetClientIP(r)
		count, err := rl.counter.CountRequest(r.Context(), ip, rateWindow)
		if err != nil {
			// fail open: a cache outage must not block submissions
			slog.Warn("rate limit check failed", "client_ip", ip, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		now := rl.now()
		reset := now.Truncate(rateWindow).Add(rateWindow)
		remaining := max(rl.limit-int(count), 0)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(rl.limit) {
			slog.Info("submission rate limited", "client_ip", ip, "count", count)
			response.RetryLater(w, http.StatusTooManyRequests, reset.Sub(now),
				"RATE_LIMIT_EXCEEDED", "Too many submissions, try again later",
				map[string]any{"limit_per_minute": rl.limit})
			return
		}

		next.ServeHTTP(w, r)
	})
}

package middleware

import "time"

func SetRateLimitClock(rl *RateLimit, now func() time.Time) { rl.now = now }

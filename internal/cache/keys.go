package cache

import (
	"fmt"

	"github.com/google/uuid"
)

const keyPrefix = "subtitler"

// JobProgressKey names the hash holding a job's latest progress snapshot.
func JobProgressKey(jobID uuid.UUID) string {
	return fmt.Sprintf("%s:job:%s:progress", keyPrefix, jobID)
}

// RateLimitKey names the counter for one client within one fixed window.
func RateLimitKey(client string, window int64) string {
	return fmt.Sprintf("%s:ratelimit:%s:%d", keyPrefix, client, window)
}

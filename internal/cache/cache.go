// Package cache keeps short-lived job state in Redis: progress snapshots that
// clients poll between store writes, and per-client request counters.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ProgressTTL bounds how long a progress snapshot outlives its last write.
const ProgressTTL = time.Hour

const (
	fieldPercent   = "progress"
	fieldPhase     = "phase"
	fieldTitle     = "title"
	fieldUpdatedAt = "updated_at"
)

// Progress is the snapshot polled by clients between store writes.
type Progress struct {
	Percent   int       `json:"progress"`
	Phase     string    `json:"phase"`
	Title     string    `json:"title,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cache is safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	SetJobProgress(ctx context.Context, jobID uuid.UUID, p Progress) error
	GetJobProgress(ctx context.Context, jobID uuid.UUID) (Progress, bool, error)
	DeleteJobProgress(ctx context.Context, jobID uuid.UUID) error
	// CountRequest adds one hit for client in the current fixed window and
	// returns the window's running total.
	CountRequest(ctx context.Context, client string, window time.Duration) (int64, error)
}

type RedisCache struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisCache parses a redis:// URL. It does not dial; call Ping to check
// connectivity.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts), now: time.Now}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetJobProgress replaces the snapshot hash and refreshes its TTL atomically.
func (c *RedisCache) SetJobProgress(ctx context.Context, jobID uuid.UUID, p Progress) error {
	key := JobProgressKey(jobID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldPercent, p.Percent,
			fieldPhase, p.Phase,
			fieldTitle, p.Title,
			fieldUpdatedAt, p.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, ProgressTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write progress %s: %w", jobID, err)
	}
	return nil
}

func (c *RedisCache) GetJobProgress(ctx context.Context, jobID uuid.UUID) (Progress, bool, error) {
	fields, err := c.client.HGetAll(ctx, JobProgressKey(jobID)).Result()
	if err != nil {
		return Progress{}, false, err
	}
	if len(fields) == 0 {
		return Progress{}, false, nil
	}

	percent, err := strconv.Atoi(fields[fieldPercent])
	if err != nil {
		return Progress{}, false, fmt.Errorf("progress %s: bad percent %q", jobID, fields[fieldPercent])
	}
	updated, err := time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt])
	if err != nil {
		return Progress{}, false, fmt.Errorf("progress %s: bad timestamp: %w", jobID, err)
	}
	return Progress{
		Percent:   percent,
		Phase:     fields[fieldPhase],
		Title:     fields[fieldTitle],
		UpdatedAt: updated,
	}, true, nil
}

func (c *RedisCache) DeleteJobProgress(ctx context.Context, jobID uuid.UUID) error {
	return c.client.Del(ctx, JobProgressKey(jobID)).Err()
}

func (c *RedisCache) CountRequest(ctx context.Context, client string, window time.Duration) (int64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("count request: non-positive window %s", window)
	}
	bucket := c.now().UnixNano() / int64(window)
	key := RateLimitKey(client, bucket)

	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

var _ Cache = (*RedisCache)(nil)

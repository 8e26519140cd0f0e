package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

func SetClock(c *RedisCache, now func() time.Time) { c.now = now }

func RawClient(c *RedisCache) *redis.Client { return c.client }

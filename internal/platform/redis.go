package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates the Redis client shared by cluster heartbeat
// publishing and autoscaler metric reads. Both callers issue one short
// command per tick (a SET on the election interval, a GET on the autoscaler
// tick) rather than holding many commands in flight, so the pool is capped
// well below the driver's default of 10x GOMAXPROCS to fail fast instead of
// queuing commands behind a wedged connection during a partial Redis outage.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	opts.PoolSize = 8
	opts.MinIdleConns = 1
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

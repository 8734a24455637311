package cluster

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeartbeatPublisher writes the local node's liveness key to a shared Redis
// instance on every election tick, alongside the in-memory Registry/Sweep
// pair. The in-memory registry stays authoritative for the local vote;
// nothing in this package reads the heartbeat keys back, so they serve only
// as a liveness record for out-of-process readers.
type HeartbeatPublisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewHeartbeatPublisher creates a publisher that keys entries under
// "<prefix><nodeID>" with the given TTL. client may be nil, in which case
// Publish is a no-op — Redis heartbeating is an optional enhancement over
// the base registry, not a hard dependency of leader election.
func NewHeartbeatPublisher(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *HeartbeatPublisher {
	return &HeartbeatPublisher{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// Publish refreshes the local node's liveness key. Failures are logged, not
// returned: a missed heartbeat write degrades cross-process discovery but
// must never block or fail the local election tick.
func (h *HeartbeatPublisher) Publish(ctx context.Context, nodeID string) {
	if h.client == nil {
		return
	}
	if err := h.client.Set(ctx, h.prefix+nodeID, time.Now().UTC().Format(time.RFC3339), h.ttl).Err(); err != nil {
		h.logger.Warn("cluster: publishing heartbeat to redis failed", "node", nodeID, "error", err)
	}
}

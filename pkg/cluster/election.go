package cluster

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Election runs the periodic leader-election tick (L5): a 5-second-nominal
// loop that snapshots the cluster registry plus self and hands leadership
// to whichever node has the lexicographically lowest id.
//
// This is an eventually-consistent hint, not a distributed commit — two
// nodes can disagree about who is leader if their registries disagree.
// Consumers of IsLeader must tolerate that.
type Election struct {
	registry  *Registry
	state     *SharedState
	logger    *slog.Logger
	interval  time.Duration
	peerTTL   time.Duration
	heartbeat *HeartbeatPublisher

	isLeaderGauge prometheus.Gauge
	sizeGauge     prometheus.Gauge
}

// NewElection creates an Election loop. interval is the tick period and
// peerTTL the staleness window past which a peer that stopped heartbeating
// is swept from the registry before the next vote. heartbeat may be nil.
func NewElection(registry *Registry, state *SharedState, interval, peerTTL time.Duration, heartbeat *HeartbeatPublisher, isLeaderGauge, sizeGauge prometheus.Gauge, logger *slog.Logger) *Election {
	return &Election{
		registry:      registry,
		state:         state,
		logger:        logger,
		interval:      interval,
		peerTTL:       peerTTL,
		heartbeat:     heartbeat,
		isLeaderGauge: isLeaderGauge,
		sizeGauge:     sizeGauge,
	}
}

// Run blocks, ticking the election cycle until ctx is cancelled.
func (e *Election) Run(ctx context.Context) error {
	e.logger.Info("leader election started", "interval", e.interval, "local_node", e.state.LocalNodeID())

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("leader election stopped")
			return nil
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick performs one election cycle: publish a heartbeat, sweep stale peers,
// then vote.
func (e *Election) tick(ctx context.Context) {
	if e.heartbeat != nil {
		e.heartbeat.Publish(ctx, e.state.LocalNodeID())
	}

	if e.peerTTL > 0 {
		if evicted := e.registry.Sweep(e.peerTTL); len(evicted) > 0 {
			e.logger.Info("leader election swept stale peers", "addrs", evicted)
		}
	}

	peers := e.registry.SnapshotWithSelf()
	winner := electWinner(peers, e.state.LocalNodeID())

	e.state.SetLeader(winner)

	if e.isLeaderGauge != nil {
		if e.state.IsLeader() {
			e.isLeaderGauge.Set(1)
		} else {
			e.isLeaderGauge.Set(0)
		}
	}
	if e.sizeGauge != nil {
		e.sizeGauge.Set(float64(e.state.ClusterSize()))
	}
}

// electWinner picks the lexicographically lowest node id in peers. If
// peers is empty (should not occur, since the snapshot always includes
// self), localID wins by default.
func electWinner(peers []PeerNode, localID string) string {
	if len(peers) == 0 {
		return localID
	}
	winner := peers[0].ID
	for _, p := range peers[1:] {
		if p.ID < winner {
			winner = p.ID
		}
	}
	return winner
}

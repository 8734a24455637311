package cluster

import (
	"sync"

	"go.uber.org/atomic"
)

// SharedState is the small piece of cluster-wide status every subsystem
// reads: whether this node currently believes itself the leader, who it
// thinks the leader is, and how many peers are known. It is written by
// Leader Election and by Registry.Register/Remove (cluster size only).
//
// is_leader and leader_id must change together — is_leader is true iff
// leader_id equals the local node id — so they're guarded by a mutex
// rather than updated as independent atomics. ClusterSize changes far
// more often and independently, so it's a plain atomic counter.
type SharedState struct {
	localNodeID string
	clusterSize atomic.Uint32

	mu       sync.RWMutex
	isLeader bool
	leaderID string // empty means "none yet"
}

// NewSharedState creates SharedState for a node whose own id is
// localNodeID. Cluster size starts at 1 (self).
func NewSharedState(localNodeID string) *SharedState {
	s := &SharedState{localNodeID: localNodeID}
	s.clusterSize.Store(1)
	return s
}

// LocalNodeID returns this node's own id.
func (s *SharedState) LocalNodeID() string { return s.localNodeID }

// ClusterSize returns the current known cluster size.
func (s *SharedState) ClusterSize() uint32 { return s.clusterSize.Load() }

// SetClusterSize updates the cluster size, called by Registry after a
// register/remove that changed membership.
func (s *SharedState) SetClusterSize(n uint32) { s.clusterSize.Store(n) }

// IsLeader reports whether this node currently believes it is the leader.
func (s *SharedState) IsLeader() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isLeader
}

// LeaderID returns the id of the node this node believes is the leader,
// and whether a leader has been determined yet.
func (s *SharedState) LeaderID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leaderID, s.leaderID != ""
}

// SetLeader atomically updates is_leader and leader_id together,
// preserving the is_leader ⇔ leader_id == local invariant.
func (s *SharedState) SetLeader(leaderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderID = leaderID
	s.isLeader = leaderID == s.localNodeID
}

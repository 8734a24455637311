package cluster

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestElectWinner_LowestID(t *testing.T) {
	peers := []PeerNode{
		{Addr: "10.0.0.2:80", ID: "10.0.0.2:80"},
		{Addr: "10.0.0.3:80", ID: "10.0.0.3:80"},
		{Addr: "10.0.0.1:80", ID: "10.0.0.1:80"},
	}
	got := electWinner(peers, "10.0.0.1:80")
	if got != "10.0.0.1:80" {
		t.Errorf("electWinner() = %q, want 10.0.0.1:80", got)
	}
}

func TestElectWinner_EmptyDefaultsToSelf(t *testing.T) {
	got := electWinner(nil, "local")
	if got != "local" {
		t.Errorf("electWinner(nil) = %q, want local", got)
	}
}

func TestTick_LeaderByLowestID(t *testing.T) {
	s := NewSharedState("10.0.0.1:80")
	r := NewRegistry(s)
	r.Register(PeerNode{Addr: "10.0.0.2:80", ID: "10.0.0.2:80"})
	r.Register(PeerNode{Addr: "10.0.0.3:80", ID: "10.0.0.3:80"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewElection(r, s, 5*time.Second, 0, nil, nil, nil, logger)
	e.tick(context.Background())

	if !s.IsLeader() {
		t.Error("IsLeader() = false, want true (lowest id is local)")
	}
	leaderID, ok := s.LeaderID()
	if !ok || leaderID != "10.0.0.1:80" {
		t.Errorf("LeaderID() = %q, %v, want 10.0.0.1:80, true", leaderID, ok)
	}
}

func TestTick_FollowerWhenNotLowestID(t *testing.T) {
	s := NewSharedState("10.0.0.3:80")
	r := NewRegistry(s)
	r.Register(PeerNode{Addr: "10.0.0.1:80", ID: "10.0.0.1:80"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewElection(r, s, 5*time.Second, 0, nil, nil, nil, logger)
	e.tick(context.Background())

	if s.IsLeader() {
		t.Error("IsLeader() = true, want false")
	}
	leaderID, _ := s.LeaderID()
	if leaderID != "10.0.0.1:80" {
		t.Errorf("LeaderID() = %q, want 10.0.0.1:80", leaderID)
	}
}

func TestTick_InvariantHoldsAfterElection(t *testing.T) {
	s := NewSharedState("node-b")
	r := NewRegistry(s)
	r.Register(PeerNode{Addr: "node-a", ID: "node-a"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewElection(r, s, 5*time.Second, 0, nil, nil, nil, logger)
	e.tick(context.Background())

	leaderID, _ := s.LeaderID()
	if s.IsLeader() != (leaderID == s.LocalNodeID()) {
		t.Error("is_leader <=> leader_id == local_node_id invariant violated")
	}
}

func TestTick_SweepsStalePeersBeforeVoting(t *testing.T) {
	s := NewSharedState("node-b")
	r := NewRegistry(s)
	r.Register(PeerNode{Addr: "node-a", ID: "node-a", LastSeen: time.Now().Add(-time.Hour)})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewElection(r, s, 5*time.Second, time.Minute, nil, nil, nil, logger)
	e.tick(context.Background())

	if !s.IsLeader() {
		t.Error("node-b should be leader once the stale node-a is swept")
	}
}

// Package cluster implements the cluster registry and leader election that
// let every OmniOrchestrator node agree, approximately, on who is in charge
// (L4 + L5 of the control-plane design).
package cluster

import (
	"fmt"
	"strings"
	"time"
)

// PeerNode is one entry in the cluster registry: a node's address plus its
// stable id. Addr is the key the registry stores peers under; ID is
// carried separately because in principle it can diverge from Addr (an id
// of the form "<name>@<addr>" names a node whose current address changed).
type PeerNode struct {
	Addr     string
	ID       string
	LastSeen time.Time
}

// parseNodeAddr extracts the address a node id claims to be reachable at.
// An id with no "@" is its own address (the common case); an id of the
// form "name@addr" claims addr explicitly.
func parseNodeAddr(id string) string {
	if i := strings.LastIndex(id, "@"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// validatePeer rejects a registration whose id claims an address other
// than the one it's being registered under — the explicit resolution of
// the addr/id divergence question in SPEC_FULL.md §9.
func validatePeer(p PeerNode) error {
	if claimed := parseNodeAddr(p.ID); claimed != p.Addr {
		return fmt.Errorf("cluster: peer id %q claims addr %q, got %q", p.ID, claimed, p.Addr)
	}
	return nil
}

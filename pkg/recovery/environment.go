package recovery

import "sort"

// NodeRole identifies the part a node plays in a target recovery
// environment. This is a separate axis from fleet.Kind (cloud/edge): a
// target environment's nodes are the hosts being restored into, which may
// not even be part of this process's live fleet registry yet.
type NodeRole string

const (
	RoleMaster             NodeRole = "master"
	RoleDirector           NodeRole = "director"
	RoleOrchestrator       NodeRole = "orchestrator"
	RoleNetworkController  NodeRole = "network_controller"
	RoleApplicationCatalog NodeRole = "application_catalog"
	RoleStorage            NodeRole = "storage"
)

// TargetNode is one host in the environment a recovery restores into.
// BackendID names the fleet backend that owns it, resolved by the executor
// through the fleet registry at dispatch time.
type TargetNode struct {
	ID        string
	Role      NodeRole
	BackendID string
}

// Environment is the set of nodes a recovery targets. AdminBackendID names
// the backend that handles environment-wide synthetic jobs
// (infrastructure_preparation, finalization) that aren't addressed to any
// single role-selected node.
type Environment struct {
	Name           string
	Nodes          []TargetNode
	AdminBackendID string
}

// First returns the first node (by id) of the given role.
func (e Environment) First(role NodeRole) (TargetNode, bool) {
	matches := e.All(role)
	if len(matches) == 0 {
		return TargetNode{}, false
	}
	return matches[0], true
}

// All returns every node of the given role, sorted by id for determinism.
func (e Environment) All(role NodeRole) []TargetNode {
	var out []TargetNode
	for _, n := range e.Nodes {
		if n.Role == role {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

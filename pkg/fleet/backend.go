package fleet

import "context"

// Backend is the capability set the Fleet Registry (and the Recovery
// Executor, for component recovery) drive against a worker-hosting
// backend — called "Agent" or "Director" in the system this control
// plane grew out of. Implementations talk to a concrete cloud or edge
// provider; the core treats every backend uniformly through this
// interface and stores them in a map keyed by BackendID rather than by
// pointer, so a Node can reference its owning backend by id without
// creating a reference cycle between Node, Backend, and Registry.
//
// Every method may suspend on network I/O and may fail; a failing call
// is logged by the caller and never panics the registry or the
// autoscaler.
type Backend interface {
	// ID returns the backend's stable identity.
	ID() string

	// ListNodes returns every node this backend currently reports.
	ListNodes(ctx context.Context) ([]Node, error)

	// ListUnits returns every worker unit this backend currently reports,
	// in any lifecycle state.
	ListUnits(ctx context.Context) ([]Unit, error)

	// CreateUnit provisions a new worker unit on the given node.
	CreateUnit(ctx context.Context, nodeID, name string, request Resources) (Unit, error)

	// TerminateUnit tears down a worker unit by id.
	TerminateUnit(ctx context.Context, unitID string) error

	// RequestComponentRecovery asks the backend to restore a single
	// component on a single node from a recovery job's resolved config.
	// config is an opaque, backend-specific JSON string (commonly an ISO
	// path or set of paths); the core never interprets it.
	RequestComponentRecovery(ctx context.Context, nodeID, componentType, config string) error
}

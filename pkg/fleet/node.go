// Package fleet tracks the backends that host worker units (VMs or app
// instances), the nodes those backends report, and the units running on
// them. It is the Fleet Registry (L2) from the control-plane design: a
// single in-memory source of truth that the autoscaler reads to find
// placement targets and that backend discovery writes to.
package fleet

// Kind identifies the class of host a Node represents.
type Kind string

const (
	KindCloud Kind = "cloud"
	KindEdge  Kind = "edge"
)

// Resources is a (cpu_cores, memory_mb, storage_gb) triple, used both as a
// node's capacity/free pair and as a unit's resource request.
type Resources struct {
	CPUCores  float64
	MemoryMB  int64
	StorageGB int64
}

// Fits reports whether want fits within r on every axis.
func (r Resources) Fits(want Resources) bool {
	return r.CPUCores >= want.CPUCores && r.MemoryMB >= want.MemoryMB && r.StorageGB >= want.StorageGB
}

// Sub returns r - want, clamped at zero on each axis. Callers are expected
// to have already checked Fits; clamping only guards against float drift.
func (r Resources) Sub(want Resources) Resources {
	out := Resources{
		CPUCores:  r.CPUCores - want.CPUCores,
		MemoryMB:  r.MemoryMB - want.MemoryMB,
		StorageGB: r.StorageGB - want.StorageGB,
	}
	if out.CPUCores < 0 {
		out.CPUCores = 0
	}
	if out.MemoryMB < 0 {
		out.MemoryMB = 0
	}
	if out.StorageGB < 0 {
		out.StorageGB = 0
	}
	return out
}

// Add returns r + amount.
func (r Resources) Add(amount Resources) Resources {
	return Resources{
		CPUCores:  r.CPUCores + amount.CPUCores,
		MemoryMB:  r.MemoryMB + amount.MemoryMB,
		StorageGB: r.StorageGB + amount.StorageGB,
	}
}

// Node is a physical or virtual host that can carry worker units, owned by
// exactly one backend. Capacity and Free must satisfy Free <= Capacity on
// every axis; that invariant is maintained by Registry.Reserve/Release, the
// only mutators of Free outside of a fresh discovery pass.
type Node struct {
	ID             string
	Name           string
	Kind           Kind
	Online         bool
	OwningBackend  string
	Capacity       Resources
	Free           Resources
}

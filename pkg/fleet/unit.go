package fleet

import "time"

// UnitState is the lifecycle state of a worker unit.
type UnitState string

const (
	UnitProvisioning UnitState = "provisioning"
	UnitRunning      UnitState = "running"
	UnitStopping     UnitState = "stopping"
	UnitTerminated   UnitState = "terminated"
	UnitFailed       UnitState = "failed"
)

// owned reports whether a unit in this state holds exactly one owning node,
// per the Worker Unit invariant in SPEC_FULL.md.
func (s UnitState) owned() bool {
	switch s {
	case UnitProvisioning, UnitRunning, UnitStopping:
		return true
	default:
		return false
	}
}

// Unit is the thing the autoscaler creates and destroys: a VM for the
// worker autoscaler, an app instance for the app autoscaler. The core
// treats both uniformly.
type Unit struct {
	ID         string
	Name       string
	NodeID     string
	State      UnitState
	CreatedAt  time.Time
	Request    Resources
}

// Owned reports whether this unit currently holds a node reservation.
func (u Unit) Owned() bool {
	return u.State.owned()
}

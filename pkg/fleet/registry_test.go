package fleet

import (
	"context"
	"errors"
	"log/slog"
	"io"
	"testing"
	"time"
)

type fakeBackend struct {
	id               string
	nodes            []Node
	units            []Unit
	listNodesErr     error
	listUnitsErr     error
	createUnitResult Unit
	createUnitErr    error
	terminateErr     error
	created          []string
	terminated       []string
}

func (f *fakeBackend) ID() string { return f.id }

func (f *fakeBackend) ListNodes(ctx context.Context) ([]Node, error) {
	if f.listNodesErr != nil {
		return nil, f.listNodesErr
	}
	return f.nodes, nil
}

func (f *fakeBackend) ListUnits(ctx context.Context) ([]Unit, error) {
	if f.listUnitsErr != nil {
		return nil, f.listUnitsErr
	}
	return f.units, nil
}

func (f *fakeBackend) CreateUnit(ctx context.Context, nodeID, name string, request Resources) (Unit, error) {
	if f.createUnitErr != nil {
		return Unit{}, f.createUnitErr
	}
	f.created = append(f.created, name)
	u := f.createUnitResult
	u.Name = name
	u.NodeID = nodeID
	u.Request = request
	return u, nil
}

func (f *fakeBackend) TerminateUnit(ctx context.Context, unitID string) error {
	if f.terminateErr != nil {
		return f.terminateErr
	}
	f.terminated = append(f.terminated, unitID)
	return nil
}

func (f *fakeBackend) RequestComponentRecovery(ctx context.Context, nodeID, componentType, config string) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFindAvailableNode_PrefersPreferredKind(t *testing.T) {
	r := NewRegistry(KindCloud, UnitTemplate{}, testLogger())
	r.nodes["edge-1"] = Node{ID: "edge-1", Kind: KindEdge, Online: true, Free: Resources{CPUCores: 4, MemoryMB: 4096, StorageGB: 40}}
	r.nodes["cloud-1"] = Node{ID: "cloud-1", Kind: KindCloud, Online: true, Free: Resources{CPUCores: 2, MemoryMB: 2048, StorageGB: 20}}

	id, ok := r.FindAvailableNode(Resources{CPUCores: 1, MemoryMB: 1024, StorageGB: 10})
	if !ok {
		t.Fatal("expected a match")
	}
	if id != "cloud-1" {
		t.Errorf("FindAvailableNode() = %q, want cloud-1 (preferred kind)", id)
	}
}

func TestFindAvailableNode_FallsBackToOtherKind(t *testing.T) {
	r := NewRegistry(KindCloud, UnitTemplate{}, testLogger())
	r.nodes["edge-1"] = Node{ID: "edge-1", Kind: KindEdge, Online: true, Free: Resources{CPUCores: 4, MemoryMB: 4096, StorageGB: 40}}

	id, ok := r.FindAvailableNode(Resources{CPUCores: 1, MemoryMB: 1024, StorageGB: 10})
	if !ok {
		t.Fatal("expected fallback match")
	}
	if id != "edge-1" {
		t.Errorf("FindAvailableNode() = %q, want edge-1", id)
	}
}

func TestFindAvailableNode_TieBreakHighestFreeCPU(t *testing.T) {
	r := NewRegistry(KindCloud, UnitTemplate{}, testLogger())
	r.nodes["a"] = Node{ID: "a", Kind: KindCloud, Online: true, Free: Resources{CPUCores: 2, MemoryMB: 4096, StorageGB: 40}}
	r.nodes["b"] = Node{ID: "b", Kind: KindCloud, Online: true, Free: Resources{CPUCores: 8, MemoryMB: 4096, StorageGB: 40}}

	id, ok := r.FindAvailableNode(Resources{CPUCores: 1, MemoryMB: 1024, StorageGB: 10})
	if !ok {
		t.Fatal("expected a match")
	}
	if id != "b" {
		t.Errorf("FindAvailableNode() = %q, want b (higher free CPU)", id)
	}
}

func TestFindAvailableNode_NoneAvailable(t *testing.T) {
	r := NewRegistry(KindCloud, UnitTemplate{}, testLogger())
	r.nodes["a"] = Node{ID: "a", Kind: KindCloud, Online: true, Free: Resources{CPUCores: 0.5, MemoryMB: 512, StorageGB: 5}}

	_, ok := r.FindAvailableNode(Resources{CPUCores: 1, MemoryMB: 1024, StorageGB: 10})
	if ok {
		t.Fatal("expected no match")
	}
}

func TestFindAvailableNode_OfflineExcluded(t *testing.T) {
	r := NewRegistry(KindCloud, UnitTemplate{}, testLogger())
	r.nodes["a"] = Node{ID: "a", Kind: KindCloud, Online: false, Free: Resources{CPUCores: 8, MemoryMB: 8192, StorageGB: 80}}

	_, ok := r.FindAvailableNode(Resources{CPUCores: 1, MemoryMB: 1024, StorageGB: 10})
	if ok {
		t.Fatal("expected offline node to be excluded")
	}
}

func TestReserveAndRelease(t *testing.T) {
	r := NewRegistry(KindCloud, UnitTemplate{}, testLogger())
	r.nodes["a"] = Node{ID: "a", Kind: KindCloud, Online: true, Capacity: Resources{CPUCores: 8, MemoryMB: 8192, StorageGB: 80}, Free: Resources{CPUCores: 8, MemoryMB: 8192, StorageGB: 80}}

	r.Reserve("a", Resources{CPUCores: 2, MemoryMB: 2048, StorageGB: 20})
	got := r.nodes["a"].Free
	if got.CPUCores != 6 || got.MemoryMB != 6144 || got.StorageGB != 60 {
		t.Errorf("after Reserve, Free = %+v", got)
	}

	r.Release("a", Resources{CPUCores: 2, MemoryMB: 2048, StorageGB: 20})
	got = r.nodes["a"].Free
	if got.CPUCores != 8 || got.MemoryMB != 8192 || got.StorageGB != 80 {
		t.Errorf("after Release, Free = %+v", got)
	}
}

func TestReleaseClampsToCapacity(t *testing.T) {
	r := NewRegistry(KindCloud, UnitTemplate{}, testLogger())
	r.nodes["a"] = Node{ID: "a", Capacity: Resources{CPUCores: 4}, Free: Resources{CPUCores: 4}}

	r.Release("a", Resources{CPUCores: 100})
	if got := r.nodes["a"].Free.CPUCores; got != 4 {
		t.Errorf("Free.CPUCores = %v, want clamped to capacity 4", got)
	}
}

func TestDiscoverNodes_PartialFailureStillSucceeds(t *testing.T) {
	r := NewRegistry(KindCloud, UnitTemplate{}, testLogger())
	good := &fakeBackend{id: "b1", nodes: []Node{{ID: "n1", OwningBackend: "b1"}}}
	bad := &fakeBackend{id: "b2", listNodesErr: errors.New("boom")}
	r.AddBackend(good)
	r.AddBackend(bad)

	if err := r.DiscoverNodes(context.Background()); err != nil {
		t.Fatalf("DiscoverNodes() error = %v", err)
	}
	if len(r.Nodes()) != 1 {
		t.Fatalf("expected 1 node, got %d", len(r.Nodes()))
	}
}

func TestDiscoverNodes_AllBackendsFail(t *testing.T) {
	r := NewRegistry(KindCloud, UnitTemplate{}, testLogger())
	r.AddBackend(&fakeBackend{id: "b1", listNodesErr: errors.New("boom")})

	if err := r.DiscoverNodes(context.Background()); err == nil {
		t.Fatal("expected error when all backends fail")
	}
}

func TestDiscoverNodes_RetainsStaleNodes(t *testing.T) {
	// Open question resolution: nodes not re-reported in a pass are
	// retained, not evicted.
	r := NewRegistry(KindCloud, UnitTemplate{}, testLogger())
	backend := &fakeBackend{id: "b1", nodes: []Node{{ID: "n1", OwningBackend: "b1"}, {ID: "n2", OwningBackend: "b1"}}}
	r.AddBackend(backend)
	if err := r.DiscoverNodes(context.Background()); err != nil {
		t.Fatal(err)
	}

	backend.nodes = []Node{{ID: "n1", OwningBackend: "b1"}}
	if err := r.DiscoverNodes(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(r.Nodes()) != 2 {
		t.Errorf("expected stale node n2 to be retained, got %d nodes", len(r.Nodes()))
	}
}

func TestDiscoverUnits_KeepsOnlyRunning(t *testing.T) {
	r := NewRegistry(KindCloud, UnitTemplate{}, testLogger())
	r.AddBackend(&fakeBackend{id: "b1", units: []Unit{
		{ID: "u1", State: UnitRunning, CreatedAt: time.Now()},
		{ID: "u2", State: UnitFailed, CreatedAt: time.Now()},
		{ID: "u3", State: UnitProvisioning, CreatedAt: time.Now()},
	}})

	if err := r.DiscoverUnits(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.RunningCount() != 1 {
		t.Errorf("RunningCount() = %d, want 1", r.RunningCount())
	}
}

func TestRunningUnits_OldestFirst(t *testing.T) {
	r := NewRegistry(KindCloud, UnitTemplate{}, testLogger())
	now := time.Now()
	r.PutUnit(Unit{ID: "new", State: UnitRunning, CreatedAt: now})
	r.PutUnit(Unit{ID: "old", State: UnitRunning, CreatedAt: now.Add(-time.Hour)})
	r.PutUnit(Unit{ID: "mid", State: UnitRunning, CreatedAt: now.Add(-time.Minute)})

	units := r.RunningUnits()
	if len(units) != 3 {
		t.Fatalf("expected 3 units, got %d", len(units))
	}
	if units[0].ID != "old" || units[1].ID != "mid" || units[2].ID != "new" {
		t.Errorf("order = %v, want [old mid new]", []string{units[0].ID, units[1].ID, units[2].ID})
	}
}

func TestBackendFor(t *testing.T) {
	r := NewRegistry(KindCloud, UnitTemplate{}, testLogger())
	b := &fakeBackend{id: "b1"}
	r.AddBackend(b)
	r.nodes["n1"] = Node{ID: "n1", OwningBackend: "b1"}

	got, ok := r.BackendFor("n1")
	if !ok || got.ID() != "b1" {
		t.Errorf("BackendFor() = %v, %v, want b1, true", got, ok)
	}

	_, ok = r.BackendFor("missing")
	if ok {
		t.Error("BackendFor() on missing node should return false")
	}
}

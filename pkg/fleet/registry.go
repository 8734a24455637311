package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// UnitTemplate is the default shape of a worker unit the autoscaler
// creates when it has no more specific request to make.
type UnitTemplate struct {
	NamePrefix string
	Request    Resources
}

// Registry is the Fleet Registry (L2): the single in-memory source of
// truth for backends, the nodes they report, and the worker units those
// nodes host. All mutation goes through the registry so the autoscaler
// and the recovery executor see a consistent view.
type Registry struct {
	mu       sync.RWMutex
	nodes    map[string]Node
	units    map[string]Unit
	backends map[string]Backend

	preferredKind Kind
	unitTemplate  UnitTemplate

	logger *slog.Logger
}

// NewRegistry creates an empty Fleet Registry.
func NewRegistry(preferredKind Kind, unitTemplate UnitTemplate, logger *slog.Logger) *Registry {
	return &Registry{
		nodes:         make(map[string]Node),
		units:         make(map[string]Unit),
		backends:      make(map[string]Backend),
		preferredKind: preferredKind,
		unitTemplate:  unitTemplate,
		logger:        logger,
	}
}

// UnitTemplate returns the registry's default unit request shape.
func (r *Registry) UnitTemplate() UnitTemplate {
	return r.unitTemplate
}

// AddBackend records a backend handle by its id.
func (r *Registry) AddBackend(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.ID()] = b
}

// BackendFor resolves the backend that owns a node.
func (r *Registry) BackendFor(nodeID string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[nodeID]
	if !ok {
		return nil, false
	}
	b, ok := r.backends[node.OwningBackend]
	return b, ok
}

// BackendByID resolves a backend directly by its id, for callers (such as
// the recovery executor) that already hold the id rather than a node.
func (r *Registry) BackendByID(backendID string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[backendID]
	return b, ok
}

// DiscoverNodes queries every backend for its current nodes and upserts
// them into the registry. Backend I/O happens without holding the
// registry's write lock; only the final apply step takes it, so a slow or
// failing backend never blocks readers (design note, SPEC_FULL.md §9).
//
// A backend error is logged and that backend is skipped; DiscoverNodes
// only fails if at least one backend is registered and every one failed.
// Nodes a backend no longer reports are retained, not evicted — see
// DESIGN.md for the open-question resolution.
func (r *Registry) DiscoverNodes(ctx context.Context) error {
	r.mu.RLock()
	backends := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		backends = append(backends, b)
	}
	hadBackends := len(backends) > 0
	r.mu.RUnlock()

	type result struct {
		nodes []Node
		err   error
	}
	results := make([]result, len(backends))

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range backends {
		i, b := i, b
		g.Go(func() error {
			nodes, err := b.ListNodes(gctx)
			results[i] = result{nodes: nodes, err: err}
			return nil // never abort siblings on one backend's error
		})
	}
	_ = g.Wait()

	succeeded := 0
	r.mu.Lock()
	for i, res := range results {
		if res.err != nil {
			r.logger.Warn("fleet: discover_nodes backend failed", "backend", backends[i].ID(), "error", res.err)
			continue
		}
		succeeded++
		for _, n := range res.nodes {
			r.nodes[n.ID] = n
		}
	}
	r.mu.Unlock()

	if !hadBackends {
		return nil
	}
	if succeeded == 0 {
		return fmt.Errorf("fleet: discover_nodes: all %d backends failed", len(backends))
	}
	return nil
}

// DiscoverUnits rebuilds the unit set from scratch by querying every
// backend, retaining only units in the Running state.
func (r *Registry) DiscoverUnits(ctx context.Context) error {
	r.mu.RLock()
	backends := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		backends = append(backends, b)
	}
	r.mu.RUnlock()

	type result struct {
		units []Unit
		err   error
	}
	results := make([]result, len(backends))

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range backends {
		i, b := i, b
		g.Go(func() error {
			units, err := b.ListUnits(gctx)
			results[i] = result{units: units, err: err}
			return nil
		})
	}
	_ = g.Wait()

	fresh := make(map[string]Unit)
	succeeded := 0
	for i, res := range results {
		if res.err != nil {
			r.logger.Warn("fleet: discover_units backend failed", "backend", backends[i].ID(), "error", res.err)
			continue
		}
		succeeded++
		for _, u := range res.units {
			if u.State == UnitRunning {
				fresh[u.ID] = u
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(backends) > 0 && succeeded == 0 {
		return fmt.Errorf("fleet: discover_units: all %d backends failed", len(backends))
	}
	r.units = fresh
	return nil
}

// FindAvailableNode picks a node with enough free capacity for want. The
// first pass requires the node be online and of the registry's preferred
// kind; the second pass drops the kind requirement. Map iteration order is
// unspecified, so among equally-suitable nodes this breaks ties
// deterministically by picking the one with the most free CPU (an explicit
// resolution of the open tie-break question in SPEC_FULL.md §9, chosen to
// spread load rather than pack it).
func (r *Registry) FindAvailableNode(want Resources) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.bestMatch(want, true); ok {
		return id, true
	}
	return r.bestMatch(want, false)
}

func (r *Registry) bestMatch(want Resources, requireKind bool) (string, bool) {
	var bestID string
	var bestFree float64
	found := false

	for id, n := range r.nodes {
		if !n.Online || !n.Free.Fits(want) {
			continue
		}
		if requireKind && n.Kind != r.preferredKind {
			continue
		}
		if !found || n.Free.CPUCores > bestFree || (n.Free.CPUCores == bestFree && id < bestID) {
			bestID = id
			bestFree = n.Free.CPUCores
			found = true
		}
	}
	return bestID, found
}

// Reserve deducts want from a node's free capacity, called by the
// autoscaler immediately after a successful CreateUnit so the in-memory
// view stays consistent until the next discovery pass.
func (r *Registry) Reserve(nodeID string, want Resources) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	n.Free = n.Free.Sub(want)
	r.nodes[nodeID] = n
}

// Release returns want to a node's free capacity, called when a unit
// terminates.
func (r *Registry) Release(nodeID string, want Resources) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	n.Free = n.Free.Add(want).clampTo(n.Capacity)
	r.nodes[nodeID] = n
}

// clampTo caps each axis of r at cap, preserving the Free <= Capacity
// invariant if Release rounding ever pushes Free above it.
func (r Resources) clampTo(cap Resources) Resources {
	if r.CPUCores > cap.CPUCores {
		r.CPUCores = cap.CPUCores
	}
	if r.MemoryMB > cap.MemoryMB {
		r.MemoryMB = cap.MemoryMB
	}
	if r.StorageGB > cap.StorageGB {
		r.StorageGB = cap.StorageGB
	}
	return r
}

// PutNodeForTest inserts or updates a node record directly, bypassing
// discovery. It exists for tests that need to seed fleet state without a
// fake Backend.
func (r *Registry) PutNodeForTest(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.ID] = n
}

// PutUnit inserts or updates a unit record, used by the autoscaler after a
// successful create or by tests seeding state.
func (r *Registry) PutUnit(u Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[u.ID] = u
}

// RemoveUnit deletes a unit record, used by the autoscaler after a
// successful terminate.
func (r *Registry) RemoveUnit(unitID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.units, unitID)
}

// RunningUnits returns every unit in the Running state, ordered oldest
// first by creation time — the order scale-down selects victims from.
func (r *Registry) RunningUnits() []Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Unit, 0, len(r.units))
	for _, u := range r.units {
		if u.State == UnitRunning {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RunningCount reports how many units are in the Running state.
func (r *Registry) RunningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, u := range r.units {
		if u.State == UnitRunning {
			n++
		}
	}
	return n
}

// Nodes returns a snapshot of every known node.
func (r *Registry) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodesOfKind returns every known node of the given kind, used by the
// recovery executor's node selectors.
func (r *Registry) NodesOfKind(kind Kind) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Node
	for _, n := range r.nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

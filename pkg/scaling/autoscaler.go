package scaling

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/OmniCloudOrg/OmniOrchestrator-sub000/pkg/fleet"
)

// Decision is tick's externally-visible verdict.
type Decision string

const (
	NoAction  Decision = "no_action"
	ScaleUp   Decision = "scale_up"
	ScaleDown Decision = "scale_down"
)

// Autoscaler is the debounced control loop (L3) binding a Metric Evaluator
// and a Fleet Registry to create/terminate decisions against a single
// scaling domain (one worker pool, or one app's instance pool).
type Autoscaler struct {
	name     string
	policy   ScalingPolicy
	registry *fleet.Registry
	logger   *slog.Logger
	nowFunc  func() time.Time

	actions *prometheus.CounterVec
	gauge   *prometheus.GaugeVec
	errors  *prometheus.CounterVec

	mu                 sync.Mutex
	currentWorkers     int
	lastScalingAt      time.Time
	lastEvaluationAt   time.Time
	scaleDownPendingAt time.Time // zero value means "none"
	hist               history
}

// Metrics the Autoscaler needs recorded per action, injected so callers can
// share one set of Prometheus collectors across every scaling domain.
type AutoscalerMetrics struct {
	Actions *prometheus.CounterVec // labels: fleet, action
	Workers *prometheus.GaugeVec   // labels: fleet
	Errors  *prometheus.CounterVec // labels: fleet, operation
}

// NewAutoscaler creates an Autoscaler for one named scaling domain.
// currentWorkers should be seeded from the registry's current running-unit
// count for that domain at startup.
func NewAutoscaler(name string, policy ScalingPolicy, registry *fleet.Registry, currentWorkers int, metrics AutoscalerMetrics, logger *slog.Logger) *Autoscaler {
	a := &Autoscaler{
		name:           name,
		policy:         policy,
		registry:       registry,
		logger:         logger,
		nowFunc:        time.Now,
		currentWorkers: currentWorkers,
	}
	a.actions = metrics.Actions
	a.gauge = metrics.Workers
	a.errors = metrics.Errors
	return a
}

// Tick is the single externally-driven entry point: given the current
// metric readings, it decides NoAction/ScaleUp/ScaleDown without yet
// acting on that decision. The caller is expected to invoke ScaleUp or
// ScaleDown immediately afterward when the decision calls for it.
func (a *Autoscaler) Tick(m Metrics) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.nowFunc()
	a.lastEvaluationAt = now

	if !a.policy.AutoscalingEnabled {
		return NoAction
	}

	if !a.lastScalingAt.IsZero() && now.Sub(a.lastScalingAt) < a.policy.Cooldown {
		return NoAction
	}

	if _, ok := ShouldScaleUp(a.policy, m, a.logger); ok && a.currentWorkers < a.policy.MaxWorkers {
		a.scaleDownPendingAt = time.Time{}
		return ScaleUp
	}

	if _, ok := ShouldScaleDown(a.policy, m, a.logger); ok {
		if a.scaleDownPendingAt.IsZero() {
			a.scaleDownPendingAt = now
			return NoAction
		}
		if now.Sub(a.scaleDownPendingAt) >= a.policy.ScaleDownDelay && a.currentWorkers > a.policy.MinWorkers {
			return ScaleDown
		}
		return NoAction
	}

	a.scaleDownPendingAt = time.Time{}
	return NoAction
}

// ScaleUp executes a ScaleUp decision: it provisions units up to the
// policy's increment (capped at max_workers), placing each on whatever node
// FindAvailableNode offers, and stops early if no node can host the next
// one. Per-unit backend failures are logged and skipped; they never abort
// the batch.
func (a *Autoscaler) ScaleUp(ctx context.Context) (int, error) {
	a.mu.Lock()
	target := a.currentWorkers + a.policy.ScaleUpIncrement
	if target > a.policy.MaxWorkers {
		target = a.policy.MaxWorkers
	}
	toAdd := target - a.currentWorkers
	template := a.registry.UnitTemplate()
	a.mu.Unlock()

	added := 0
	for i := 0; i < toAdd; i++ {
		nodeID, ok := a.registry.FindAvailableNode(template.Request)
		if !ok {
			a.logger.Warn("scaling: no available node for scale-up", "fleet", a.name)
			break
		}
		b, ok := a.registry.BackendFor(nodeID)
		if !ok {
			a.logger.Warn("scaling: no backend for node", "fleet", a.name, "node", nodeID)
			break
		}

		name := fmt.Sprintf("%s-%s", template.NamePrefix, shortUUID())
		unit, err := b.CreateUnit(ctx, nodeID, name, template.Request)
		if err != nil {
			a.logger.Error("scaling: create_unit failed", "fleet", a.name, "node", nodeID, "error", err)
			a.incErrors("create_unit")
			continue
		}
		a.registry.Reserve(nodeID, template.Request)
		a.registry.PutUnit(unit)
		added++
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.nowFunc()
	a.currentWorkers += added
	a.hist.append(Event{At: now, Action: ActionScaleUp})
	a.lastScalingAt = now
	a.scaleDownPendingAt = time.Time{}
	a.recordGauge()
	a.incAction(ActionScaleUp)
	return added, nil
}

// ScaleDown executes a ScaleDown decision: it picks the oldest running
// units (the ones least likely to be mid-task) up to the smaller of the
// policy's flat increment and its fraction-of-current cap, and terminates
// them. Per-unit backend failures are logged and skipped.
func (a *Autoscaler) ScaleDown(ctx context.Context) (int, error) {
	a.mu.Lock()
	byPolicy := a.policy.ScaleDownIncrement
	byFraction := int(math.Floor(float64(a.currentWorkers) * a.policy.MaxScaleDownFraction))
	toRemove := byPolicy
	if byFraction < toRemove {
		toRemove = byFraction
	}
	target := a.currentWorkers - toRemove
	if target < a.policy.MinWorkers {
		target = a.policy.MinWorkers
	}
	toRemove = a.currentWorkers - target
	a.mu.Unlock()

	if toRemove <= 0 {
		return 0, nil
	}

	running := a.registry.RunningUnits()
	if toRemove > len(running) {
		toRemove = len(running)
	}
	victims := running[:toRemove]

	removed := 0
	for _, u := range victims {
		b, ok := a.registry.BackendFor(u.NodeID)
		if !ok {
			a.logger.Warn("scaling: no backend for unit's node", "fleet", a.name, "unit", u.ID, "node", u.NodeID)
			continue
		}
		if err := b.TerminateUnit(ctx, u.ID); err != nil {
			a.logger.Error("scaling: terminate_unit failed", "fleet", a.name, "unit", u.ID, "error", err)
			a.incErrors("terminate_unit")
			continue
		}
		a.registry.RemoveUnit(u.ID)
		a.registry.Release(u.NodeID, u.Request)
		removed++
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.nowFunc()
	a.currentWorkers -= removed
	a.hist.append(Event{At: now, Action: ActionScaleDown})
	a.lastScalingAt = now
	a.scaleDownPendingAt = time.Time{}
	a.recordGauge()
	a.incAction(ActionScaleDown)
	return removed, nil
}

// Stats reports the metrics the dashboard API surfaces for a scaling
// domain.
func (a *Autoscaler) Stats() map[string]float32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.nowFunc()
	stats := map[string]float32{
		"current_workers_pct": float32(a.currentWorkers) / float32(a.policy.MaxWorkers) * 100,
		"scale_up_count_1h":   float32(a.hist.countSince(ActionScaleUp, now, time.Hour)),
		"scale_down_count_1h": float32(a.hist.countSince(ActionScaleDown, now, time.Hour)),
	}
	if !a.lastScalingAt.IsZero() {
		stats["seconds_since_last_scaling"] = float32(now.Sub(a.lastScalingAt).Seconds())
	}
	if !a.lastEvaluationAt.IsZero() {
		stats["seconds_since_last_evaluation"] = float32(now.Sub(a.lastEvaluationAt).Seconds())
	}
	return stats
}

// CurrentWorkers reports the autoscaler's live worker count.
func (a *Autoscaler) CurrentWorkers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentWorkers
}

func (a *Autoscaler) recordGauge() {
	if a.gauge != nil {
		a.gauge.WithLabelValues(a.name).Set(float64(a.currentWorkers))
	}
}

func (a *Autoscaler) incAction(action Action) {
	if a.actions != nil {
		a.actions.WithLabelValues(a.name, string(action)).Inc()
	}
}

func (a *Autoscaler) incErrors(operation string) {
	if a.errors != nil {
		a.errors.WithLabelValues(a.name, operation).Inc()
	}
}

func shortUUID() string {
	return uuid.New().String()[:8]
}

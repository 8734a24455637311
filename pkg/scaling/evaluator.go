package scaling

import (
	"log/slog"
	"sort"
)

// Metrics is the current observed value of each named metric, as reported
// by whatever is driving a tick (a probe, a queue-depth sampler, and so
// on).
type Metrics map[string]float64

// ShouldScaleUp walks policy.Thresholds in deterministic (sorted-by-name)
// order and returns the first metric name whose threshold is triggered. A
// metric missing from m is skipped with a warning rather than treated as
// zero, since a missing sample usually means the probe failed rather than
// the metric being legitimately zero.
func ShouldScaleUp(policy ScalingPolicy, m Metrics, logger *slog.Logger) (string, bool) {
	for _, name := range sortedThresholdNames(policy.Thresholds) {
		v, ok := m[name]
		if !ok {
			if logger != nil {
				logger.Warn("scaling: metric missing for threshold", "metric", name)
			}
			continue
		}
		t := policy.Thresholds[name]
		if upTriggers(t, v) {
			return name, true
		}
	}
	return "", false
}

func upTriggers(t Threshold, v float64) bool {
	switch t.Kind {
	case ThresholdFloat:
		return v > t.Float
	case ThresholdInteger:
		return v > float64(t.Integer)
	case ThresholdBoolean:
		if t.Boolean {
			return v > 0.5
		}
		return false
	default:
		return false
	}
}

// ShouldScaleDown mirrors ShouldScaleUp but triggers on the buffered
// opposite condition, a deadband built in to prevent a metric hovering
// near the threshold from flapping the autoscaler between scale-up and
// scale-down every tick.
func ShouldScaleDown(policy ScalingPolicy, m Metrics, logger *slog.Logger) (string, bool) {
	for _, name := range sortedThresholdNames(policy.Thresholds) {
		v, ok := m[name]
		if !ok {
			if logger != nil {
				logger.Warn("scaling: metric missing for threshold", "metric", name)
			}
			continue
		}
		t := policy.Thresholds[name]
		if downTriggers(t, v) {
			return name, true
		}
	}
	return "", false
}

func downTriggers(t Threshold, v float64) bool {
	switch t.Kind {
	case ThresholdFloat:
		return v < 0.7*t.Float
	case ThresholdInteger:
		return v < 0.7*float64(t.Integer)
	case ThresholdBoolean:
		if !t.Boolean {
			return v < 0.3
		}
		return false
	default:
		return false
	}
}

func sortedThresholdNames(thresholds map[string]Threshold) []string {
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

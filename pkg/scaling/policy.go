// Package scaling implements the metric evaluator and debounced autoscaler
// control loop that binds the fleet registry to scale-up/scale-down
// decisions (L1 + L3 of the control-plane design).
package scaling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var policyValidator = validator.New(validator.WithRequiredStructEnabled())

// ThresholdKind tags the concrete type carried by a Threshold.
type ThresholdKind string

const (
	ThresholdFloat   ThresholdKind = "float"
	ThresholdInteger ThresholdKind = "integer"
	ThresholdBoolean ThresholdKind = "boolean"
)

// Threshold is a tagged variant over the three trigger shapes a metric
// threshold can take. Exactly one of Float/Integer/Boolean is meaningful,
// selected by Kind.
type Threshold struct {
	Kind    ThresholdKind
	Float   float64
	Integer int64
	Boolean bool
}

// FloatThreshold builds a Float-kind threshold.
func FloatThreshold(v float64) Threshold { return Threshold{Kind: ThresholdFloat, Float: v} }

// IntegerThreshold builds an Integer-kind threshold.
func IntegerThreshold(v int64) Threshold { return Threshold{Kind: ThresholdInteger, Integer: v} }

// BooleanThreshold builds a Boolean-kind threshold.
func BooleanThreshold(v bool) Threshold { return Threshold{Kind: ThresholdBoolean, Boolean: v} }

// MarshalJSON renders a Threshold as its bare scalar value, matching how the
// dashboard API and config files express policy thresholds.
func (t Threshold) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case ThresholdFloat:
		return json.Marshal(t.Float)
	case ThresholdInteger:
		return json.Marshal(t.Integer)
	case ThresholdBoolean:
		return json.Marshal(t.Boolean)
	default:
		return nil, fmt.Errorf("scaling: threshold has no kind set")
	}
}

// UnmarshalJSON infers the Kind from the JSON scalar's shape: true/false
// becomes Boolean, a value with no fractional part becomes Integer,
// otherwise Float.
func (t *Threshold) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*t = BooleanThreshold(v)
	case float64:
		if v == float64(int64(v)) {
			*t = IntegerThreshold(int64(v))
		} else {
			*t = FloatThreshold(v)
		}
	default:
		return fmt.Errorf("scaling: threshold must be a number or boolean, got %T", raw)
	}
	return nil
}

// ScalingPolicy configures one autoscaler's behavior.
type ScalingPolicy struct {
	MinWorkers           int                  `json:"min_workers" validate:"gte=0"`
	MaxWorkers           int                  `json:"max_workers" validate:"gtefield=MinWorkers"`
	ScaleUpIncrement     int                  `json:"scale_up_increment" validate:"gte=1"`
	ScaleDownIncrement   int                  `json:"scale_down_increment" validate:"gte=1"`
	MaxScaleDownFraction float64              `json:"max_scale_down_fraction" validate:"gte=0,lte=1"`
	Cooldown             time.Duration        `json:"cooldown"`
	ScaleDownDelay       time.Duration        `json:"scale_down_delay"`
	AutoscalingEnabled   bool                 `json:"autoscaling_enabled"`
	Thresholds           map[string]Threshold `json:"thresholds"`
}

// Validate checks a policy's struct-tag constraints: non-negative worker
// bounds, max_workers >= min_workers, positive increments, and a
// max_scale_down_fraction within [0,1].
func (p ScalingPolicy) Validate() error {
	if err := policyValidator.Struct(p); err != nil {
		return newError(PolicyViolation, "validate", err)
	}
	return nil
}

package scaling

import (
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShouldScaleUp_Float(t *testing.T) {
	p := ScalingPolicy{Thresholds: map[string]Threshold{"cpu": FloatThreshold(70.0)}}

	name, ok := ShouldScaleUp(p, Metrics{"cpu": 90.0}, discardLogger())
	if !ok || name != "cpu" {
		t.Errorf("ShouldScaleUp() = %q, %v, want cpu, true", name, ok)
	}

	_, ok = ShouldScaleUp(p, Metrics{"cpu": 50.0}, discardLogger())
	if ok {
		t.Error("ShouldScaleUp() should not trigger below threshold")
	}
}

func TestShouldScaleUp_Integer(t *testing.T) {
	p := ScalingPolicy{Thresholds: map[string]Threshold{"queue_depth": IntegerThreshold(100)}}
	name, ok := ShouldScaleUp(p, Metrics{"queue_depth": 150}, discardLogger())
	if !ok || name != "queue_depth" {
		t.Errorf("ShouldScaleUp() = %q, %v, want queue_depth, true", name, ok)
	}
}

func TestShouldScaleUp_BooleanTrue(t *testing.T) {
	p := ScalingPolicy{Thresholds: map[string]Threshold{"overloaded": BooleanThreshold(true)}}
	name, ok := ShouldScaleUp(p, Metrics{"overloaded": 1.0}, discardLogger())
	if !ok || name != "overloaded" {
		t.Error("ShouldScaleUp() should trigger on Boolean(true) with v > 0.5")
	}
}

func TestShouldScaleUp_BooleanFalseNeverTriggers(t *testing.T) {
	p := ScalingPolicy{Thresholds: map[string]Threshold{"idle": BooleanThreshold(false)}}
	_, ok := ShouldScaleUp(p, Metrics{"idle": 1.0}, discardLogger())
	if ok {
		t.Error("ShouldScaleUp() must never trigger for Boolean(false)")
	}
}

func TestShouldScaleUp_MissingMetricSkipped(t *testing.T) {
	p := ScalingPolicy{Thresholds: map[string]Threshold{
		"missing": FloatThreshold(1.0),
		"cpu":     FloatThreshold(70.0),
	}}
	name, ok := ShouldScaleUp(p, Metrics{"cpu": 90.0}, discardLogger())
	if !ok || name != "cpu" {
		t.Errorf("ShouldScaleUp() = %q, %v, want cpu, true (missing metric skipped)", name, ok)
	}
}

func TestShouldScaleUp_DeterministicOrder(t *testing.T) {
	p := ScalingPolicy{Thresholds: map[string]Threshold{
		"zzz": FloatThreshold(1.0),
		"aaa": FloatThreshold(1.0),
	}}
	m := Metrics{"zzz": 100.0, "aaa": 100.0}
	name, ok := ShouldScaleUp(p, m, discardLogger())
	if !ok || name != "aaa" {
		t.Errorf("ShouldScaleUp() = %q, want aaa first (sorted order)", name)
	}
}

func TestShouldScaleDown_FloatBuffer(t *testing.T) {
	p := ScalingPolicy{Thresholds: map[string]Threshold{"cpu": FloatThreshold(50.0)}}

	name, ok := ShouldScaleDown(p, Metrics{"cpu": 10.0}, discardLogger())
	if !ok || name != "cpu" {
		t.Errorf("ShouldScaleDown() = %q, %v, want cpu, true (10 < 0.7*50)", name, ok)
	}

	_, ok = ShouldScaleDown(p, Metrics{"cpu": 40.0}, discardLogger())
	if ok {
		t.Error("ShouldScaleDown() should not trigger inside the deadband (40 is not < 35)")
	}
}

func TestShouldScaleDown_BooleanFalse(t *testing.T) {
	p := ScalingPolicy{Thresholds: map[string]Threshold{"healthy": BooleanThreshold(false)}}
	name, ok := ShouldScaleDown(p, Metrics{"healthy": 0.1}, discardLogger())
	if !ok || name != "healthy" {
		t.Error("ShouldScaleDown() should trigger on Boolean(false) with v < 0.3")
	}
}

func TestShouldScaleDown_BooleanTrueNeverTriggers(t *testing.T) {
	p := ScalingPolicy{Thresholds: map[string]Threshold{"healthy": BooleanThreshold(true)}}
	_, ok := ShouldScaleDown(p, Metrics{"healthy": 0.0}, discardLogger())
	if ok {
		t.Error("ShouldScaleDown() must never trigger for Boolean(true)")
	}
}

// Disjoint Float thresholds can never trigger both scale-up and scale-down
// for the same reading, since v > t and v < 0.7t cannot both hold for
// non-negative t.
func TestScaleUpAndScaleDown_DisjointForFloat(t *testing.T) {
	p := ScalingPolicy{Thresholds: map[string]Threshold{"cpu": FloatThreshold(70.0)}}
	for _, v := range []float64{0, 10, 35, 49, 50, 69, 70, 71, 100} {
		_, up := ShouldScaleUp(p, Metrics{"cpu": v}, discardLogger())
		_, down := ShouldScaleDown(p, Metrics{"cpu": v}, discardLogger())
		if up && down {
			t.Errorf("v=%v triggered both up and down", v)
		}
	}
}

func TestThresholdJSONRoundTrip(t *testing.T) {
	cases := []Threshold{FloatThreshold(12.5), IntegerThreshold(7), BooleanThreshold(true), BooleanThreshold(false)}
	for _, c := range cases {
		data, err := c.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON() error = %v", err)
		}
		var got Threshold
		if err := got.UnmarshalJSON(data); err != nil {
			t.Fatalf("UnmarshalJSON() error = %v", err)
		}
		if got != c {
			t.Errorf("round trip: got %+v, want %+v", got, c)
		}
	}
}

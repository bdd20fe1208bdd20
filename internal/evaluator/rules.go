package evaluator

import (
	"math"
	"time"

	"github.com/nexusiot/fleetcore/internal/domain"
)

// Reading is one telemetry sample in a device's recent-lookback window,
// reduced to the single numeric value a rule's metric cares about.
type Reading struct {
	Time  time.Time
	Value float64
	// Present is false when the metric key was absent from this sample;
	// such readings never satisfy a condition and are not counted as
	// "present in the window".
	Present bool
}

func compare(value, threshold float64, op domain.Operator) bool {
	switch op {
	case domain.OpGT:
		return value > threshold
	case domain.OpGTE:
		return value >= threshold
	case domain.OpLT:
		return value < threshold
	case domain.OpLTE:
		return value <= threshold
	case domain.OpEQ:
		return value == threshold
	case domain.OpNEQ:
		return value != threshold
	default:
		return false
	}
}

// evaluateThreshold applies spec.md §4.3's window semantics for a single
// threshold condition: with duration 0, only the latest reading matters;
// with duration > 0, the condition must have held for every present
// reading in the window, and at least one reading must be present.
func evaluateThreshold(cond domain.ThresholdCondition, readings []Reading, durationSeconds int, now time.Time) bool {
	if durationSeconds <= 0 {
		if len(readings) == 0 {
			return false
		}
		latest := readings[len(readings)-1]
		return latest.Present && compare(latest.Value, cond.Threshold, cond.Operator)
	}

	window := time.Duration(durationSeconds) * time.Second
	cutoff := now.Add(-window)

	present := false
	for _, r := range readings {
		if r.Time.Before(cutoff) {
			continue
		}
		if !r.Present {
			continue
		}
		present = true
		if !compare(r.Value, cond.Threshold, cond.Operator) {
			return false
		}
	}
	return present
}

// EarliestInWindow returns the timestamp of the earliest present reading
// within the window ending at now, used to verify the "held for at least
// duration_seconds" invariant in tests (spec.md §8).
func EarliestInWindow(readings []Reading, durationSeconds int, now time.Time) (time.Time, bool) {
	window := time.Duration(durationSeconds) * time.Second
	cutoff := now.Add(-window)
	var earliest time.Time
	found := false
	for _, r := range readings {
		if !r.Present || r.Time.Before(cutoff) {
			continue
		}
		if !found || r.Time.Before(earliest) {
			earliest = r.Time
			found = true
		}
	}
	return earliest, found
}

// ReadingSet supplies a rule evaluation with readings for each metric
// name it needs, keyed by metric name.
type ReadingSet map[string][]Reading

// EvaluateRule dispatches by rule.Mode and reports whether the rule
// currently fires for the device's readings.
func EvaluateRule(rule domain.AlertRule, readings ReadingSet, now time.Time) bool {
	switch rule.Mode {
	case domain.RuleModeThreshold:
		return evaluateThreshold(rule.Threshold, readings[rule.Threshold.MetricName], rule.DurationSeconds, now)
	case domain.RuleModeMulti:
		return evaluateMulti(rule, readings, now)
	case domain.RuleModeAnomaly:
		return evaluateAnomaly(rule, readings[rule.MetricName], now)
	default:
		return false
	}
}

func evaluateMulti(rule domain.AlertRule, readings ReadingSet, now time.Time) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	switch rule.Match {
	case domain.MatchAny:
		for _, cond := range rule.Conditions {
			if evaluateThreshold(cond, readings[cond.MetricName], rule.DurationSeconds, now) {
				return true
			}
		}
		return false
	default: // domain.MatchAll, and any unrecognized value defaults to ALL
		for _, cond := range rule.Conditions {
			if !evaluateThreshold(cond, readings[cond.MetricName], rule.DurationSeconds, now) {
				return false
			}
		}
		return true
	}
}

// evaluateAnomaly computes a rolling z-score baseline from the reading
// window excluding the most recent sample, then fires when the latest
// sample's absolute deviation exceeds a sensitivity-scaled multiple of
// the baseline's standard deviation. This is the documented baseline
// method spec.md §4.3 requires implementers to pin down; the only
// contractual property under test is monotonicity: raising sensitivity
// must never reduce the set of firing inputs for the same readings.
//
// A higher sensitivity lowers the deviation multiple required to fire
// (multiple = 1 + 4*(1-sensitivity), so sensitivity 1.0 fires at >=1
// stddev and sensitivity 0.0 requires >=5 stddev), which gives the
// required monotonicity directly.
func evaluateAnomaly(rule domain.AlertRule, readings []Reading, now time.Time) bool {
	var present []Reading
	for _, r := range readings {
		if r.Present {
			present = append(present, r)
		}
	}
	if len(present) < 2 {
		return false
	}

	latest := present[len(present)-1]
	baseline := present[:len(present)-1]

	mean := 0.0
	for _, r := range baseline {
		mean += r.Value
	}
	mean /= float64(len(baseline))

	variance := 0.0
	for _, r := range baseline {
		d := r.Value - mean
		variance += d * d
	}
	variance /= float64(len(baseline))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return latest.Value != mean && rule.Sensitivity > 0
	}

	sensitivity := rule.Sensitivity
	if sensitivity < 0 {
		sensitivity = 0
	}
	if sensitivity > 1 {
		sensitivity = 1
	}
	multiple := 1 + 4*(1-sensitivity)
	deviation := math.Abs(latest.Value-mean) / stddev
	return deviation >= multiple
}

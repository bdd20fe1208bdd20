// Package orchestrator drives the escalation timeline of OPEN alerts
// (spec.md §4.4): tick-based escalation advancement, on-call schedule
// resolution, and idempotent notification handoff.
package orchestrator

import (
	"time"

	"github.com/nexusiot/fleetcore/internal/domain"
)

// ResolveResponder picks the active rotation for `now` and computes its
// current responder slot (spec.md §4.4.1). Times are UTC throughout; an
// empty schedule or one with no users anywhere returns ok=false.
func ResolveResponder(schedule domain.OnCallSchedule, now time.Time) (string, bool) {
	rotation, ok := activeRotation(schedule.Rotations, now)
	if !ok || len(rotation.Users) == 0 {
		return "", false
	}

	cadence := time.Duration(rotation.CadenceHours) * time.Hour
	if cadence <= 0 {
		return rotation.Users[0], true
	}

	elapsed := now.Sub(rotation.Start)
	if elapsed < 0 {
		elapsed = 0
	}
	slot := int64(elapsed/cadence) % int64(len(rotation.Users))
	return rotation.Users[slot], true
}

// activeRotation picks the rotation whose Start is the latest one not
// after now; ties (identical Start) are broken by rotation order, first
// listed wins, matching spec.md's tie-break rule.
func activeRotation(rotations []domain.Rotation, now time.Time) (domain.Rotation, bool) {
	var best *domain.Rotation
	for i := range rotations {
		r := rotations[i]
		if r.Start.After(now) {
			continue
		}
		if best == nil || r.Start.After(best.Start) {
			best = &r
		}
	}
	if best == nil {
		if len(rotations) == 0 {
			return domain.Rotation{}, false
		}
		return rotations[0], true
	}
	return *best, true
}

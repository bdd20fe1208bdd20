package orchestrator

import (
	"strconv"
	"time"

	"github.com/nexusiot/fleetcore/internal/domain"
)

// NotificationJob is the opaque payload handed to the notification sink;
// IdempotencyKey is (alert_id, escalation_level) so re-delivery of the
// same tick never double-notifies (spec.md §4.4 "Concurrency").
type NotificationJob struct {
	AlertID        string
	Tenant         string
	EscalationLevel int
	ActionKind     string
	ActionConfig   map[string]string
	Recipient      string
	FiredAt        time.Time
}

func (j NotificationJob) IdempotencyKey() string {
	return j.AlertID + ":" + strconv.Itoa(j.EscalationLevel)
}

// TickEffect is what an escalation tick for one alert produces: the
// notification to hand off, the alert's new escalation_level, and its
// new next_escalation_at (nil = no further levels, stop escalating).
type TickEffect struct {
	Notification     NotificationJob
	NewLevel         int
	NextEscalationAt *time.Time
}

// DecideEscalation advances alert by one level against policy, per
// spec.md §4.4's tick steps 2/5: the level just reached drives the
// notification produced now; the *next* level (if any) drives when the
// tick should fire again.
//
// Returns ok=false if the policy has no further levels beyond the
// alert's current escalation_level (nothing to do; caller should leave
// next_escalation_at as NULL, matching what a prior tick already set).
func DecideEscalation(alert domain.Alert, policy domain.EscalationPolicy, responder string, now time.Time) (TickEffect, bool) {
	newLevel := alert.EscalationLevel + 1
	if newLevel > len(policy.Levels) {
		return TickEffect{}, false
	}
	reached := policy.Levels[newLevel-1]

	job := NotificationJob{
		AlertID:         alert.AlertID,
		Tenant:          alert.Tenant,
		EscalationLevel: newLevel,
		ActionKind:      reached.ActionKind,
		ActionConfig:    reached.ActionConfig,
		Recipient:       responder,
		FiredAt:         now,
	}

	var next *time.Time
	if newLevel < len(policy.Levels) {
		t := now.Add(time.Duration(policy.Levels[newLevel].DelaySeconds) * time.Second)
		next = &t
	}

	return TickEffect{Notification: job, NewLevel: newLevel, NextEscalationAt: next}, true
}

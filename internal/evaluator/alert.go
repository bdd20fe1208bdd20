package evaluator

import (
	"time"

	"github.com/nexusiot/fleetcore/internal/domain"
)

// AlertEffect describes the single action the alert-lifecycle decision
// requires the caller to persist: at most one of Open/Update/Close is
// non-nil.
type AlertEffect struct {
	Open   *domain.Alert
	Update *AlertUpdate
	Close  *AlertClose
}

type AlertUpdate struct {
	Fingerprint string
	Severity    string
}

type AlertClose struct {
	Fingerprint string
	ClosedAt    time.Time
}

// DecideRuleAlert implements spec.md §4.3's "Alert effect" rule: fires
// and no alert for this fingerprint -> Open; fires and one exists ->
// Update carrying the rule's severity, only when it ranks above the
// alert's (a repeat firing at the same or a lower severity is a zero
// effect and refreshes no timestamp on the alert); no longer fires and
// the existing alert is OPEN -> Close (an ACK alert is left as is).
// Returns a zero AlertEffect (all fields nil) when nothing needs to
// change.
func DecideRuleAlert(rule domain.AlertRule, deviceID string, fires bool, existing *domain.Alert, now time.Time) AlertEffect {
	fingerprint := ResolveFingerprint(rule.RuleID, deviceID)

	if fires {
		if existing == nil {
			ruleID := rule.RuleID
			return AlertEffect{Open: &domain.Alert{
				Tenant:      rule.Tenant,
				DeviceID:    deviceID,
				RuleID:      &ruleID,
				AlertType:   string(rule.Mode),
				Severity:    rule.Severity,
				Status:      domain.AlertOpen,
				Fingerprint: fingerprint,
				Summary:     ruleSummary(rule),
				CreatedAt:   now,
			}}
		}
		if severityRank(rule.Severity) > severityRank(existing.Severity) {
			return AlertEffect{Update: &AlertUpdate{Fingerprint: fingerprint, Severity: rule.Severity}}
		}
		return AlertEffect{}
	}

	if existing != nil && existing.Status == domain.AlertOpen {
		return AlertEffect{Close: &AlertClose{Fingerprint: fingerprint, ClosedAt: now}}
	}
	return AlertEffect{}
}

// DecideHeartbeatAlert implements the NO_HEARTBEAT alert effect from a
// device status transition (spec.md §4.3: "Transition to OFFLINE causes
// a NO_HEARTBEAT alert... Return to ONLINE closes the same fingerprint").
func DecideHeartbeatAlert(t StatusTransition, existing *domain.Alert, now time.Time) AlertEffect {
	fingerprint := NoHeartbeatFingerprint(t.DeviceID)

	if t.WentOffline {
		if existing != nil {
			return AlertEffect{}
		}
		return AlertEffect{Open: &domain.Alert{
			Tenant:      t.Tenant,
			DeviceID:    t.DeviceID,
			RuleID:      nil,
			AlertType:   "no_heartbeat",
			Severity:    "critical",
			Status:      domain.AlertOpen,
			Fingerprint: fingerprint,
			Summary:     "device " + t.DeviceID + " missed its heartbeat window",
			CreatedAt:   now,
		}}
	}

	if t.Recovered && existing != nil && existing.Status == domain.AlertOpen {
		return AlertEffect{Close: &AlertClose{Fingerprint: fingerprint, ClosedAt: now}}
	}
	return AlertEffect{}
}

func ruleSummary(rule domain.AlertRule) string {
	switch rule.Mode {
	case domain.RuleModeThreshold:
		return "rule " + rule.RuleID + " fired on " + rule.Threshold.MetricName
	case domain.RuleModeMulti:
		return "rule " + rule.RuleID + " fired (multi-condition)"
	case domain.RuleModeAnomaly:
		return "rule " + rule.RuleID + " fired on " + rule.MetricName + " (anomaly)"
	default:
		return "rule " + rule.RuleID + " fired"
	}
}

var severityOrder = map[string]int{
	"info":     0,
	"warning":  1,
	"critical": 2,
}

func severityRank(sev string) int {
	if r, ok := severityOrder[sev]; ok {
		return r
	}
	return -1
}

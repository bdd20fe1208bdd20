// Package evaluator maintains device status and computes alerts from
// telemetry (spec.md §4.3): heartbeat staleness, threshold/multi/anomaly
// rule evaluation, and fingerprint-consistent alert open/update/close.
package evaluator

import "fmt"

// ResolveFingerprint computes the deterministic fingerprint for a rule
// alert on a device. The same computation must be used on insert and on
// close so the two can always find the same OPEN alert.
func ResolveFingerprint(ruleID, deviceID string) string {
	return fmt.Sprintf("RULE:%s:%s", ruleID, deviceID)
}

// NoHeartbeatFingerprint computes the fingerprint for a device's
// heartbeat-loss alert.
func NoHeartbeatFingerprint(deviceID string) string {
	return fmt.Sprintf("NO_HEARTBEAT:%s", deviceID)
}

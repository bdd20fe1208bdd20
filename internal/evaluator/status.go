package evaluator

import "time"

// DeviceHeartbeat is the minimal device view the status computation
// needs: last-seen time and current recorded status.
type DeviceHeartbeat struct {
	Tenant     string
	DeviceID   string
	LastSeenAt time.Time
	Status     string
}

// Thresholds holds the heartbeat staleness/offline windows (spec.md
// §4.3, HEARTBEAT_STALE_SECONDS/HEARTBEAT_OFFLINE_SECONDS).
type Thresholds struct {
	Stale   time.Duration
	Offline time.Duration
}

// ComputeStatus returns the device status implied by its heartbeat age,
// one of ONLINE, STALE, OFFLINE.
func ComputeStatus(age time.Duration, t Thresholds) string {
	switch {
	case age > t.Offline:
		return "OFFLINE"
	case age > t.Stale:
		return "STALE"
	default:
		return "ONLINE"
	}
}

// StatusTransition describes a device status change the caller must
// persist and, for OFFLINE<->ONLINE edges, react to with an alert
// open/close.
type StatusTransition struct {
	Tenant     string
	DeviceID   string
	From       string
	To         string
	WentOffline bool // From != OFFLINE, To == OFFLINE
	Recovered   bool // From == OFFLINE, To != OFFLINE
}

// EvaluateHeartbeat computes hb's new status at `now` and reports
// whether/how it transitioned relative to its currently recorded status.
func EvaluateHeartbeat(hb DeviceHeartbeat, t Thresholds, now time.Time) StatusTransition {
	age := now.Sub(hb.LastSeenAt)
	newStatus := ComputeStatus(age, t)
	return StatusTransition{
		Tenant:      hb.Tenant,
		DeviceID:    hb.DeviceID,
		From:        hb.Status,
		To:          newStatus,
		WentOffline: hb.Status != "OFFLINE" && newStatus == "OFFLINE",
		Recovered:   hb.Status == "OFFLINE" && newStatus != "OFFLINE",
	}
}

// Package evaluator maintains device status and computes alerts from
// telemetry (spec.md §4.3): heartbeat staleness, threshold/multi/anomaly
// rule evaluation, and fingerprint-consistent alert open/update/close.
package evaluator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/advisorylock"
	"github.com/nexusiot/fleetcore/internal/domain"
	"github.com/nexusiot/fleetcore/internal/obs"
)

// Store is the repository surface the engine needs, satisfied by
// internal/repo.
type Store interface {
	ListDevices(ctx context.Context, tenant string) ([]DeviceHeartbeat, error)
	UpdateDeviceStatus(ctx context.Context, tenant, deviceID, status string) error
	ListEnabledRules(ctx context.Context, tenant string) ([]domain.AlertRule, error)
	RecentReadings(ctx context.Context, tenant, deviceID string, metricNames []string, lookback time.Duration, now time.Time) (ReadingSet, error)
	FindOpenAlert(ctx context.Context, tenant, fingerprint string) (*domain.Alert, error)
	OpenAlert(ctx context.Context, alert domain.Alert) error
	UpdateAlertSeverity(ctx context.Context, tenant, fingerprint, severity string) error
	CloseAlert(ctx context.Context, tenant, fingerprint string, closedAt time.Time) error
}

// Locks exposes the evaluator's per-tenant advisory-lock dependency, so
// only one instance mutates a tenant's alerts at a time (spec.md §4.3
// "Concurrency").
type Locks interface {
	TryAcquire(ctx context.Context, name string) (*advisorylock.Lock, bool, error)
}

// Engine ties device status computation and rule evaluation to alert
// lifecycle decisions, serialized per tenant by an advisory lock.
type Engine struct {
	Store      Store
	Locks      Locks
	Thresholds Thresholds
	Lookback   time.Duration // how far back RecentReadings should search
	Log        *zap.Logger
	Now        func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// EvaluateTenant runs one full device-status + rule pass for a tenant,
// holding the tenant's advisory lock for the duration. Returns false
// without doing any work if another instance currently holds the lock
// (not an error per spec.md's "contention is not an error" contract).
func (e *Engine) EvaluateTenant(ctx context.Context, tenant string) (ran bool, err error) {
	ctx, end := obs.StartSpan(ctx, "evaluator", "tick", obs.TenantAttr(tenant))
	defer func() { end(err) }()

	lock, acquired, err := e.Locks.TryAcquire(ctx, "evaluator:"+tenant)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		if rerr := lock.Release(ctx); rerr != nil {
			e.Log.Warn("failed to release evaluator lock", zap.String("tenant", tenant), zap.Error(rerr))
		}
	}()

	now := e.now()

	devices, err := e.Store.ListDevices(ctx, tenant)
	if err != nil {
		return true, err
	}
	rules, err := e.Store.ListEnabledRules(ctx, tenant)
	if err != nil {
		return true, err
	}

	rulesByScope := make(map[string][]domain.AlertRule)
	var tenantWideRules []domain.AlertRule
	for _, r := range rules {
		if len(r.DeviceScope) == 0 {
			tenantWideRules = append(tenantWideRules, r)
			continue
		}
		for _, d := range r.DeviceScope {
			rulesByScope[d] = append(rulesByScope[d], r)
		}
	}

	for _, hb := range devices {
		e.evaluateDeviceHeartbeat(ctx, hb, now)

		applicable := append(append([]domain.AlertRule{}, tenantWideRules...), rulesByScope[hb.DeviceID]...)
		for _, rule := range applicable {
			if err := e.evaluateDeviceRule(ctx, tenant, hb.DeviceID, rule, now); err != nil {
				e.Log.Error("rule evaluation failed",
					zap.String("tenant", tenant), zap.String("device_id", hb.DeviceID),
					zap.String("rule_id", rule.RuleID), zap.Error(err))
			}
		}
	}

	return true, nil
}

func (e *Engine) evaluateDeviceHeartbeat(ctx context.Context, hb DeviceHeartbeat, now time.Time) {
	transition := EvaluateHeartbeat(hb, e.Thresholds, now)
	if transition.From == transition.To {
		return
	}
	if err := e.Store.UpdateDeviceStatus(ctx, hb.Tenant, hb.DeviceID, transition.To); err != nil {
		e.Log.Error("failed to persist device status transition",
			zap.String("tenant", hb.Tenant), zap.String("device_id", hb.DeviceID), zap.Error(err))
		return
	}
	if !transition.WentOffline && !transition.Recovered {
		return
	}

	fingerprint := NoHeartbeatFingerprint(hb.DeviceID)
	existing, err := e.Store.FindOpenAlert(ctx, hb.Tenant, fingerprint)
	if err != nil {
		e.Log.Error("failed to look up heartbeat alert", zap.String("tenant", hb.Tenant), zap.Error(err))
		return
	}
	effect := DecideHeartbeatAlert(transition, existing, now)
	e.applyEffect(ctx, hb.Tenant, effect)
}

func (e *Engine) evaluateDeviceRule(ctx context.Context, tenant, deviceID string, rule domain.AlertRule, now time.Time) error {
	metricNames := ruleMetricNames(rule)
	readings, err := e.Store.RecentReadings(ctx, tenant, deviceID, metricNames, e.Lookback, now)
	if err != nil {
		return err
	}

	fires := EvaluateRule(rule, readings, now)

	fingerprint := ResolveFingerprint(rule.RuleID, deviceID)
	existing, err := e.Store.FindOpenAlert(ctx, tenant, fingerprint)
	if err != nil {
		return err
	}

	effect := DecideRuleAlert(rule, deviceID, fires, existing, now)
	e.applyEffect(ctx, tenant, effect)
	return nil
}

func (e *Engine) applyEffect(ctx context.Context, tenant string, effect AlertEffect) {
	switch {
	case effect.Open != nil:
		if err := e.Store.OpenAlert(ctx, *effect.Open); err != nil {
			e.Log.Error("failed to open alert", zap.String("tenant", tenant), zap.String("fingerprint", effect.Open.Fingerprint), zap.Error(err))
		}
	case effect.Update != nil:
		if err := e.Store.UpdateAlertSeverity(ctx, tenant, effect.Update.Fingerprint, effect.Update.Severity); err != nil {
			e.Log.Error("failed to update alert severity", zap.String("tenant", tenant), zap.String("fingerprint", effect.Update.Fingerprint), zap.Error(err))
		}
	case effect.Close != nil:
		if err := e.Store.CloseAlert(ctx, tenant, effect.Close.Fingerprint, effect.Close.ClosedAt); err != nil {
			e.Log.Error("failed to close alert", zap.String("tenant", tenant), zap.String("fingerprint", effect.Close.Fingerprint), zap.Error(err))
		}
	}
}

func ruleMetricNames(rule domain.AlertRule) []string {
	switch rule.Mode {
	case domain.RuleModeThreshold:
		return []string{rule.Threshold.MetricName}
	case domain.RuleModeMulti:
		names := make([]string, 0, len(rule.Conditions))
		for _, c := range rule.Conditions {
			names = append(names, c.MetricName)
		}
		return names
	case domain.RuleModeAnomaly:
		return []string{rule.MetricName}
	default:
		return nil
	}
}

package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/advisorylock"
	"github.com/nexusiot/fleetcore/internal/domain"
	"github.com/nexusiot/fleetcore/internal/obs"
)

// Store is the repository surface the orchestrator needs.
type Store interface {
	DueAlerts(ctx context.Context, now time.Time) ([]domain.Alert, error)
	EscalationPolicyForAlert(ctx context.Context, tenant, alertID string) (domain.EscalationPolicy, error)
	OnCallScheduleForAction(ctx context.Context, tenant, actionConfigScheduleID string) (domain.OnCallSchedule, error)
	AdvanceEscalation(ctx context.Context, alertID string, newLevel int, nextAt *time.Time) error
}

// Sink produces a notification job to the external notification
// collaborator; the core only guarantees at-least-once production
// (spec.md §4.4 step 4), deduplicated by Produce being idempotent on
// job.IdempotencyKey().
type Sink interface {
	Produce(ctx context.Context, job NotificationJob) error
}

// Locks exposes the orchestrator's tick-claim advisory lock.
type Locks interface {
	TryAcquire(ctx context.Context, name string) (*advisorylock.Lock, bool, error)
}

const scheduleIDConfigKey = "oncall_schedule_id"

// Engine processes one escalation tick: select due alerts, advance each
// by one level, resolve recipients, and hand off a notification.
type Engine struct {
	Store Store
	Locks Locks
	Sink  Sink
	Log   *zap.Logger
	Now   func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Tick claims the global tick lock (spec.md §4.4 "Concurrency": one
// orchestrator may claim the tick) and processes every due alert.
// Returns false without doing work if another instance holds the lock.
func (e *Engine) Tick(ctx context.Context) (ran bool, err error) {
	ctx, end := obs.StartSpan(ctx, "orchestrator", "tick")
	defer func() { end(err) }()

	lock, acquired, err := e.Locks.TryAcquire(ctx, "orchestrator:tick")
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		if rerr := lock.Release(ctx); rerr != nil {
			e.Log.Warn("failed to release orchestrator tick lock", zap.Error(rerr))
		}
	}()

	now := e.now()
	alerts, err := e.Store.DueAlerts(ctx, now)
	if err != nil {
		return true, err
	}

	for _, alert := range alerts {
		if err := e.processAlert(ctx, alert, now); err != nil {
			e.Log.Error("escalation processing failed",
				zap.String("tenant", alert.Tenant), zap.String("alert_id", alert.AlertID), zap.Error(err))
		}
	}
	return true, nil
}

func (e *Engine) processAlert(ctx context.Context, alert domain.Alert, now time.Time) error {
	policy, err := e.Store.EscalationPolicyForAlert(ctx, alert.Tenant, alert.AlertID)
	if err != nil {
		return err
	}

	responder := ""
	if alert.EscalationLevel < len(policy.Levels) {
		level := policy.Levels[alert.EscalationLevel]
		if scheduleID, ok := level.ActionConfig[scheduleIDConfigKey]; ok && scheduleID != "" {
			schedule, err := e.Store.OnCallScheduleForAction(ctx, alert.Tenant, scheduleID)
			if err != nil {
				return err
			}
			responder, _ = ResolveResponder(schedule, now)
		}
	}

	effect, ok := DecideEscalation(alert, policy, responder, now)
	if !ok {
		return nil
	}

	if err := e.Sink.Produce(ctx, effect.Notification); err != nil {
		return err
	}

	return e.Store.AdvanceEscalation(ctx, alert.AlertID, effect.NewLevel, effect.NextEscalationAt)
}

package repo

import (
	"context"
	"time"

	"github.com/nexusiot/fleetcore/internal/domain"
	"github.com/nexusiot/fleetcore/internal/evaluator"
	"github.com/nexusiot/fleetcore/internal/orchestrator"
)

// EvaluatorStore composes the device/rule/telemetry/alert repositories
// into the single evaluator.Store surface the engine depends on, since
// no one repository owns every method that interface needs.
type EvaluatorStore struct {
	Devices   *DeviceRepository
	Rules     *RuleRepository
	Telemetry *TelemetryRepository
	Alerts    *AlertRepository
}

func (s *EvaluatorStore) ListDevices(ctx context.Context, tenant string) ([]evaluator.DeviceHeartbeat, error) {
	return s.Devices.ListByTenant(ctx, tenant)
}

func (s *EvaluatorStore) UpdateDeviceStatus(ctx context.Context, tenant, deviceID, status string) error {
	return s.Devices.UpdateStatus(ctx, tenant, deviceID, status)
}

func (s *EvaluatorStore) ListEnabledRules(ctx context.Context, tenant string) ([]domain.AlertRule, error) {
	return s.Rules.ListEnabledRules(ctx, tenant)
}

func (s *EvaluatorStore) RecentReadings(ctx context.Context, tenant, deviceID string, metricNames []string, lookback time.Duration, now time.Time) (evaluator.ReadingSet, error) {
	return s.Telemetry.RecentReadings(ctx, tenant, deviceID, metricNames, lookback, now)
}

func (s *EvaluatorStore) FindOpenAlert(ctx context.Context, tenant, fingerprint string) (*domain.Alert, error) {
	return s.Alerts.FindOpenAlert(ctx, tenant, fingerprint)
}

func (s *EvaluatorStore) OpenAlert(ctx context.Context, alert domain.Alert) error {
	return s.Alerts.OpenAlert(ctx, alert)
}

func (s *EvaluatorStore) UpdateAlertSeverity(ctx context.Context, tenant, fingerprint, severity string) error {
	return s.Alerts.UpdateAlertSeverity(ctx, tenant, fingerprint, severity)
}

func (s *EvaluatorStore) CloseAlert(ctx context.Context, tenant, fingerprint string, closedAt time.Time) error {
	return s.Alerts.CloseAlert(ctx, tenant, fingerprint, closedAt)
}

// OrchestratorStore composes the alert and on-call-schedule repositories
// into the orchestrator.Store surface.
type OrchestratorStore struct {
	Alerts    *AlertRepository
	OnCall    *OnCallScheduleRepository
}

func (s *OrchestratorStore) DueAlerts(ctx context.Context, now time.Time) ([]domain.Alert, error) {
	return s.Alerts.DueAlerts(ctx, now)
}

func (s *OrchestratorStore) EscalationPolicyForAlert(ctx context.Context, tenant, alertID string) (domain.EscalationPolicy, error) {
	return s.Alerts.EscalationPolicyForAlert(ctx, tenant, alertID)
}

func (s *OrchestratorStore) OnCallScheduleForAction(ctx context.Context, tenant, actionConfigScheduleID string) (domain.OnCallSchedule, error) {
	return s.OnCall.OnCallScheduleForAction(ctx, tenant, actionConfigScheduleID)
}

func (s *OrchestratorStore) AdvanceEscalation(ctx context.Context, alertID string, newLevel int, nextAt *time.Time) error {
	return s.Alerts.AdvanceEscalation(ctx, alertID, newLevel, nextAt)
}

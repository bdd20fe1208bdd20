package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/apperrors"
	"github.com/nexusiot/fleetcore/internal/domain"
	"github.com/nexusiot/fleetcore/internal/repo/sqlutil"
)

// AlertRepository backs both the evaluator's open/update/close lifecycle
// and the orchestrator's due-alert escalation sweep.
type AlertRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewAlertRepository(db *sqlx.DB, log *zap.Logger) *AlertRepository {
	return &AlertRepository{db: db, log: log}
}

type alertRow struct {
	AlertID          string         `db:"alert_id"`
	Tenant           string         `db:"tenant_id"`
	DeviceID         string         `db:"device_id"`
	RuleID           sql.NullString `db:"rule_id"`
	AlertType        string         `db:"alert_type"`
	Severity         string         `db:"severity"`
	Status           string         `db:"status"`
	Fingerprint      string         `db:"fingerprint"`
	Summary          string         `db:"summary"`
	CreatedAt        time.Time      `db:"created_at"`
	AcknowledgedAt   sql.NullTime   `db:"acknowledged_at"`
	ClosedAt         sql.NullTime   `db:"closed_at"`
	EscalationLevel  int            `db:"escalation_level"`
	NextEscalationAt sql.NullTime   `db:"next_escalation_at"`
}

func (row alertRow) toDomain() domain.Alert {
	return domain.Alert{
		AlertID:          row.AlertID,
		Tenant:           row.Tenant,
		DeviceID:         row.DeviceID,
		RuleID:           sqlutil.FromNullString(row.RuleID),
		AlertType:        row.AlertType,
		Severity:         row.Severity,
		Status:           domain.AlertStatus(row.Status),
		Fingerprint:      row.Fingerprint,
		Summary:          row.Summary,
		CreatedAt:        row.CreatedAt,
		AcknowledgedAt:   sqlutil.FromNullTime(row.AcknowledgedAt),
		ClosedAt:         sqlutil.FromNullTime(row.ClosedAt),
		EscalationLevel:  row.EscalationLevel,
		NextEscalationAt: sqlutil.FromNullTime(row.NextEscalationAt),
	}
}

// FindOpenAlert satisfies evaluator.Store: the live alert for a
// fingerprint, or nil if none is OPEN/ACK.
func (r *AlertRepository) FindOpenAlert(ctx context.Context, tenant, fingerprint string) (*domain.Alert, error) {
	var row alertRow
	err := r.db.GetContext(ctx, &row, `
		SELECT alert_id, tenant_id, device_id, rule_id, alert_type, severity, status, fingerprint,
		       summary, created_at, acknowledged_at, closed_at, escalation_level, next_escalation_at
		FROM alerts
		WHERE tenant_id = $1 AND fingerprint = $2 AND status IN ('OPEN', 'ACK')
		ORDER BY created_at DESC
		LIMIT 1`, tenant, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "find open alert")
	}
	alert := row.toDomain()
	return &alert, nil
}

// OpenAlert satisfies evaluator.Store, idempotent on the unique
// (tenant_id, fingerprint) partial index over OPEN/ACK rows -- a racing
// duplicate open collapses to a no-op rather than an error.
func (r *AlertRepository) OpenAlert(ctx context.Context, alert domain.Alert) error {
	id := alert.AlertID
	if id == "" {
		id = uuid.NewString()
	}
	var ruleID *string
	if alert.RuleID != nil {
		ruleID = alert.RuleID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (alert_id, tenant_id, device_id, rule_id, alert_type, severity, status,
		                     fingerprint, summary, created_at, escalation_level, next_escalation_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'OPEN', $7, $8, $9, 0, $9)
		ON CONFLICT (tenant_id, fingerprint) WHERE status IN ('OPEN', 'ACK') DO NOTHING`,
		id, alert.Tenant, alert.DeviceID, sqlutil.ToNullString(ruleID), alert.AlertType, alert.Severity,
		alert.Fingerprint, alert.Summary, alert.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "open alert")
	}
	return nil
}

// UpdateAlertSeverity satisfies evaluator.Store, applied when a rule's
// condition keeps firing at a higher severity than the currently open alert.
func (r *AlertRepository) UpdateAlertSeverity(ctx context.Context, tenant, fingerprint, severity string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET severity = $3
		WHERE tenant_id = $1 AND fingerprint = $2 AND status IN ('OPEN', 'ACK')`, tenant, fingerprint, severity)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "update alert severity")
	}
	return nil
}

// CloseAlert satisfies evaluator.Store, applied once the firing condition
// clears or the device recovers from an offline heartbeat.
func (r *AlertRepository) CloseAlert(ctx context.Context, tenant, fingerprint string, closedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET status = 'CLOSED', closed_at = $3
		WHERE tenant_id = $1 AND fingerprint = $2 AND status IN ('OPEN', 'ACK')`, tenant, fingerprint, closedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "close alert")
	}
	return nil
}

// DueAlerts satisfies orchestrator.Store: every OPEN alert whose
// next_escalation_at has elapsed, across all tenants (the orchestrator's
// tick lock serializes one instance at a time over the whole fleet).
func (r *AlertRepository) DueAlerts(ctx context.Context, now time.Time) ([]domain.Alert, error) {
	var rows []alertRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT alert_id, tenant_id, device_id, rule_id, alert_type, severity, status, fingerprint,
		       summary, created_at, acknowledged_at, closed_at, escalation_level, next_escalation_at
		FROM alerts
		WHERE status = 'OPEN' AND next_escalation_at IS NOT NULL AND next_escalation_at <= $1`, now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "query due alerts")
	}
	out := make([]domain.Alert, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// AdvanceEscalation satisfies orchestrator.Store, persisting the new
// escalation level and next-tick deadline decided by DecideEscalation.
func (r *AlertRepository) AdvanceEscalation(ctx context.Context, alertID string, newLevel int, nextAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET escalation_level = $2, next_escalation_at = $3 WHERE alert_id = $1`,
		alertID, newLevel, sqlutil.ToNullTime(nextAt))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "advance escalation")
	}
	return nil
}

// EscalationPolicyForAlert satisfies orchestrator.Store: the policy
// attached to the alert's rule (or the tenant default for heartbeat alerts).
func (r *AlertRepository) EscalationPolicyForAlert(ctx context.Context, tenant, alertID string) (domain.EscalationPolicy, error) {
	var policyID string
	err := r.db.GetContext(ctx, &policyID, `
		SELECT COALESCE(r.escalation_policy_id, t.default_escalation_policy_id)
		FROM alerts a
		LEFT JOIN alert_rules r ON r.rule_id = a.rule_id AND r.tenant_id = a.tenant_id
		JOIN tenants t ON t.tenant_id = a.tenant_id
		WHERE a.alert_id = $1 AND a.tenant_id = $2`, alertID, tenant)
	if err != nil {
		return domain.EscalationPolicy{}, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "resolve escalation policy id")
	}
	return loadEscalationPolicy(ctx, r.db, tenant, policyID)
}

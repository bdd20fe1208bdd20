package repo

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/apperrors"
	"github.com/nexusiot/fleetcore/internal/domain"
)

// RuleRepository loads alert rule definitions for the evaluator.
type RuleRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewRuleRepository(db *sqlx.DB, log *zap.Logger) *RuleRepository {
	return &RuleRepository{db: db, log: log}
}

type ruleRow struct {
	RuleID          string          `db:"rule_id"`
	Tenant          string          `db:"tenant_id"`
	Mode            string          `db:"mode"`
	Severity        string          `db:"severity"`
	Enabled         bool            `db:"enabled"`
	DeviceScope     json.RawMessage `db:"device_scope"`
	DurationSeconds int             `db:"duration_seconds"`
	MetricName      string          `db:"metric_name"`
	Operator        string          `db:"operator"`
	Threshold       float64         `db:"threshold"`
	Conditions      json.RawMessage `db:"conditions"`
	MatchKind       string          `db:"match_kind"`
	Sensitivity     float64         `db:"sensitivity"`
}

// ListEnabledRules satisfies evaluator.Store.
func (r *RuleRepository) ListEnabledRules(ctx context.Context, tenant string) ([]domain.AlertRule, error) {
	var rows []ruleRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT rule_id, tenant_id, mode, severity, enabled, device_scope, duration_seconds,
		       metric_name, operator, threshold, conditions, match_kind, sensitivity
		FROM alert_rules
		WHERE tenant_id = $1 AND enabled = true`, tenant)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "list enabled rules")
	}

	out := make([]domain.AlertRule, 0, len(rows))
	for _, row := range rows {
		rule, convErr := row.toDomain()
		if convErr != nil {
			r.log.Warn("skipping unreadable alert rule", zap.String("rule_id", row.RuleID), zap.Error(convErr))
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func (row ruleRow) toDomain() (domain.AlertRule, error) {
	var scope []string
	if len(row.DeviceScope) > 0 {
		if err := json.Unmarshal(row.DeviceScope, &scope); err != nil {
			return domain.AlertRule{}, err
		}
	}
	var conditions []domain.ThresholdCondition
	if len(row.Conditions) > 0 {
		if err := json.Unmarshal(row.Conditions, &conditions); err != nil {
			return domain.AlertRule{}, err
		}
	}
	return domain.AlertRule{
		RuleID:          row.RuleID,
		Tenant:          row.Tenant,
		Mode:            domain.RuleMode(row.Mode),
		Severity:        row.Severity,
		Enabled:         row.Enabled,
		DeviceScope:     scope,
		DurationSeconds: row.DurationSeconds,
		Threshold: domain.ThresholdCondition{
			MetricName: row.MetricName,
			Operator:   domain.Operator(row.Operator),
			Threshold:  row.Threshold,
		},
		Conditions:  conditions,
		Match:       domain.MatchKind(row.MatchKind),
		MetricName:  row.MetricName,
		Sensitivity: row.Sensitivity,
	}, nil
}

package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/apperrors"
	"github.com/nexusiot/fleetcore/internal/domain"
)

// EscalationPolicyRepository loads escalation-level ladders.
type EscalationPolicyRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewEscalationPolicyRepository(db *sqlx.DB, log *zap.Logger) *EscalationPolicyRepository {
	return &EscalationPolicyRepository{db: db, log: log}
}

type escalationLevelRow struct {
	DelaySeconds int             `db:"delay_seconds"`
	ActionKind   string          `db:"action_kind"`
	ActionConfig json.RawMessage `db:"action_config"`
}

// Get loads a policy and its ordered levels.
func (r *EscalationPolicyRepository) Get(ctx context.Context, tenant, policyID string) (domain.EscalationPolicy, error) {
	return loadEscalationPolicy(ctx, r.db, tenant, policyID)
}

// loadEscalationPolicy is shared by EscalationPolicyRepository.Get and
// AlertRepository.EscalationPolicyForAlert so both go through one query
// shape.
func loadEscalationPolicy(ctx context.Context, db *sqlx.DB, tenant, policyID string) (domain.EscalationPolicy, error) {
	var rows []escalationLevelRow
	err := db.SelectContext(ctx, &rows, `
		SELECT delay_seconds, action_kind, action_config
		FROM escalation_policy_levels
		WHERE tenant_id = $1 AND policy_id = $2
		ORDER BY level_index ASC`, tenant, policyID)
	if err != nil {
		return domain.EscalationPolicy{}, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "load escalation policy levels")
	}

	levels := make([]domain.EscalationLevel, 0, len(rows))
	for _, row := range rows {
		var cfg map[string]string
		if len(row.ActionConfig) > 0 {
			if err := json.Unmarshal(row.ActionConfig, &cfg); err != nil {
				return domain.EscalationPolicy{}, apperrors.Wrap(err, apperrors.ErrorTypeInvariantViolation, "decode action_config")
			}
		}
		levels = append(levels, domain.EscalationLevel{
			DelaySeconds: row.DelaySeconds,
			ActionKind:   row.ActionKind,
			ActionConfig: cfg,
		})
	}
	return domain.EscalationPolicy{PolicyID: policyID, Tenant: tenant, Levels: levels}, nil
}

// OnCallScheduleRepository loads rotation schedules used to resolve an
// escalation level's recipient.
type OnCallScheduleRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewOnCallScheduleRepository(db *sqlx.DB, log *zap.Logger) *OnCallScheduleRepository {
	return &OnCallScheduleRepository{db: db, log: log}
}

type rotationRow struct {
	StartAt      time.Time       `db:"start_at"`
	CadenceHours int             `db:"cadence_hours"`
	Users        json.RawMessage `db:"users"`
}

// OnCallScheduleForAction satisfies orchestrator.Store.
func (r *OnCallScheduleRepository) OnCallScheduleForAction(ctx context.Context, tenant, scheduleID string) (domain.OnCallSchedule, error) {
	var rows []rotationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT start_at, cadence_hours, users
		FROM oncall_rotations
		WHERE tenant_id = $1 AND schedule_id = $2
		ORDER BY start_at ASC`, tenant, scheduleID)
	if err != nil {
		return domain.OnCallSchedule{}, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "load oncall rotations")
	}

	rotations := make([]domain.Rotation, 0, len(rows))
	for _, row := range rows {
		var users []string
		if len(row.Users) > 0 {
			if err := json.Unmarshal(row.Users, &users); err != nil {
				return domain.OnCallSchedule{}, apperrors.Wrap(err, apperrors.ErrorTypeInvariantViolation, "decode rotation users")
			}
		}
		rotations = append(rotations, domain.Rotation{Start: row.StartAt, CadenceHours: row.CadenceHours, Users: users})
	}
	return domain.OnCallSchedule{ScheduleID: scheduleID, Tenant: tenant, Rotations: rotations}, nil
}

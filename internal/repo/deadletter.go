package repo

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/apperrors"
	"github.com/nexusiot/fleetcore/internal/domain"
)

// DeadLetterRepository persists terminally-failed route deliveries.
type DeadLetterRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewDeadLetterRepository(db *sqlx.DB, log *zap.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{db: db, log: log}
}

// Insert satisfies routedelivery.DeadLetterSink.
func (r *DeadLetterRepository) Insert(ctx context.Context, entry domain.DeadLetterEntry) error {
	cfg, err := json.Marshal(entry.DestConfig)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInvariantViolation, "encode dead-letter destination_config")
	}
	_, execErr := r.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, tenant_id, route_id, topic, payload, destination_kind,
		                           destination_config, error_message, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.Tenant, entry.RouteID, entry.Topic, entry.Payload, string(entry.DestKind),
		cfg, entry.ErrorMessage, entry.FailedAt)
	if execErr != nil {
		return apperrors.Wrap(execErr, apperrors.ErrorTypeTransientDependency, "insert dead letter")
	}
	return nil
}

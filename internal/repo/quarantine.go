package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/domain"
)

// QuarantineRepository persists rejected/terminally-failed telemetry for
// forensics, satisfying both ingest.Quarantine (single rejected record)
// and batchwriter.QuarantineSink (a failed flush batch).
type QuarantineRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewQuarantineRepository(db *sqlx.DB, log *zap.Logger) *QuarantineRepository {
	return &QuarantineRepository{db: db, log: log}
}

// Insert satisfies ingest.Quarantine. Quarantine writes are best-effort:
// a failure here is logged, never propagated back into the ingest
// pipeline's ack decision.
func (r *QuarantineRepository) Insert(ctx context.Context, rec domain.QuarantineRecord) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO quarantine_records (id, tenant_id, device_id, reason, raw_payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), rec.Tenant, rec.DeviceID, rec.Reason, rec.RawPayload, rec.ReceivedAt)
	if err != nil {
		r.log.Error("failed to write quarantine record",
			zap.String("tenant", rec.Tenant), zap.String("device_id", rec.DeviceID), zap.Error(err))
	}
}

// InsertBatch satisfies batchwriter.QuarantineSink for a batch that
// exhausted its retry budget: every record in the batch is quarantined
// under the same reason.
func (r *QuarantineRepository) InsertBatch(ctx context.Context, records []domain.TelemetryRecord, reason string) {
	for _, rec := range records {
		payload, err := encodeMetrics(rec.Metrics)
		if err != nil {
			r.log.Error("failed to encode metrics for quarantine", zap.String("device_id", rec.DeviceID), zap.Error(err))
			continue
		}
		r.Insert(ctx, domain.QuarantineRecord{
			Tenant:     rec.Tenant,
			DeviceID:   rec.DeviceID,
			Reason:     reason,
			RawPayload: payload,
			ReceivedAt: rec.Time,
		})
	}
}

package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/apperrors"
	"github.com/nexusiot/fleetcore/internal/domain"
	"github.com/nexusiot/fleetcore/internal/evaluator"
	"github.com/nexusiot/fleetcore/internal/repo/tenantsession"
)

// TelemetryRepository persists accepted telemetry samples and serves the
// rule evaluator's lookback window reads.
type TelemetryRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewTelemetryRepository(db *sqlx.DB, log *zap.Logger) *TelemetryRepository {
	return &TelemetryRepository{db: db, log: log}
}

// BatchInsert satisfies batchwriter.Flusher: inside a single
// app.tenant_id-scoped transaction (spec.md §5) it executes one prepared
// single-row INSERT per record (not one multi-row statement), then one
// last_seen_at bump per device. Any failed statement, a last-seen bump
// included, rolls the whole batch back, so a partial write never leaves
// last_seen_at ahead of the samples it reflects, and every statement is
// subject to the tenant's row-level-security policy.
func (r *TelemetryRepository) BatchInsert(ctx context.Context, tenant string, records []domain.TelemetryRecord) error {
	if len(records) == 0 {
		return nil
	}

	err := tenantsession.WithTenant(ctx, r.db.DB, tenant, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO telemetry_records (tenant_id, device_id, site_id, recorded_at, seq, metrics)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tenant_id, device_id, recorded_at, seq) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		latestSeen := make(map[string]time.Time, len(records))
		for _, rec := range records {
			encoded, encErr := encodeMetrics(rec.Metrics)
			if encErr != nil {
				return encErr
			}
			if _, err := stmt.ExecContext(ctx, rec.Tenant, rec.DeviceID, rec.SiteID, rec.Time, rec.Seq, encoded); err != nil {
				return err
			}
			if cur, ok := latestSeen[rec.DeviceID]; !ok || rec.Time.After(cur) {
				latestSeen[rec.DeviceID] = rec.Time
			}
		}

		for deviceID, seenAt := range latestSeen {
			if _, err := tx.ExecContext(ctx, `
				UPDATE devices SET last_seen_at = $3, status = 'ONLINE'
				WHERE tenant_id = $1 AND device_id = $2 AND last_seen_at < $3`, tenant, deviceID, seenAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "batch insert telemetry records")
	}
	return nil
}

type readingRow struct {
	DeviceID   string    `db:"device_id"`
	RecordedAt time.Time `db:"recorded_at"`
	Metrics    []byte    `db:"metrics"`
}

// RecentReadings satisfies evaluator.Store: every sample for deviceID in
// [now-lookback, now] projected down to the requested metric names.
func (r *TelemetryRepository) RecentReadings(ctx context.Context, tenant, deviceID string, metricNames []string, lookback time.Duration, now time.Time) (evaluator.ReadingSet, error) {
	var rows []readingRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT device_id, recorded_at, metrics
		FROM telemetry_records
		WHERE tenant_id = $1 AND device_id = $2 AND recorded_at >= $3 AND recorded_at <= $4
		ORDER BY recorded_at ASC`, tenant, deviceID, now.Add(-lookback), now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "query recent readings")
	}

	wanted := make(map[string]bool, len(metricNames))
	for _, m := range metricNames {
		wanted[m] = true
	}

	out := make(evaluator.ReadingSet, len(metricNames))
	for _, row := range rows {
		metrics, decErr := decodeMetrics(row.Metrics)
		if decErr != nil {
			r.log.Warn("skipping reading with unreadable metrics payload", zap.String("device_id", deviceID), zap.Error(decErr))
			continue
		}
		for name, mv := range metrics {
			if !wanted[name] || mv.Kind != domain.MetricNumber {
				continue
			}
			out[name] = append(out[name], evaluator.Reading{Time: row.RecordedAt, Value: mv.Num, Present: true})
		}
	}
	return out, nil
}

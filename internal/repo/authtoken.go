package repo

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/apperrors"
	"github.com/nexusiot/fleetcore/internal/metrickeycache"
)

// MetricKeyRepository loads a device's canonical metric-key map, merged
// from its template plus any device-level overrides.
type MetricKeyRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewMetricKeyRepository(db *sqlx.DB, log *zap.Logger) *MetricKeyRepository {
	return &MetricKeyRepository{db: db, log: log}
}

type metricKeyRow struct {
	RawKey       string `db:"raw_key"`
	CanonicalKey string `db:"canonical_key"`
}

// LoadKeyMap satisfies metrickeycache.Loader: device-level overrides take
// precedence over the device's template mapping, expressed as a single
// query ordered so the later (device-level) row wins the map-write.
func (r *MetricKeyRepository) LoadKeyMap(ctx context.Context, tenant, deviceID string) (metrickeycache.KeyMap, error) {
	var rows []metricKeyRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT raw_key, canonical_key FROM (
			SELECT tk.raw_key, tk.canonical_key, 0 AS prio FROM template_metric_keys tk
			JOIN devices d ON d.template_id = tk.template_id AND d.tenant_id = tk.tenant_id
			WHERE d.tenant_id = $1 AND d.device_id = $2
			UNION ALL
			SELECT raw_key, canonical_key, 1 AS prio FROM device_metric_keys
			WHERE tenant_id = $1 AND device_id = $2
		) k
		ORDER BY prio`, tenant, deviceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "load metric key map")
	}

	out := make(metrickeycache.KeyMap, len(rows))
	for _, row := range rows {
		out[row.RawKey] = row.CanonicalKey
	}
	return out, nil
}

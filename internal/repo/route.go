package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/apperrors"
	"github.com/nexusiot/fleetcore/internal/domain"
)

// RouteRepository resolves routes both by topic match (ingest-side
// fan-out) and by (tenant, route_id) lookup (delivery-worker side).
type RouteRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewRouteRepository(db *sqlx.DB, log *zap.Logger) *RouteRepository {
	return &RouteRepository{db: db, log: log}
}

type routeRow struct {
	Tenant            string          `db:"tenant_id"`
	RouteID           string          `db:"route_id"`
	TopicFilter       string          `db:"topic_filter"`
	PayloadFilter     string          `db:"payload_filter"`
	DestinationKind   string          `db:"destination_kind"`
	DestinationConfig json.RawMessage `db:"destination_config"`
	Enabled           bool            `db:"enabled"`
}

func (row routeRow) toDomain() (domain.Route, error) {
	var cfg map[string]string
	if len(row.DestinationConfig) > 0 {
		if err := json.Unmarshal(row.DestinationConfig, &cfg); err != nil {
			return domain.Route{}, err
		}
	}
	return domain.Route{
		Tenant:            row.Tenant,
		RouteID:           row.RouteID,
		TopicFilter:       row.TopicFilter,
		PayloadFilter:     row.PayloadFilter,
		DestinationKind:   domain.DestinationKind(row.DestinationKind),
		DestinationConfig: cfg,
		Enabled:           row.Enabled,
	}, nil
}

// MatchRoutes satisfies routefanout.RouteMatcher: every enabled route
// whose topic_filter matches the record's (tenant, site, device) subject.
// payload_filter is intentionally not evaluated here -- the delivery
// worker applies it against the fully rendered payload (spec.md §4.2.8).
func (r *RouteRepository) MatchRoutes(ctx context.Context, rec domain.TelemetryRecord) ([]domain.Route, error) {
	var rows []routeRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT tenant_id, route_id, topic_filter, payload_filter, destination_kind, destination_config, enabled
		FROM routes
		WHERE tenant_id = $1 AND enabled = true AND ($2::text LIKE topic_filter)`,
		rec.Tenant, rec.SiteID+"/"+rec.DeviceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "match routes")
	}

	out := make([]domain.Route, 0, len(rows))
	for _, row := range rows {
		route, convErr := row.toDomain()
		if convErr != nil {
			r.log.Warn("skipping route with unreadable destination_config", zap.String("route_id", row.RouteID), zap.Error(convErr))
			continue
		}
		out = append(out, route)
	}
	return out, nil
}

// GetRoute satisfies routedelivery.RouteLookup.
func (r *RouteRepository) GetRoute(ctx context.Context, tenant, routeID string) (domain.Route, error) {
	var row routeRow
	err := r.db.GetContext(ctx, &row, `
		SELECT tenant_id, route_id, topic_filter, payload_filter, destination_kind, destination_config, enabled
		FROM routes
		WHERE tenant_id = $1 AND route_id = $2`, tenant, routeID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Route{}, apperrors.New(apperrors.ErrorTypeValidation, "route not found").WithDetailsf("tenant=%s route=%s", tenant, routeID)
	}
	if err != nil {
		return domain.Route{}, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "get route")
	}
	return row.toDomain()
}

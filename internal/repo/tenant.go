package repo

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/apperrors"
)

// TenantRepository answers the cross-tenant "which tenants need a pass
// right now" question shared by the Evaluator's fallback poll
// (spec.md §4.3) and the Ingestor's per-tenant stream fan-out
// (spec.md §4.2.2) -- tenant CRUD itself is an explicit Non-goal
// (spec.md §1), but listing active tenant IDs is ambient infrastructure
// every multi-tenant loop in the core needs.
type TenantRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewTenantRepository(db *sqlx.DB, log *zap.Logger) *TenantRepository {
	return &TenantRepository{db: db, log: log}
}

// ListActiveTenants returns every tenant whose status is ACTIVE.
func (r *TenantRepository) ListActiveTenants(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT tenant_id FROM tenants WHERE status = 'ACTIVE' ORDER BY tenant_id`); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "list active tenants")
	}
	return ids, nil
}

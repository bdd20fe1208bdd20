package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/apperrors"
	"github.com/nexusiot/fleetcore/internal/authcache"
	"github.com/nexusiot/fleetcore/internal/domain"
	"github.com/nexusiot/fleetcore/internal/evaluator"
	"github.com/nexusiot/fleetcore/internal/ingest"
)

// DeviceRepository persists device registration, auth, and liveness state.
type DeviceRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewDeviceRepository(db *sqlx.DB, log *zap.Logger) *DeviceRepository {
	return &DeviceRepository{db: db, log: log}
}

type deviceRow struct {
	Tenant     string         `db:"tenant_id"`
	DeviceID   string         `db:"device_id"`
	SiteID     string         `db:"site_id"`
	TemplateID sql.NullString `db:"template_id"`
	Status     string         `db:"status"`
	LastSeenAt time.Time      `db:"last_seen_at"`
}

// Get fetches a single device, returning an apperrors ErrorTypeValidation
// error ("device not found") when absent -- callers treat this like any
// other "device_unknown" rejection reason.
func (r *DeviceRepository) Get(ctx context.Context, tenant, deviceID string) (domain.Device, error) {
	var row deviceRow
	err := r.db.GetContext(ctx, &row, `
		SELECT tenant_id, device_id, site_id, template_id, status, last_seen_at
		FROM devices
		WHERE tenant_id = $1 AND device_id = $2`, tenant, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Device{}, apperrors.New(apperrors.ErrorTypeValidation, "device not found").WithDetailsf("tenant=%s device=%s", tenant, deviceID)
	}
	if err != nil {
		return domain.Device{}, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "query device")
	}
	return rowToDevice(row), nil
}

// ListByTenant returns every device's heartbeat state, consumed by the
// evaluator's device-status sweep.
func (r *DeviceRepository) ListByTenant(ctx context.Context, tenant string) ([]evaluator.DeviceHeartbeat, error) {
	var rows []deviceRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT tenant_id, device_id, site_id, template_id, status, last_seen_at
		FROM devices
		WHERE tenant_id = $1`, tenant)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "list devices")
	}

	out := make([]evaluator.DeviceHeartbeat, 0, len(rows))
	for _, row := range rows {
		out = append(out, evaluator.DeviceHeartbeat{
			Tenant:     row.Tenant,
			DeviceID:   row.DeviceID,
			LastSeenAt: row.LastSeenAt,
			Status:     row.Status,
		})
	}
	return out, nil
}

// UpdateLastSeen moves a device's last_seen_at forward to seenAt (and
// marks it ONLINE) when seenAt is newer than the stored value.
func (r *DeviceRepository) UpdateLastSeen(ctx context.Context, tenant, deviceID string, seenAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET last_seen_at = $3, status = 'ONLINE'
		WHERE tenant_id = $1 AND device_id = $2 AND last_seen_at < $3`, tenant, deviceID, seenAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "update device last_seen_at")
	}
	return nil
}

// UpdateStatus persists a device-status transition decided by the evaluator.
func (r *DeviceRepository) UpdateStatus(ctx context.Context, tenant, deviceID, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET status = $3 WHERE tenant_id = $1 AND device_id = $2`, tenant, deviceID, status)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "update device status")
	}
	return nil
}

func rowToDevice(row deviceRow) domain.Device {
	d := domain.Device{
		Tenant:     row.Tenant,
		DeviceID:   row.DeviceID,
		SiteID:     row.SiteID,
		Status:     domain.DeviceStatus(row.Status),
		LastSeenAt: row.LastSeenAt,
	}
	if row.TemplateID.Valid {
		tid := row.TemplateID.String
		d.TemplateID = &tid
	}
	return d
}

// authTokenRow is the row shape scanned by LoadAuth below, which joins
// devices, device_auth_tokens and tenants.
type authTokenRow struct {
	TokenHash          string `db:"token_hash"`
	DeviceStatus       string `db:"device_status"`
	SiteID             string `db:"site_id"`
	SubscriptionStatus string `db:"subscription_status"`
}

// LoadAuth satisfies authcache.Loader: join device + tenant + device_auth_tokens.
func (r *DeviceRepository) LoadAuth(ctx context.Context, tenant, deviceID string) (authcache.Entry, error) {
	var row authTokenRow
	err := r.db.GetContext(ctx, &row, `
		SELECT t.token_hash, d.status AS device_status, d.site_id, te.status AS subscription_status
		FROM devices d
		JOIN device_auth_tokens t ON t.tenant_id = d.tenant_id AND t.device_id = d.device_id
		JOIN tenants te ON te.tenant_id = d.tenant_id
		WHERE d.tenant_id = $1 AND d.device_id = $2
		ORDER BY t.created_at DESC
		LIMIT 1`, tenant, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return authcache.Entry{}, ingest.ErrDeviceNotFound
	}
	if err != nil {
		return authcache.Entry{}, apperrors.Wrap(err, apperrors.ErrorTypeTransientDependency, "load device auth")
	}
	return authcache.Entry{
		TokenHash:          row.TokenHash,
		DeviceStatus:       row.DeviceStatus,
		SiteID:             row.SiteID,
		SubscriptionStatus: row.SubscriptionStatus,
	}, nil
}

// isUniqueViolation reports whether err is a Postgres 23505
// unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Package tenantsession applies the row-level-security contract from
// spec.md §5 to the work run through WithTenant: it runs inside a
// transaction that first sets the app.tenant_id session variable, so
// Postgres RLS policies scope every statement in it to that tenant.
package tenantsession

import (
	"context"
	"database/sql"
	"fmt"
)

// WithTenant opens a transaction, sets app.tenant_id for its duration,
// runs fn, and commits on success or rolls back on error (including a
// panic, which is re-thrown after rollback).
func WithTenant(ctx context.Context, db *sql.DB, tenantID string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	// set_config's third argument (is_local=true) scopes the setting to
	// this transaction only, it never leaks across pooled connections.
	if _, err = tx.ExecContext(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenantID); err != nil {
		return fmt.Errorf("set tenant session var: %w", err)
	}

	err = fn(tx)
	return err
}

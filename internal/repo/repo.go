// Package repo implements the Postgres persistence layer backing every
// other package's repository-shaped dependency: device/auth lookups,
// batched telemetry writes, alert lifecycle state, escalation policy and
// on-call schedules, route matching, and dead-letter/quarantine sinks.
// Only TelemetryRepository.BatchInsert runs under
// internal/repo/tenantsession, so that row-level security scopes its
// writes to the caller's tenant; the other repositories run their
// queries directly on the pool, filter by tenant_id in the WHERE clause
// and do not set app.tenant_id.
package repo

import "errors"

var errInvalidMetricsJSON = errors.New("metrics column is not valid JSON")

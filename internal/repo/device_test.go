package repo

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/ingest"
)

func TestDeviceRepository_LoadAuth_notFound(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	repo := NewDeviceRepository(sqlx.NewDb(mockDB, "sqlmock"), zap.NewNop())
	mock.ExpectQuery(`SELECT t.token_hash`).
		WithArgs("acme", "dev1").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.LoadAuth(context.Background(), "acme", "dev1")
	assert.ErrorIs(t, err, ingest.ErrDeviceNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceRepository_LoadAuth_found(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	repo := NewDeviceRepository(sqlx.NewDb(mockDB, "sqlmock"), zap.NewNop())
	rows := sqlmock.NewRows([]string{"token_hash", "device_status", "site_id", "subscription_status"}).
		AddRow("hash1", "ACTIVE", "site1", "active")
	mock.ExpectQuery(`SELECT t.token_hash`).
		WithArgs("acme", "dev1").
		WillReturnRows(rows)

	entry, err := repo.LoadAuth(context.Background(), "acme", "dev1")
	require.NoError(t, err)
	assert.Equal(t, "hash1", entry.TokenHash)
	assert.Equal(t, "active", entry.SubscriptionStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

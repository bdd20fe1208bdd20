package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/domain"
)

var _ = Describe("TelemetryRepository", func() {
	var (
		repo   *TelemetryRepository
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
		now    time.Time
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).ToNot(HaveOccurred())

		repo = NewTelemetryRepository(sqlx.NewDb(mockDB, "sqlmock"), zap.NewNop())
		ctx = context.Background()
		now = time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("BatchInsert", func() {
		It("inserts every record and bumps last_seen_at once per device in a single transaction", func() {
			rec := domain.TelemetryRecord{
				Tenant: "acme", DeviceID: "dev1", SiteID: "site1", Time: now, Seq: 1,
				Metrics: map[string]domain.MetricValue{"temp": {Kind: domain.MetricNumber, Num: 21.5}},
			}

			mock.ExpectBegin()
			mock.ExpectExec(`SELECT set_config`).
				WithArgs("acme").
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectPrepare(`INSERT INTO telemetry_records`).
				ExpectExec().
				WithArgs("acme", "dev1", "site1", now, int64(1), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectExec(`UPDATE devices SET last_seen_at`).
				WithArgs("acme", "dev1", now).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			err := repo.BatchInsert(ctx, "acme", []domain.TelemetryRecord{rec})
			Expect(err).ToNot(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("is a no-op for an empty batch", func() {
			err := repo.BatchInsert(ctx, "acme", nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("rolls back when the insert fails", func() {
			rec := domain.TelemetryRecord{Tenant: "acme", DeviceID: "dev1", SiteID: "site1", Time: now, Seq: 1}

			mock.ExpectBegin()
			mock.ExpectExec(`SELECT set_config`).
				WithArgs("acme").
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectPrepare(`INSERT INTO telemetry_records`).
				ExpectExec().
				WithArgs("acme", "dev1", "site1", now, int64(1), sqlmock.AnyArg()).
				WillReturnError(sql.ErrConnDone)
			mock.ExpectRollback()

			err := repo.BatchInsert(ctx, "acme", []domain.TelemetryRecord{rec})
			Expect(err).To(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("RecentReadings", func() {
		It("projects stored metrics down to the requested names within the lookback window", func() {
			rows := sqlmock.NewRows([]string{"device_id", "recorded_at", "metrics"}).
				AddRow("dev1", now, []byte(`{"temp":21.5,"label":"ok"}`))

			mock.ExpectQuery(`SELECT device_id, recorded_at, metrics`).
				WithArgs("acme", "dev1", now.Add(-time.Hour), now).
				WillReturnRows(rows)

			readings, err := repo.RecentReadings(ctx, "acme", "dev1", []string{"temp"}, time.Hour, now)
			Expect(err).ToNot(HaveOccurred())
			Expect(readings).To(HaveKey("temp"))
			Expect(readings["temp"]).To(HaveLen(1))
			Expect(readings["temp"][0].Value).To(Equal(21.5))
			Expect(readings).ToNot(HaveKey("label"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})

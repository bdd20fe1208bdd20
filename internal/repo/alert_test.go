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

func domainAlertFixture(createdAt time.Time) domain.Alert {
	return domain.Alert{
		Tenant:      "acme",
		DeviceID:    "dev1",
		AlertType:   "rule",
		Severity:    "warning",
		Fingerprint: "RULE:r1:dev1",
		Summary:     "summary",
		CreatedAt:   createdAt,
	}
}

var _ = Describe("AlertRepository", func() {
	var (
		repo   *AlertRepository
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
		now    time.Time
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New()
		Expect(err).ToNot(HaveOccurred())

		repo = NewAlertRepository(sqlx.NewDb(mockDB, "sqlmock"), zap.NewNop())
		ctx = context.Background()
		now = time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("FindOpenAlert", func() {
		It("returns nil without error when no open alert exists", func() {
			mock.ExpectQuery(`SELECT alert_id, tenant_id, device_id, rule_id, alert_type, severity, status, fingerprint`).
				WithArgs("acme", "RULE:r1:dev1").
				WillReturnError(sql.ErrNoRows)

			alert, err := repo.FindOpenAlert(ctx, "acme", "RULE:r1:dev1")
			Expect(err).ToNot(HaveOccurred())
			Expect(alert).To(BeNil())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns the open alert row", func() {
			rows := sqlmock.NewRows([]string{
				"alert_id", "tenant_id", "device_id", "rule_id", "alert_type", "severity", "status",
				"fingerprint", "summary", "created_at", "acknowledged_at", "closed_at",
				"escalation_level", "next_escalation_at",
			}).AddRow("a1", "acme", "dev1", sql.NullString{String: "r1", Valid: true}, "rule", "warning", "OPEN",
				"RULE:r1:dev1", "summary", now, sql.NullTime{}, sql.NullTime{}, 0, sql.NullTime{})

			mock.ExpectQuery(`SELECT alert_id, tenant_id, device_id, rule_id, alert_type, severity, status`).
				WithArgs("acme", "RULE:r1:dev1").
				WillReturnRows(rows)

			alert, err := repo.FindOpenAlert(ctx, "acme", "RULE:r1:dev1")
			Expect(err).ToNot(HaveOccurred())
			Expect(alert).ToNot(BeNil())
			Expect(alert.AlertID).To(Equal("a1"))
			Expect(alert.Severity).To(Equal("warning"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("OpenAlert", func() {
		It("seeds next_escalation_at to created_at so the first tick can pick it up", func() {
			mock.ExpectExec(`INSERT INTO alerts`).
				WithArgs(sqlmock.AnyArg(), "acme", "dev1", sql.NullString{}, "rule", "warning",
					"RULE:r1:dev1", "summary", now).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.OpenAlert(ctx, domainAlertFixture(now))
			Expect(err).ToNot(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("CloseAlert", func() {
		It("updates status to CLOSED with the given timestamp", func() {
			mock.ExpectExec(`UPDATE alerts SET status = 'CLOSED'`).
				WithArgs("acme", "RULE:r1:dev1", now).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.CloseAlert(ctx, "acme", "RULE:r1:dev1", now)
			Expect(err).ToNot(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("DueAlerts", func() {
		It("returns every OPEN alert whose next_escalation_at has elapsed", func() {
			rows := sqlmock.NewRows([]string{
				"alert_id", "tenant_id", "device_id", "rule_id", "alert_type", "severity", "status",
				"fingerprint", "summary", "created_at", "acknowledged_at", "closed_at",
				"escalation_level", "next_escalation_at",
			}).AddRow("a1", "acme", "dev1", sql.NullString{}, "rule", "critical", "OPEN",
				"RULE:r1:dev1", "summary", now, sql.NullTime{}, sql.NullTime{}, 1, sql.NullTime{Time: now, Valid: true})

			mock.ExpectQuery(`SELECT alert_id, tenant_id, device_id, rule_id, alert_type, severity, status`).
				WithArgs(now).
				WillReturnRows(rows)

			alerts, err := repo.DueAlerts(ctx, now)
			Expect(err).ToNot(HaveOccurred())
			Expect(alerts).To(HaveLen(1))
			Expect(alerts[0].EscalationLevel).To(Equal(1))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("AdvanceEscalation", func() {
		It("persists the new level and next escalation deadline", func() {
			next := now.Add(time.Hour)
			mock.ExpectExec(`UPDATE alerts SET escalation_level`).
				WithArgs("a1", 2, sql.NullTime{Time: next, Valid: true}).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.AdvanceEscalation(ctx, "a1", 2, &next)
			Expect(err).ToNot(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})

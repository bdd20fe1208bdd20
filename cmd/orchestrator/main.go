// Command orchestrator runs the Alert Orchestrator process (spec.md
// §4.4): on each tick it claims a global advisory lock, selects due
// alerts, advances their escalation level, resolves the on-call
// recipient, and hands a notification job to the Slack sink.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/advisorylock"
	"github.com/nexusiot/fleetcore/internal/config"
	"github.com/nexusiot/fleetcore/internal/database"
	"github.com/nexusiot/fleetcore/internal/lifecycle"
	"github.com/nexusiot/fleetcore/internal/metrics"
	"github.com/nexusiot/fleetcore/internal/orchestrator"
	"github.com/nexusiot/fleetcore/internal/orchestrator/notify"
	"github.com/nexusiot/fleetcore/internal/repo"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestrator:", err)
		os.Exit(1)
	}
}

func run() error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()
	logrusLog := logrus.New()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbCfg := database.DefaultConfig().LoadFromEnv()
	dbCfg.MaxOpenConns = cfg.Pool.Max
	dbCfg.MaxIdleConns = cfg.Pool.Min
	sqlDB, err := database.Connect(dbCfg, logrusLog)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	db := sqlx.NewDb(sqlDB, "pgx")

	ctx, stopSignals := lifecycle.NotifyContext(context.Background())
	defer stopSignals()

	store := &repo.OrchestratorStore{
		Alerts: repo.NewAlertRepository(db, log),
		OnCall: repo.NewOnCallScheduleRepository(db, log),
	}
	locks := advisorylock.NewManager(sqlDB)

	slackClient := slack.New(os.Getenv("SLACK_BOT_TOKEN"))
	defaultChannel := os.Getenv("SLACK_DEFAULT_CHANNEL")
	if defaultChannel == "" {
		defaultChannel = "#alerts"
	}
	// Per-tenant channel routing is a settings concern out of scope for
	// this core (tenant CRUD/config is a Non-goal); every tenant's
	// escalation notifications land in one operator-configured channel.
	sink := notify.NewSlackSink(slackClient, notify.ChannelResolver(func(tenant string) string {
		return defaultChannel
	}))

	engine := &orchestrator.Engine{
		Store: store,
		Locks: locks,
		Sink:  sink,
		Log:   log,
	}

	runner := &orchestrator.Runner{
		Engine:   engine,
		Interval: 45 * time.Second,
		Log:      log,
	}

	metricsSrv := metrics.NewServer(":9090", logrusLog)
	metricsSrv.StartAsync()

	runner.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	disarm := lifecycle.HardKillAfter(30*time.Second, log)
	defer disarm()

	lifecycle.Shutdown(shutdownCtx, log, []lifecycle.Stage{
		{Name: "stop metrics server", Timeout: 5 * time.Second, Run: metricsSrv.Stop},
		{Name: "close database pool", Run: func(ctx context.Context) error {
			return sqlDB.Close()
		}},
	})

	return nil
}

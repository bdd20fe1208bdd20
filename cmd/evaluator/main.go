// Command evaluator runs the Evaluator process (spec.md §4.3): per-tenant
// device status computation and alert-rule evaluation, serialized by a
// Postgres advisory lock and triggered by a debounced bus notification
// plus a fallback poll.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/advisorylock"
	"github.com/nexusiot/fleetcore/internal/config"
	"github.com/nexusiot/fleetcore/internal/database"
	"github.com/nexusiot/fleetcore/internal/evaluator"
	"github.com/nexusiot/fleetcore/internal/lifecycle"
	"github.com/nexusiot/fleetcore/internal/metrics"
	"github.com/nexusiot/fleetcore/internal/repo"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "evaluator:", err)
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

	redisOpts, err := redis.ParseURL(cfg.BusURL)
	if err != nil {
		return fmt.Errorf("parse bus url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	ctx, stopSignals := lifecycle.NotifyContext(context.Background())
	defer stopSignals()

	store := &repo.EvaluatorStore{
		Devices:   repo.NewDeviceRepository(db, log),
		Rules:     repo.NewRuleRepository(db, log),
		Telemetry: repo.NewTelemetryRepository(db, log),
		Alerts:    repo.NewAlertRepository(db, log),
	}
	tenantRepo := repo.NewTenantRepository(db, log)
	locks := advisorylock.NewManager(sqlDB)

	engine := &evaluator.Engine{
		Store:      store,
		Locks:      locks,
		Thresholds: evaluator.Thresholds{Stale: staleDuration(cfg), Offline: offlineDuration(cfg)},
		Lookback:   15 * time.Minute,
		Log:        log,
	}

	notify := tenantChangeNotifications(ctx, redisClient, log)

	runner := &evaluator.Runner{
		Engine:   engine,
		Tenants:  tenantRepo.ListActiveTenants,
		Notify:   notify,
		Fallback: time.Duration(cfg.FallbackPollSeconds) * time.Second,
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

func staleDuration(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Heartbeat.StaleSeconds) * time.Second
}

func offlineDuration(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Heartbeat.OfflineSeconds) * time.Second
}

// tenantChangeNotifications subscribes to the pub/sub channel the
// Ingestor publishes a tenant ID to after each successful time-triggered
// batch flush for that tenant, letting the Runner debounce straight into
// an evaluation instead of waiting for the fallback poll.
func tenantChangeNotifications(ctx context.Context, client *redis.Client, log *zap.Logger) <-chan string {
	out := make(chan string, 256)
	sub := client.Subscribe(ctx, "fleetcore.evaluator.notify")

	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
					log.Warn("evaluator notify channel full, dropping wakeup", zap.String("tenant", msg.Payload))
				}
			}
		}
	}()

	return out
}

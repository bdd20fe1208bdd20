// Command ingestor runs the Ingestor process (spec.md §4.2): pull-consume
// from the TELEMETRY stream, authorize/validate/rate-limit/normalize,
// batch-write to the time-series store, and fan out delivery jobs onto
// the ROUTES stream -- the central, highest-detail component of the
// telemetry data plane.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/authcache"
	"github.com/nexusiot/fleetcore/internal/batchwriter"
	"github.com/nexusiot/fleetcore/internal/bus"
	"github.com/nexusiot/fleetcore/internal/config"
	"github.com/nexusiot/fleetcore/internal/database"
	"github.com/nexusiot/fleetcore/internal/httpapi"
	"github.com/nexusiot/fleetcore/internal/ingest"
	"github.com/nexusiot/fleetcore/internal/lifecycle"
	"github.com/nexusiot/fleetcore/internal/metrickeycache"
	"github.com/nexusiot/fleetcore/internal/metrics"
	"github.com/nexusiot/fleetcore/internal/ratelimit"
	"github.com/nexusiot/fleetcore/internal/repo"
	"github.com/nexusiot/fleetcore/internal/routefanout"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ingestor:", err)
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
	redisBus := bus.NewRedisBus(redisClient)

	ctx, stopSignals := lifecycle.NotifyContext(context.Background())
	defer stopSignals()

	tenantRepo := repo.NewTenantRepository(db, log)
	consumer := bus.NewFanoutConsumer(redisClient, bus.StreamTelemetry, "ingestor", "ingestor-"+os.Getenv("HOSTNAME"),
		tenantRepo.ListActiveTenants, time.Duration(cfg.SettingsPollSeconds)*time.Second)

	deviceRepo := repo.NewDeviceRepository(db, log)
	metricKeyRepo := repo.NewMetricKeyRepository(db, log)
	telemetryRepo := repo.NewTelemetryRepository(db, log)
	quarantineRepo := repo.NewQuarantineRepository(db, log)
	routeRepo := repo.NewRouteRepository(db, log)

	authCache := authcache.New(cfg.AuthCache.MaxSize, time.Duration(cfg.AuthCache.TTLSeconds)*time.Second, deviceRepo.LoadAuth)
	metricCache := metrickeycache.New(cfg.MetricMapCache.MaxSize, time.Duration(cfg.MetricMapCache.TTLSeconds)*time.Second, metricKeyRepo.LoadKeyMap)

	rateLimiter := ratelimit.New(time.Duration(cfg.Bucket.TTLSeconds) * time.Second)
	tiers, fallbackTier := ratelimit.DefaultTiers()
	tierResolver := ingest.TierResolver(ratelimit.StaticTierResolver(tiers, fallbackTier))

	batchWriter := batchwriter.New(cfg.Ingest.BatchSize, time.Duration(cfg.Ingest.FlushIntervalMS)*time.Millisecond,
		telemetryRepo.BatchInsert, quarantineRepo.InsertBatch, log)

	routeQueue := routefanout.New(10000, cfg.Ingest.DeliveryWorkerCount, routeRepo.MatchRoutes, redisBus, log)

	pipeline := &ingest.Pipeline{
		Auth:        authCache,
		MetricKeys:  metricCache,
		RateLimit:   rateLimiter,
		Tier:        tierResolver,
		BatchWriter: batchWriter,
		RouteQueue:  routeQueue,
		Quarantine:  quarantineRepo.Insert,
		MaxPayload:  cfg.Ingest.MaxPayloadBytes,
		Log:         log,
	}

	runner := ingest.NewRunner(consumer, pipeline, cfg.Ingest.WorkerCount, 10, log)

	httpHandler := &httpapi.IngestHandler{
		Auth:        authCache,
		MetricKeys:  metricCache,
		RateLimit:   rateLimiter,
		Tier:        tierResolver,
		BatchWriter: batchWriter,
		RouteQueue:  routeQueue,
		Quarantine:  quarantineRepo.Insert,
		MaxPayload:  cfg.Ingest.MaxPayloadBytes,
		Log:         log,
	}
	httpSrv := &http.Server{Addr: ":8080", Handler: httpapi.Router(httpHandler)}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http ingest server stopped unexpectedly", zap.Error(err))
		}
	}()

	metricsSrv := metrics.NewServer(":9090", logrusLog)
	metricsSrv.StartAsync()

	flushTicker := time.NewTicker(100 * time.Millisecond)
	bucketTicker := time.NewTicker(time.Duration(cfg.Bucket.CleanupInterval) * time.Second)
	go func() {
		for {
			select {
			case <-ctx.Done():
				flushTicker.Stop()
				bucketTicker.Stop()
				return
			case <-flushTicker.C:
				for _, tenant := range batchWriter.Tenants() {
					if batchWriter.DueForTimeFlush(tenant) {
						if err := batchWriter.Flush(ctx, tenant); err == nil {
							redisClient.Publish(ctx, "fleetcore.evaluator.notify", tenant)
						}
					}
				}
			case <-bucketTicker.C:
				rateLimiter.Sweep()
			}
		}
	}()

	go routeQueue.Run(ctx)
	runner.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	disarm := lifecycle.HardKillAfter(30*time.Second, log)
	defer disarm()

	lifecycle.Shutdown(shutdownCtx, log, []lifecycle.Stage{
		{Name: "stop http ingest server", Timeout: 5 * time.Second, Run: httpSrv.Shutdown},
		{Name: "drain route fan-out queue", Timeout: 5 * time.Second, Run: func(ctx context.Context) error {
			routeQueue.Drain()
			return nil
		}},
		{Name: "final batch flush", Timeout: 10 * time.Second, Run: func(ctx context.Context) error {
			batchWriter.FlushAll(ctx)
			return nil
		}},
		{Name: "stop metrics server", Timeout: 5 * time.Second, Run: metricsSrv.Stop},
		{Name: "close database pool", Run: func(ctx context.Context) error {
			return sqlDB.Close()
		}},
	})

	return nil
}

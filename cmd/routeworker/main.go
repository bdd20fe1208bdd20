// Command routeworker runs the Route Delivery Worker (spec.md §4.5):
// pull-consume from the ROUTES stream, dispatch each delivery job to its
// route's destination_kind, retry transient failures, and dead-letter
// the rest.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/bus"
	"github.com/nexusiot/fleetcore/internal/config"
	"github.com/nexusiot/fleetcore/internal/database"
	"github.com/nexusiot/fleetcore/internal/lifecycle"
	"github.com/nexusiot/fleetcore/internal/metrics"
	"github.com/nexusiot/fleetcore/internal/repo"
	"github.com/nexusiot/fleetcore/internal/routedelivery"
	"github.com/nexusiot/fleetcore/internal/routedelivery/destination"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "routeworker:", err)
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

	tenantRepo := repo.NewTenantRepository(db, log)
	consumer := bus.NewFanoutConsumer(redisClient, bus.StreamRoutes, "routeworker", "routeworker-"+os.Getenv("HOSTNAME"),
		tenantRepo.ListActiveTenants, time.Duration(cfg.SettingsPollSeconds)*time.Second)

	routeRepo := repo.NewRouteRepository(db, log)
	deadLetterRepo := repo.NewDeadLetterRepository(db, log)

	mqttClient, err := dialMQTTClient(ctx)
	if err != nil {
		return fmt.Errorf("dial mqtt republish broker: %w", err)
	}

	registry := destination.Registry{
		Webhook:       destination.NewWebhook(),
		MQTTRepublish: destination.NewMQTTRepublish(mqttClient),
		ObjectStorage: destination.NewObjectStorage(),
	}

	worker := &routedelivery.Worker{
		Consumer:    consumer,
		Registry:    registry,
		LookupRoute: routeRepo.GetRoute,
		DeadLetter:  deadLetterRepo.Insert,
		Log:         log,
	}

	metricsSrv := metrics.NewServer(":9090", logrusLog)
	metricsSrv.StartAsync()

	worker.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	disarm := lifecycle.HardKillAfter(30*time.Second, log)
	defer disarm()

	lifecycle.Shutdown(shutdownCtx, log, []lifecycle.Stage{
		{Name: "disconnect mqtt republish client", Timeout: 5 * time.Second, Run: func(ctx context.Context) error {
			return mqttClient.Disconnect(&paho.Disconnect{ReasonCode: 0})
		}},
		{Name: "stop metrics server", Timeout: 5 * time.Second, Run: metricsSrv.Stop},
		{Name: "close database pool", Run: func(ctx context.Context) error {
			return sqlDB.Close()
		}},
	})

	return nil
}

// dialMQTTClient connects a bare paho.golang client (no subscriptions,
// no router) used only to publish mqtt_republish deliveries back to
// devices.
func dialMQTTClient(ctx context.Context) (*paho.Client, error) {
	brokerURL, err := url.Parse(mqttBrokerURL())
	if err != nil {
		return nil, fmt.Errorf("parse mqtt broker url: %w", err)
	}

	conn, err := dialBroker(ctx, brokerURL)
	if err != nil {
		return nil, err
	}

	client := paho.NewClient(paho.ClientConfig{Conn: conn})
	if _, err := client.Connect(ctx, &paho.Connect{
		KeepAlive:  30,
		ClientID:   "fleetcore-routeworker-" + os.Getenv("HOSTNAME"),
		CleanStart: true,
	}); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return client, nil
}

func mqttBrokerURL() string {
	if v := os.Getenv("MQTT_BROKER_URL"); v != "" {
		return v
	}
	return "tcp://localhost:1883"
}

func dialBroker(ctx context.Context, brokerURL *url.URL) (net.Conn, error) {
	addr := brokerURL.Host
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		d := tls.Dialer{Config: &tls.Config{MinVersion: tls.VersionTLS12}}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

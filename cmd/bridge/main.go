// Command bridge runs the Bus Bridge (spec.md §4.1): the only process
// that speaks MQTT to devices, republishing every device-facing message
// as a durable bus envelope before acking it back to the broker.
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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/bridge"
	"github.com/nexusiot/fleetcore/internal/bus"
	"github.com/nexusiot/fleetcore/internal/config"
	"github.com/nexusiot/fleetcore/internal/lifecycle"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bridge:", err)
		os.Exit(1)
	}
}

func run() error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.BusURL)
	if err != nil {
		return fmt.Errorf("parse bus url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	redisBus := bus.NewRedisBus(redisClient)

	ctx, stopSignals := lifecycle.NotifyContext(context.Background())
	defer stopSignals()

	br := bridge.New(redisBus, 256, log)

	brokerURL, err := url.Parse(mqttBrokerURL())
	if err != nil {
		return fmt.Errorf("parse mqtt broker url: %w", err)
	}

	conn, err := dialBroker(ctx, brokerURL)
	if err != nil {
		return fmt.Errorf("dial mqtt broker: %w", err)
	}

	router := paho.NewStandardRouter()
	client := paho.NewClient(paho.ClientConfig{
		Conn:                       conn,
		Router:                     router,
		EnableManualAcknowledgment: true,
	})

	subscriber := bridge.NewSubscriber(client, br)
	router.RegisterHandler("tenant/+/device/+/+", func(p *paho.Publish) {
		handleCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := subscriber.OnPublish(handleCtx, p); err != nil {
			log.Error("bridge handle failed", zap.String("topic", p.Topic), zap.Error(err))
			return
		}
		if err := client.Ack(p); err != nil {
			log.Error("mqtt ack failed", zap.String("topic", p.Topic), zap.Error(err))
		}
	})

	if _, err := client.Connect(ctx, &paho.Connect{
		KeepAlive:  30,
		ClientID:   "fleetcore-bridge-" + os.Getenv("HOSTNAME"),
		CleanStart: true,
	}); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	if err := subscriber.Subscribe(ctx); err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}

	log.Info("bridge connected and subscribed", zap.String("broker", brokerURL.String()))

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	disarm := lifecycle.HardKillAfter(30*time.Second, log)
	defer disarm()

	lifecycle.Shutdown(shutdownCtx, log, []lifecycle.Stage{
		{Name: "disconnect mqtt client", Timeout: 10 * time.Second, Run: func(ctx context.Context) error {
			return client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		}},
	})

	return nil
}

func mqttBrokerURL() string {
	if v := os.Getenv("MQTT_BROKER_URL"); v != "" {
		return v
	}
	return "tcp://localhost:1883"
}

// dialBroker opens the raw connection paho.golang's non-auto client
// wraps; TLS is used for mqtts/ssl schemes, plain TCP otherwise.
func dialBroker(ctx context.Context, brokerURL *url.URL) (net.Conn, error) {
	addr := brokerURL.Host
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		d := tls.Dialer{Config: &tls.Config{MinVersion: tls.VersionTLS12}}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

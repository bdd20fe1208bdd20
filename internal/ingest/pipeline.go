// Package ingest wires the Ingestor's pull-consume loop (spec.md §4.2):
// parse, authorize, check subscription, validate, rate-limit, normalize,
// enqueue batch write and route fan-out, ack.
package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/authcache"
	"github.com/nexusiot/fleetcore/internal/batchwriter"
	"github.com/nexusiot/fleetcore/internal/bus"
	"github.com/nexusiot/fleetcore/internal/domain"
	"github.com/nexusiot/fleetcore/internal/metrickeycache"
	"github.com/nexusiot/fleetcore/internal/metrics"
	"github.com/nexusiot/fleetcore/internal/obs"
	"github.com/nexusiot/fleetcore/internal/ratelimit"
	"github.com/nexusiot/fleetcore/internal/routefanout"
	"github.com/nexusiot/fleetcore/internal/telemetry"
)

// ErrDeviceNotFound is returned by an authcache.Loader when no device
// record exists for the (tenant, device_id) pair, distinguishing
// "device_unknown" from "auth_failed" at the authorization stage.
var ErrDeviceNotFound = errors.New("device not found")

// Quarantine persists a decisively-rejected record for forensics.
type Quarantine func(ctx context.Context, rec domain.QuarantineRecord)

// TierResolver maps a subscription status to its rate-limit tier.
type TierResolver func(subscriptionStatus string) ratelimit.Tier

const suspendedStatus = "suspended"

// Pipeline processes pulled bus messages through every Ingestor stage.
type Pipeline struct {
	Auth        *authcache.Cache
	MetricKeys  *metrickeycache.Cache
	RateLimit   *ratelimit.Limiter
	Tier        TierResolver
	BatchWriter *batchwriter.Writer
	RouteQueue  *routefanout.Queue
	Quarantine  Quarantine
	MaxPayload  int
	Log         *zap.Logger
	Now         func() time.Time
}

// processResult tells the caller whether to ack the source message.
type processResult int

const (
	resultAck      processResult = iota // enqueued or decisively rejected
	resultNoAck                         // transient failure, rely on redelivery
)

// Process handles one pulled bus message end to end.
func (p *Pipeline) Process(ctx context.Context, msg bus.Message) processResult {
	ctx, end := obs.StartSpan(ctx, "ingest", "pipeline.process")
	defer end(nil)

	env, err := telemetry.DecodeEnvelope(msg.Body)
	if err != nil {
		p.Log.Warn("dropping malformed envelope", zap.Error(err))
		metrics.MessagesTotal.WithLabelValues("malformed_envelope").Inc()
		return resultAck
	}

	entry, err := p.Auth.Get(ctx, env.Tenant, env.Device)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			p.reject(ctx, env, "device_unknown")
			return resultAck
		}
		p.Log.Warn("auth lookup failed, leaving message unacked for redelivery",
			zap.String("tenant", env.Tenant), zap.String("device", env.Device), zap.Error(err))
		return resultNoAck
	}

	if entry.DeviceStatus == suspendedStatus {
		p.reject(ctx, env, "auth_failed")
		return resultAck
	}

	if entry.SubscriptionStatus != "active" {
		p.reject(ctx, env, "subscription_inactive")
		return resultAck
	}

	rec, verr := telemetry.ParsePayload(env.Tenant, env.Device, entry.SiteID, p.MaxPayload, env.Payload, p.now())
	if verr != nil {
		p.reject(ctx, env, verr.Message)
		return resultAck
	}

	reason := p.RateLimit.Admit(env.Tenant, env.Device, p.Tier(entry.SubscriptionStatus))
	if reason != ratelimit.Admitted {
		metrics.RateLimitedTotal.WithLabelValues(string(reason)).Inc()
		p.Log.Debug("rate limited", zap.String("tenant", env.Tenant), zap.String("device", env.Device), zap.String("reason", string(reason)))
		return resultAck
	}

	p.normalizeKeys(ctx, env.Tenant, env.Device, &rec)

	p.BatchWriter.Add(env.Tenant, rec)
	p.RouteQueue.Enqueue(rec)

	metrics.MessagesTotal.WithLabelValues("accepted").Inc()
	return resultAck
}

func (p *Pipeline) normalizeKeys(ctx context.Context, tenant, device string, rec *domain.TelemetryRecord) {
	normalized := make(map[string]domain.MetricValue, len(rec.Metrics))
	for k, v := range rec.Metrics {
		canonical, err := p.MetricKeys.Normalize(ctx, tenant, device, k)
		if err != nil {
			// metric-key normalization is best-effort: a lookup failure
			// falls back to the raw key rather than losing the sample.
			canonical = k
		}
		normalized[canonical] = v
	}
	rec.Metrics = normalized
}

func (p *Pipeline) reject(ctx context.Context, env domain.Envelope, reason string) {
	metrics.MessagesTotal.WithLabelValues("quarantined").Inc()
	p.Quarantine(ctx, domain.QuarantineRecord{
		Tenant:     env.Tenant,
		DeviceID:   env.Device,
		Reason:     reason,
		RawPayload: env.Payload,
		ReceivedAt: env.ReceivedAt,
	})
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

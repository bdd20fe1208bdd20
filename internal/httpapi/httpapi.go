// Package httpapi exposes the HTTP-side telemetry ingest endpoint
// (spec.md §7): devices that publish over HTTP rather than MQTT hit this
// surface directly, run the same authorization/validation/rate-limit
// pipeline as the bus-sourced path, and get a synchronous status code
// back -- 200 accepted, 401 auth, 400 validation, 429 rate limit, 503
// backpressure. Never 200 on a rejected record.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/authcache"
	"github.com/nexusiot/fleetcore/internal/batchwriter"
	"github.com/nexusiot/fleetcore/internal/domain"
	"github.com/nexusiot/fleetcore/internal/ingest"
	"github.com/nexusiot/fleetcore/internal/metrickeycache"
	"github.com/nexusiot/fleetcore/internal/metrics"
	"github.com/nexusiot/fleetcore/internal/ratelimit"
	"github.com/nexusiot/fleetcore/internal/routefanout"
	"github.com/nexusiot/fleetcore/internal/telemetry"
)

const suspendedStatus = "suspended"

// problem is an RFC 7807-shaped error body, matching the teacher's
// handler convention.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// IngestHandler runs the HTTP-sourced counterpart of internal/ingest's
// pull-consume pipeline, synchronously, so it can return a status code
// the publishing device can act on.
type IngestHandler struct {
	Auth        *authcache.Cache
	MetricKeys  *metrickeycache.Cache
	RateLimit   *ratelimit.Limiter
	Tier        ingest.TierResolver
	BatchWriter *batchwriter.Writer
	RouteQueue  *routefanout.Queue
	Quarantine  ingest.Quarantine
	MaxPayload  int
	Log         *zap.Logger
	Now         func() time.Time
}

func (h *IngestHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Router builds the chi mux for the telemetry ingest surface.
func Router(h *IngestHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodPost},
	}))
	r.Post("/v1/tenants/{tenant}/devices/{device}/telemetry", h.handleTelemetry)
	return r
}

func (h *IngestHandler) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	deviceID := chi.URLParam(r, "device")
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(h.MaxPayload)+1))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "body-read-failed", "could not read request body")
		return
	}
	if len(body) > h.MaxPayload {
		h.quarantine(ctx, tenant, deviceID, telemetry.ReasonPayloadTooLarge, body)
		writeProblem(w, http.StatusBadRequest, telemetry.ReasonPayloadTooLarge, "payload exceeds maximum size")
		return
	}

	entry, err := h.Auth.Get(ctx, tenant, deviceID)
	if err != nil {
		if errors.Is(err, ingest.ErrDeviceNotFound) {
			h.quarantine(ctx, tenant, deviceID, "device_unknown", body)
			writeProblem(w, http.StatusUnauthorized, "device-unknown", "device is not registered")
			return
		}
		h.Log.Error("auth lookup failed", zap.String("tenant", tenant), zap.String("device", deviceID), zap.Error(err))
		writeProblem(w, http.StatusServiceUnavailable, "auth-lookup-failed", "authorization dependency unavailable")
		return
	}

	if entry.DeviceStatus == suspendedStatus {
		h.quarantine(ctx, tenant, deviceID, "auth_failed", body)
		writeProblem(w, http.StatusUnauthorized, "device-suspended", "device is suspended")
		return
	}
	if entry.SubscriptionStatus != "active" {
		h.quarantine(ctx, tenant, deviceID, "subscription_inactive", body)
		writeProblem(w, http.StatusUnauthorized, "subscription-inactive", "tenant subscription is not active")
		return
	}

	rec, verr := telemetry.ParsePayload(tenant, deviceID, entry.SiteID, h.MaxPayload, body, h.now())
	if verr != nil {
		h.quarantine(ctx, tenant, deviceID, verr.Message, body)
		writeProblem(w, http.StatusBadRequest, verr.Message, verr.Message)
		return
	}

	reason := h.RateLimit.Admit(tenant, deviceID, h.Tier(entry.SubscriptionStatus))
	if reason != ratelimit.Admitted {
		metrics.RateLimitedTotal.WithLabelValues(string(reason)).Inc()
		writeProblem(w, http.StatusTooManyRequests, string(reason), "rate limit exceeded")
		return
	}

	if h.RouteQueue.Len() >= h.RouteQueue.Cap() {
		writeProblem(w, http.StatusServiceUnavailable, "backpressure", "delivery queue is full, retry later")
		return
	}

	h.normalizeKeys(ctx, tenant, deviceID, &rec)
	h.BatchWriter.Add(tenant, rec)
	h.RouteQueue.Enqueue(rec)

	metrics.MessagesTotal.WithLabelValues("accepted").Inc()
	w.WriteHeader(http.StatusOK)
}

func (h *IngestHandler) normalizeKeys(ctx context.Context, tenant, device string, rec *domain.TelemetryRecord) {
	normalized := make(map[string]domain.MetricValue, len(rec.Metrics))
	for k, v := range rec.Metrics {
		canonical, err := h.MetricKeys.Normalize(ctx, tenant, device, k)
		if err != nil {
			canonical = k
		}
		normalized[canonical] = v
	}
	rec.Metrics = normalized
}

func (h *IngestHandler) quarantine(ctx context.Context, tenant, deviceID, reason string, raw []byte) {
	metrics.MessagesTotal.WithLabelValues("quarantined").Inc()
	h.Quarantine(ctx, domain.QuarantineRecord{
		Tenant:     tenant,
		DeviceID:   deviceID,
		Reason:     reason,
		RawPayload: raw,
		ReceivedAt: h.now(),
	})
}

func writeProblem(w http.ResponseWriter, status int, typ, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{Type: typ, Title: http.StatusText(status), Detail: detail})
}

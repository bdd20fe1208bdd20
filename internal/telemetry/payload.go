package telemetry

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nexusiot/fleetcore/internal/apperrors"
	"github.com/nexusiot/fleetcore/internal/domain"
)

const (
	MaxMetrics       = 256
	MaxStringValue   = 256
	MaxPastWindow    = 24 * time.Hour
	MaxFutureSkew    = 5 * time.Minute
)

// QuarantineReason codes, per spec.md §4.2.5/§8 scenario 4.
const (
	ReasonPayloadTooLarge  = "payload_too_large"
	ReasonMissingSiteID    = "site_id_mismatch"
	ReasonMissingTimestamp = "timestamp_missing"
	ReasonTimestampOutOfRange = "timestamp_out_of_range"
	ReasonTooManyMetrics   = "too_many_metrics"
	ReasonInvalidMetricValue = "invalid_metric_value"
)

// ParsePayload validates and extracts a TelemetryRecord from a raw
// telemetry payload using gjson, without ever decoding `metrics` into an
// untyped map[string]interface{} — each value is read through gjson's
// typed accessors directly into the MetricValue tagged union.
func ParsePayload(tenant, deviceID, registeredSiteID string, maxBytes int, raw []byte, now time.Time) (domain.TelemetryRecord, *apperrors.AppError) {
	if len(raw) > maxBytes {
		return domain.TelemetryRecord{}, apperrors.NewValidationError(ReasonPayloadTooLarge).
			WithDetailsf("payload %d bytes exceeds max %d", len(raw), maxBytes)
	}

	if !gjson.ValidBytes(raw) {
		return domain.TelemetryRecord{}, apperrors.NewValidationError("malformed JSON payload")
	}

	parsed := gjson.ParseBytes(raw)

	siteID := parsed.Get("site_id").String()
	if siteID == "" || siteID != registeredSiteID {
		return domain.TelemetryRecord{}, apperrors.NewValidationError(ReasonMissingSiteID).
			WithDetailsf("payload site_id %q does not match registered site %q", siteID, registeredSiteID)
	}

	tsResult := parsed.Get("ts")
	if !tsResult.Exists() {
		tsResult = parsed.Get("time")
	}
	if !tsResult.Exists() {
		return domain.TelemetryRecord{}, apperrors.NewValidationError(ReasonMissingTimestamp)
	}
	ts := time.Unix(tsResult.Int(), 0).UTC()
	if ts.Before(now.Add(-MaxPastWindow)) || ts.After(now.Add(MaxFutureSkew)) {
		return domain.TelemetryRecord{}, apperrors.NewValidationError(ReasonTimestampOutOfRange).
			WithDetailsf("ts=%s outside [%s, %s]", ts, now.Add(-MaxPastWindow), now.Add(MaxFutureSkew))
	}

	metricsResult := parsed.Get("metrics")
	if !metricsResult.IsObject() {
		return domain.TelemetryRecord{}, apperrors.NewValidationError("metrics must be an object")
	}

	metrics := make(map[string]domain.MetricValue)
	var parseErr *apperrors.AppError
	metricsResult.ForEach(func(key, value gjson.Result) bool {
		if len(metrics) >= MaxMetrics {
			parseErr = apperrors.NewValidationError(ReasonTooManyMetrics).
				WithDetailsf("exceeds max %d metrics", MaxMetrics)
			return false
		}
		mv, err := toMetricValue(value)
		if err != nil {
			parseErr = err
			return false
		}
		metrics[key.String()] = mv
		return true
	})
	if parseErr != nil {
		return domain.TelemetryRecord{}, parseErr
	}

	return domain.TelemetryRecord{
		Tenant:   tenant,
		DeviceID: deviceID,
		SiteID:   siteID,
		Time:     ts,
		Seq:      parsed.Get("seq").Int(),
		Metrics:  metrics,
	}, nil
}

func toMetricValue(v gjson.Result) (domain.MetricValue, *apperrors.AppError) {
	switch v.Type {
	case gjson.Number:
		return domain.MetricValue{Kind: domain.MetricNumber, Num: v.Float()}, nil
	case gjson.True, gjson.False:
		return domain.MetricValue{Kind: domain.MetricBool, Bool: v.Bool()}, nil
	case gjson.String:
		if len(v.Str) > MaxStringValue {
			return domain.MetricValue{}, apperrors.NewValidationError(ReasonInvalidMetricValue).
				WithDetailsf("string value exceeds %d chars", MaxStringValue)
		}
		return domain.MetricValue{Kind: domain.MetricString, Str: v.Str}, nil
	default:
		return domain.MetricValue{}, apperrors.NewValidationError(ReasonInvalidMetricValue).
			WithDetailsf("unsupported JSON type %v", v.Type)
	}
}

// MetricValueString renders a MetricValue for logging/debugging.
func MetricValueString(mv domain.MetricValue) string {
	switch mv.Kind {
	case domain.MetricNumber:
		return fmt.Sprintf("%g", mv.Num)
	case domain.MetricBool:
		return fmt.Sprintf("%t", mv.Bool)
	default:
		return mv.Str
	}
}

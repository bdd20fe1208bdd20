// Package logging provides a chainable structured-field builder shared by
// every process, exported for both logrus (older texture layers) and zap
// (the core pipeline) sinks.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// StandardFields is a chainable builder over a plain field map.
type StandardFields map[string]interface{}

func NewFields() StandardFields {
	return StandardFields{}
}

func (f StandardFields) Component(name string) StandardFields {
	f["component"] = name
	return f
}

func (f StandardFields) Operation(name string) StandardFields {
	f["operation"] = name
	return f
}

func (f StandardFields) Resource(resourceType, name string) StandardFields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f StandardFields) Duration(d time.Duration) StandardFields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f StandardFields) Error(err error) StandardFields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f StandardFields) TenantID(id string) StandardFields {
	if id != "" {
		f["tenant_id"] = id
	}
	return f
}

func (f StandardFields) DeviceID(id string) StandardFields {
	if id != "" {
		f["device_id"] = id
	}
	return f
}

func (f StandardFields) RequestID(id string) StandardFields {
	if id != "" {
		f["request_id"] = id
	}
	return f
}

func (f StandardFields) TraceID(id string) StandardFields {
	if id != "" {
		f["trace_id"] = id
	}
	return f
}

func (f StandardFields) StatusCode(code int) StandardFields {
	f["status_code"] = code
	return f
}

func (f StandardFields) Count(n int) StandardFields {
	f["count"] = n
	return f
}

func (f StandardFields) Size(bytes int64) StandardFields {
	f["size_bytes"] = bytes
	return f
}

func (f StandardFields) Custom(key string, value interface{}) StandardFields {
	f[key] = value
	return f
}

func (f StandardFields) ToLogrus() logrus.Fields {
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (f StandardFields) ToZap() []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// Domain builders, analogous to the teacher's DatabaseFields/HTTPFields.

func TelemetryFields(tenant, device string, seq int) StandardFields {
	return NewFields().Component("telemetry").TenantID(tenant).DeviceID(device).Custom("seq", seq)
}

func AlertFields(tenant, fingerprint, status string) StandardFields {
	return NewFields().Component("alert").TenantID(tenant).Custom("fingerprint", fingerprint).Custom("status", status)
}

func BusFields(stream, subject string) StandardFields {
	return NewFields().Component("bus").Custom("stream", stream).Custom("subject", subject)
}

func DeliveryFields(tenant, routeID string, attempt int) StandardFields {
	return NewFields().Component("delivery").TenantID(tenant).Custom("route_id", routeID).Custom("attempt", attempt)
}

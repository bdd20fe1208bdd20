package logging

import (
	"errors"
	"testing"
	"time"
)

func TestNewFields(t *testing.T) {
	f := NewFields()
	if f == nil {
		t.Fatal("NewFields() returned nil")
	}
	if len(f) != 0 {
		t.Errorf("expected empty map, got %d entries", len(f))
	}
}

func TestResource_OmitsEmptyName(t *testing.T) {
	f := NewFields().Resource("device", "")
	if _, ok := f["resource_name"]; ok {
		t.Error("expected resource_name to be omitted for empty name")
	}
	if f["resource_type"] != "device" {
		t.Errorf("expected resource_type=device, got %v", f["resource_type"])
	}
}

func TestDuration_StoresMilliseconds(t *testing.T) {
	f := NewFields().Duration(250 * time.Millisecond)
	if f["duration_ms"] != int64(250) {
		t.Errorf("expected 250ms, got %v", f["duration_ms"])
	}
}

func TestError_OmitsNil(t *testing.T) {
	f := NewFields().Error(nil)
	if _, ok := f["error"]; ok {
		t.Error("expected error key to be omitted for nil error")
	}
	f2 := NewFields().Error(errors.New("boom"))
	if f2["error"] != "boom" {
		t.Errorf("expected error=boom, got %v", f2["error"])
	}
}

func TestTenantID_OmitsEmpty(t *testing.T) {
	f := NewFields().TenantID("")
	if _, ok := f["tenant_id"]; ok {
		t.Error("expected tenant_id omitted for empty string")
	}
}

func TestToZapAndToLogrus_RoundTripCardinality(t *testing.T) {
	f := NewFields().Component("ingest").TenantID("acme").Count(3)
	if len(f.ToLogrus()) != len(f) {
		t.Errorf("ToLogrus cardinality mismatch")
	}
	if len(f.ToZap()) != len(f) {
		t.Errorf("ToZap cardinality mismatch")
	}
}

func TestTelemetryFields(t *testing.T) {
	f := TelemetryFields("acme", "dev-1", 42)
	if f["tenant_id"] != "acme" || f["device_id"] != "dev-1" || f["seq"] != 42 {
		t.Errorf("unexpected fields: %v", f)
	}
}

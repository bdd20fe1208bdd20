// Package domain holds the core entity types shared by every process:
// tenants, devices, telemetry, alerts, rules, escalation, on-call,
// routes and dead-letter/quarantine records.
package domain

import "time"

type TenantStatus string

const (
	TenantActive    TenantStatus = "ACTIVE"
	TenantSuspended TenantStatus = "SUSPENDED"
	TenantExpired   TenantStatus = "EXPIRED"
)

type Tenant struct {
	ID     string
	Status TenantStatus
}

type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "ONLINE"
	DeviceStale   DeviceStatus = "STALE"
	DeviceOffline DeviceStatus = "OFFLINE"
)

type Location struct {
	Lat     float64
	Lon     float64
	Address string
}

type Device struct {
	Tenant     string
	DeviceID   string
	SiteID     string
	TemplateID *string
	Status     DeviceStatus
	LastSeenAt time.Time
	Location   *Location
	Tags       []string
}

type DeviceAuthToken struct {
	Tenant   string
	DeviceID string
	Secret   string
	Status   string
}

// MetricValue is a tagged union over the open-ended telemetry metric
// value space: number, bool, or short string. Exactly one field is set,
// selected by Kind.
type MetricValueKind int

const (
	MetricNumber MetricValueKind = iota
	MetricBool
	MetricString
)

type MetricValue struct {
	Kind MetricValueKind
	Num  float64
	Bool bool
	Str  string
}

type TelemetryRecord struct {
	Tenant   string
	DeviceID string
	SiteID   string
	Time     time.Time
	Seq      int64
	Metrics  map[string]MetricValue
}

type QuarantineRecord struct {
	Tenant     string
	DeviceID   string
	Reason     string
	RawPayload []byte
	ReceivedAt time.Time
}

type RuleMode string

const (
	RuleModeThreshold RuleMode = "threshold"
	RuleModeMulti     RuleMode = "multi"
	RuleModeAnomaly   RuleMode = "anomaly"
)

type Operator string

const (
	OpGT  Operator = "GT"
	OpGTE Operator = "GTE"
	OpLT  Operator = "LT"
	OpLTE Operator = "LTE"
	OpEQ  Operator = "EQ"
	OpNEQ Operator = "NEQ"
)

type MatchKind string

const (
	MatchAll MatchKind = "ALL"
	MatchAny MatchKind = "ANY"
)

type ThresholdCondition struct {
	MetricName string
	Operator   Operator
	Threshold  float64
}

type AlertRule struct {
	RuleID          string
	Tenant          string
	Mode            RuleMode
	Severity        string
	Enabled         bool
	DeviceScope     []string // empty = all devices
	DurationSeconds int

	// threshold mode
	Threshold ThresholdCondition

	// multi mode
	Conditions []ThresholdCondition
	Match      MatchKind

	// anomaly mode
	MetricName  string
	Sensitivity float64
}

type AlertStatus string

const (
	AlertOpen   AlertStatus = "OPEN"
	AlertAck    AlertStatus = "ACK"
	AlertClosed AlertStatus = "CLOSED"
)

type Alert struct {
	AlertID           string
	Tenant            string
	DeviceID          string
	RuleID            *string
	AlertType         string
	Severity          string
	Status            AlertStatus
	Fingerprint       string
	Summary           string
	CreatedAt         time.Time
	AcknowledgedAt    *time.Time
	ClosedAt          *time.Time
	EscalationLevel   int
	NextEscalationAt  *time.Time
}

type EscalationLevel struct {
	DelaySeconds int
	ActionKind   string
	ActionConfig map[string]string
}

type EscalationPolicy struct {
	PolicyID string
	Tenant   string
	Levels   []EscalationLevel
}

type Rotation struct {
	Start   time.Time
	CadenceHours int
	Users   []string
}

type OnCallSchedule struct {
	ScheduleID string
	Tenant     string
	Rotations  []Rotation
}

type DestinationKind string

const (
	DestinationWebhook        DestinationKind = "webhook"
	DestinationMQTTRepublish  DestinationKind = "mqtt_republish"
	DestinationObjectStorage  DestinationKind = "object_storage"
)

type Route struct {
	Tenant            string
	RouteID           string
	TopicFilter       string
	PayloadFilter     string // gojq expression, empty = match all
	DestinationKind    DestinationKind
	DestinationConfig map[string]string
	Enabled           bool
}

type DeliveryJob struct {
	Tenant      string
	RouteID     string
	Subject     string
	Payload     []byte
	Attempt     int
	MaxAttempts int
}

type DeadLetterEntry struct {
	ID           string
	Tenant       string
	RouteID      string
	Topic        string
	Payload      []byte
	DestKind     DestinationKind
	DestConfig   map[string]string
	ErrorMessage string
	FailedAt     time.Time
}

// Envelope is the canonical bus message body produced by the Bus Bridge.
type Envelope struct {
	Tenant     string
	Device     string
	MsgType    string
	Topic      string
	ReceivedAt time.Time
	Payload    []byte
	Seq        *int64
}

// Package telemetry parses and validates bus envelopes and telemetry
// payloads per spec.md §6 (envelope/payload JSON schemas) and §4.2.5
// (payload validation rules).
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nexusiot/fleetcore/internal/domain"
)

var envelopeValidator = validator.New()

// wireEnvelope mirrors the canonical JSON envelope body.
type wireEnvelope struct {
	Tenant     string          `json:"tenant" validate:"required"`
	Device     string          `json:"device" validate:"required"`
	MsgType    string          `json:"msg_type" validate:"required"`
	Topic      string          `json:"topic" validate:"required"`
	ReceivedAt string          `json:"received_at" validate:"required"`
	Payload    json.RawMessage `json:"payload" validate:"required"`
	Seq        *int64          `json:"seq,omitempty"`
}

// EncodeEnvelope serializes an Envelope to canonical JSON.
func EncodeEnvelope(e domain.Envelope) ([]byte, error) {
	w := wireEnvelope{
		Tenant:     e.Tenant,
		Device:     e.Device,
		MsgType:    e.MsgType,
		Topic:      e.Topic,
		ReceivedAt: e.ReceivedAt.UTC().Format(time.RFC3339Nano),
		Payload:    json.RawMessage(e.Payload),
		Seq:        e.Seq,
	}
	return json.Marshal(w)
}

// DecodeEnvelope parses canonical JSON into an Envelope. Round-tripping
// Encode then Decode yields a semantically equal Envelope (whitespace in
// the payload's raw JSON is the only thing normalized; ReceivedAt keeps
// its full precision and comes back in UTC).
func DecodeEnvelope(data []byte) (domain.Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.Envelope{}, err
	}
	if err := envelopeValidator.Struct(w); err != nil {
		return domain.Envelope{}, fmt.Errorf("envelope validation: %w", err)
	}
	receivedAt, err := time.Parse(time.RFC3339, w.ReceivedAt)
	if err != nil {
		return domain.Envelope{}, err
	}
	return domain.Envelope{
		Tenant:     w.Tenant,
		Device:     w.Device,
		MsgType:    w.MsgType,
		Topic:      w.Topic,
		ReceivedAt: receivedAt,
		Payload:    []byte(w.Payload),
		Seq:        w.Seq,
	}, nil
}

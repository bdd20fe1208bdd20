package repo

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/nexusiot/fleetcore/internal/domain"
)

// encodeMetrics serializes a metrics map to the JSONB column shape stored
// in telemetry_records, built incrementally with sjson rather than a
// generic json.Marshal so the tagged-union MetricValue never passes
// through an interface{} representation.
func encodeMetrics(metrics map[string]domain.MetricValue) ([]byte, error) {
	doc := "{}"
	var err error
	for key, mv := range metrics {
		switch mv.Kind {
		case domain.MetricNumber:
			doc, err = sjson.Set(doc, key, mv.Num)
		case domain.MetricBool:
			doc, err = sjson.Set(doc, key, mv.Bool)
		default:
			doc, err = sjson.Set(doc, key, mv.Str)
		}
		if err != nil {
			return nil, err
		}
	}
	return []byte(doc), nil
}

// decodeMetrics is the read-side counterpart, walking the JSONB payload
// with gjson's typed accessors just as internal/telemetry does for
// inbound device payloads.
func decodeMetrics(raw []byte) (map[string]domain.MetricValue, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errInvalidMetricsJSON
	}
	out := make(map[string]domain.MetricValue)
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		switch value.Type {
		case gjson.Number:
			out[key.String()] = domain.MetricValue{Kind: domain.MetricNumber, Num: value.Float()}
		case gjson.True, gjson.False:
			out[key.String()] = domain.MetricValue{Kind: domain.MetricBool, Bool: value.Bool()}
		case gjson.String:
			out[key.String()] = domain.MetricValue{Kind: domain.MetricString, Str: value.Str}
		}
		return true
	})
	return out, nil
}

package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusiot/fleetcore/internal/domain"
)

func TestEncodeDecodeMetricsRoundTrip(t *testing.T) {
	in := map[string]domain.MetricValue{
		"temp":    {Kind: domain.MetricNumber, Num: 21.5},
		"online":  {Kind: domain.MetricBool, Bool: true},
		"firmware": {Kind: domain.MetricString, Str: "v2.3.1"},
	}

	encoded, err := encodeMetrics(in)
	require.NoError(t, err)

	out, err := decodeMetrics(encoded)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeMetricsInvalidJSON(t *testing.T) {
	_, err := decodeMetrics([]byte("not json"))
	assert.ErrorIs(t, err, errInvalidMetricsJSON)
}

func TestEncodeMetricsEmpty(t *testing.T) {
	encoded, err := encodeMetrics(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(encoded))
}

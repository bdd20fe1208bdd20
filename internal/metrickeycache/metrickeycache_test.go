package metrickeycache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_MapsKnownKey(t *testing.T) {
	c := New(10, time.Minute, func(ctx context.Context, tenant, device string) (KeyMap, error) {
		return KeyMap{"temp_c": "temperature"}, nil
	})
	got, err := c.Normalize(context.Background(), "acme", "dev-1", "temp_c")
	require.NoError(t, err)
	assert.Equal(t, "temperature", got)
}

func TestNormalize_PassesThroughUnmappedKey(t *testing.T) {
	c := New(10, time.Minute, func(ctx context.Context, tenant, device string) (KeyMap, error) {
		return KeyMap{}, nil
	})
	got, err := c.Normalize(context.Background(), "acme", "dev-1", "unknown_key")
	require.NoError(t, err)
	assert.Equal(t, "unknown_key", got)
}

func TestNormalize_IsIdempotent(t *testing.T) {
	c := New(10, time.Minute, func(ctx context.Context, tenant, device string) (KeyMap, error) {
		return KeyMap{"temp_c": "temperature"}, nil
	})
	ctx := context.Background()
	once, _ := c.Normalize(ctx, "acme", "dev-1", "temp_c")
	twice, _ := c.Normalize(ctx, "acme", "dev-1", once)
	assert.Equal(t, once, twice)
}

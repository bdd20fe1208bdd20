package destination

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusiot/fleetcore/internal/domain"
)

func TestWebhook_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook()
	route := domain.Route{RouteID: "r1", DestinationConfig: map[string]string{"url": srv.URL}}
	result, err := wh.Deliver(context.Background(), route, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result)
}

func TestWebhook_retryableOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook()
	route := domain.Route{RouteID: "r1", DestinationConfig: map[string]string{"url": srv.URL}}
	result, err := wh.Deliver(context.Background(), route, []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, ResultRetryable, result)
}

func TestWebhook_permanentOnOther4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhook()
	route := domain.Route{RouteID: "r1", DestinationConfig: map[string]string{"url": srv.URL}}
	result, err := wh.Deliver(context.Background(), route, []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, ResultPermanent, result)
}

func TestWebhook_retryAfterCappedAt60s(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	wh := NewWebhook()
	route := domain.Route{RouteID: "r1", DestinationConfig: map[string]string{"url": srv.URL}}
	result, err := wh.Deliver(context.Background(), route, []byte(`{}`))
	assert.Equal(t, ResultRetryable, result)

	var rae *RetryAfterError
	require.ErrorAs(t, err, &rae)
	assert.Equal(t, MaxRetryAfter, rae.RetryAfter)
}

func TestWebhook_missingURLIsPermanent(t *testing.T) {
	wh := NewWebhook()
	route := domain.Route{RouteID: "r1"}
	result, err := wh.Deliver(context.Background(), route, []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, ResultPermanent, result)
}

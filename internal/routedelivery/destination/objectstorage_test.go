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

func TestObjectStorage_success(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	os := NewObjectStorage()
	route := domain.Route{RouteID: "r1", DestinationConfig: map[string]string{"endpoint": srv.URL, "prefix": "telemetry"}}
	result, err := os.Deliver(context.Background(), route, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result)
	assert.Equal(t, http.MethodPut, gotMethod)
}

func TestObjectStorage_missingEndpointIsPermanent(t *testing.T) {
	os := NewObjectStorage()
	route := domain.Route{RouteID: "r1"}
	result, err := os.Deliver(context.Background(), route, []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, ResultPermanent, result)
}

func TestRegistry_dispatchByDestinationKind(t *testing.T) {
	reg := Registry{
		Webhook:       stubDest{ResultSuccess, nil},
		MQTTRepublish: stubDest{ResultRetryable, assert.AnError},
		ObjectStorage: stubDest{ResultPermanent, assert.AnError},
	}

	r, _ := reg.Dispatch(context.Background(), domain.Route{DestinationKind: domain.DestinationWebhook}, nil)
	assert.Equal(t, ResultSuccess, r)

	r, _ = reg.Dispatch(context.Background(), domain.Route{DestinationKind: domain.DestinationMQTTRepublish}, nil)
	assert.Equal(t, ResultRetryable, r)

	r, _ = reg.Dispatch(context.Background(), domain.Route{DestinationKind: domain.DestinationObjectStorage}, nil)
	assert.Equal(t, ResultPermanent, r)

	r, err := reg.Dispatch(context.Background(), domain.Route{DestinationKind: "bogus"}, nil)
	assert.Equal(t, ResultPermanent, r)
	assert.Error(t, err)
}

type stubDest struct {
	result Result
	err    error
}

func (s stubDest) Deliver(ctx context.Context, route domain.Route, payload []byte) (Result, error) {
	return s.result, s.err
}

package destination

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nexusiot/fleetcore/internal/domain"
)

const objectStorageTimeout = 10 * time.Second

// ObjectStorage delivers by HTTP PUT to a configured endpoint + prefix
// (e.g. a pre-signed URL or S3-compatible PUT endpoint); success is any
// 2xx response.
type ObjectStorage struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewObjectStorage() *ObjectStorage {
	return &ObjectStorage{
		client: &http.Client{Timeout: objectStorageTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "object-storage-destination",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (o *ObjectStorage) Deliver(ctx context.Context, route domain.Route, payload []byte) (Result, error) {
	endpoint, ok := route.DestinationConfig["endpoint"]
	if !ok || endpoint == "" {
		return ResultPermanent, fmt.Errorf("object_storage destination missing endpoint for route %s", route.RouteID)
	}
	prefix := route.DestinationConfig["prefix"]
	key := fmt.Sprintf("%s/%s-%d", strings.TrimSuffix(prefix, "/"), route.RouteID, time.Now().UnixNano())
	url := strings.TrimSuffix(endpoint, "/") + "/" + strings.TrimPrefix(key, "/")

	var permErr *permanentHTTPError
	_, err := o.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		resp, err := o.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, nil
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("object storage put to %s returned %d", url, resp.StatusCode)
		}
		return nil, &permanentHTTPError{status: resp.StatusCode, url: url}
	})

	if err == nil {
		return ResultSuccess, nil
	}
	if asPermanent(err, &permErr) {
		return ResultPermanent, permErr
	}
	return ResultRetryable, err
}

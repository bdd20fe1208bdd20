package authcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAuthCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "AuthCache Suite")
}

var _ = Describe("Cache", func() {
	It("caches a loaded entry and serves subsequent Gets without reloading", func() {
		var loads int32
		c := New(100, time.Minute, func(ctx context.Context, tenant, device string) (Entry, error) {
			atomic.AddInt32(&loads, 1)
			return Entry{TokenHash: "h1", DeviceStatus: "ok"}, nil
		})

		e1, err := c.Get(context.Background(), "acme", "dev-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(e1.TokenHash).To(Equal("h1"))

		_, err = c.Get(context.Background(), "acme", "dev-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(atomic.LoadInt32(&loads)).To(Equal(int32(1)))
	})

	It("treats an entry older than the TTL as a miss", func() {
		var loads int32
		c := New(100, 10*time.Millisecond, func(ctx context.Context, tenant, device string) (Entry, error) {
			atomic.AddInt32(&loads, 1)
			return Entry{TokenHash: "h"}, nil
		})

		_, _ = c.Get(context.Background(), "acme", "dev-1")
		time.Sleep(20 * time.Millisecond)
		_, _ = c.Get(context.Background(), "acme", "dev-1")

		Expect(atomic.LoadInt32(&loads)).To(Equal(int32(2)))
	})

	It("coalesces concurrent misses for the same key onto one load", func() {
		var loads int32
		release := make(chan struct{})
		c := New(100, time.Minute, func(ctx context.Context, tenant, device string) (Entry, error) {
			atomic.AddInt32(&loads, 1)
			<-release
			return Entry{TokenHash: "h"}, nil
		})

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = c.Get(context.Background(), "acme", "dev-1")
			}()
		}
		time.Sleep(10 * time.Millisecond)
		close(release)
		wg.Wait()

		Expect(atomic.LoadInt32(&loads)).To(Equal(int32(1)))
	})

	It("evicts on Invalidate", func() {
		c := New(100, time.Minute, func(ctx context.Context, tenant, device string) (Entry, error) {
			return Entry{TokenHash: "h"}, nil
		})
		_, _ = c.Get(context.Background(), "acme", "dev-1")
		Expect(c.Len()).To(Equal(1))
		c.Invalidate("acme", "dev-1")
		Expect(c.Len()).To(Equal(0))
	})
})

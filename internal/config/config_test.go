package config

import (
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Load", func() {
	It("returns sane defaults when no file and no env vars are present", func() {
		cfg, err := Load("")
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Ingest.BatchSize).To(Equal(500))
		Expect(cfg.Ingest.WorkerCount).To(Equal(4))
		Expect(cfg.FallbackPollSeconds).To(Equal(30))
	})

	It("applies env var overrides on top of defaults", func() {
		os.Setenv("BATCH_SIZE", "250")
		os.Setenv("INGEST_WORKER_COUNT", "8")
		defer os.Unsetenv("BATCH_SIZE")
		defer os.Unsetenv("INGEST_WORKER_COUNT")

		cfg, err := Load("")
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Ingest.BatchSize).To(Equal(250))
		Expect(cfg.Ingest.WorkerCount).To(Equal(8))
	})

	It("rejects an invalid pool configuration", func() {
		os.Setenv("PG_POOL_MIN", "20")
		os.Setenv("PG_POOL_MAX", "10")
		defer os.Unsetenv("PG_POOL_MIN")
		defer os.Unsetenv("PG_POOL_MAX")

		_, err := Load("")
		Expect(err).To(HaveOccurred())
	})

	It("rejects a heartbeat offline threshold not exceeding the stale threshold", func() {
		os.Setenv("HEARTBEAT_STALE_SECONDS", "300")
		os.Setenv("HEARTBEAT_OFFLINE_SECONDS", "120")
		defer os.Unsetenv("HEARTBEAT_STALE_SECONDS")
		defer os.Unsetenv("HEARTBEAT_OFFLINE_SECONDS")

		_, err := Load("")
		Expect(err).To(HaveOccurred())
	})

	It("keeps the default bus_url when BUS_URL is set but empty", func() {
		os.Setenv("BUS_URL", "")
		_, err := Load("")
		Expect(err).ToNot(HaveOccurred()) // empty env var doesn't override default
	})
})

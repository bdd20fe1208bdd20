// Package batchwriter implements the per-tenant batched time-series
// writer from spec.md §4.2.7: size/time/shutdown flush triggers,
// exponential-backoff retry, and quarantine on terminal failure.
package batchwriter

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/nexusiot/fleetcore/internal/domain"
	"github.com/nexusiot/fleetcore/internal/metrics"
)

// Flusher performs the actual multi-row insert (+ conditional device
// last-seen update) within one transaction. Implemented by internal/repo.
type Flusher func(ctx context.Context, tenant string, records []domain.TelemetryRecord) error

// QuarantineSink persists terminally-failed records for forensics.
type QuarantineSink func(ctx context.Context, records []domain.TelemetryRecord, reason string)

const (
	backoffBase = 100 * time.Millisecond
	backoffCap  = 5 * time.Second
	maxAttempts = 3
)

type tenantBuffer struct {
	mu      sync.Mutex
	records []domain.TelemetryRecord
	oldest  time.Time
}

// Writer accumulates records per tenant and flushes on trigger.
type Writer struct {
	mu         sync.Mutex
	buffers    map[string]*tenantBuffer
	batchSize  int
	flushEvery time.Duration
	flush      Flusher
	quarantine QuarantineSink
	log        *zap.Logger
	now        func() time.Time
}

func New(batchSize int, flushEvery time.Duration, flush Flusher, quarantine QuarantineSink, log *zap.Logger) *Writer {
	return &Writer{
		buffers:    make(map[string]*tenantBuffer),
		batchSize:  batchSize,
		flushEvery: flushEvery,
		flush:      flush,
		quarantine: quarantine,
		log:        log,
		now:        time.Now,
	}
}

func (w *Writer) bufferFor(tenant string) *tenantBuffer {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.buffers[tenant]
	if !ok {
		b = &tenantBuffer{}
		w.buffers[tenant] = b
	}
	return b
}

// Add buffers a validated record. It returns true if the caller should
// trigger an immediate flush for this tenant (batch size reached).
func (w *Writer) Add(tenant string, rec domain.TelemetryRecord) bool {
	b := w.bufferFor(tenant)
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) == 0 {
		b.oldest = w.now()
	}
	b.records = append(b.records, rec)
	return len(b.records) >= w.batchSize
}

// DueForTimeFlush reports whether tenant's buffer's oldest record exceeds
// flushEvery, for a ticking caller to drive time-based flush triggers.
func (w *Writer) DueForTimeFlush(tenant string) bool {
	b := w.bufferFor(tenant)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) == 0 {
		return false
	}
	return w.now().Sub(b.oldest) >= w.flushEvery
}

// Tenants lists tenants with a non-empty buffer (for a periodic flush
// sweep driven by the ingest pipeline's ticker).
func (w *Writer) Tenants() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.buffers))
	for t, b := range w.buffers {
		b.mu.Lock()
		if len(b.records) > 0 {
			out = append(out, t)
		}
		b.mu.Unlock()
	}
	return out
}

// Flush drains tenant's buffer and writes it, retrying transient failures
// with exponential backoff up to maxAttempts. On terminal failure the
// batch is quarantined with reason "write_failed" rather than lost.
func (w *Writer) Flush(ctx context.Context, tenant string) error {
	b := w.bufferFor(tenant)
	b.mu.Lock()
	records := b.records
	b.records = nil
	b.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	timer := metrics.NewTimer()
	defer timer.RecordBatchWrite()

	backoff := retry.NewExponential(backoffBase)
	backoff = retry.WithCappedDuration(backoffCap, backoff)
	backoff = retry.WithMaxRetries(maxAttempts-1, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if ferr := w.flush(ctx, tenant, records); ferr != nil {
			w.log.Warn("batch flush attempt failed", zap.String("tenant", tenant), zap.Error(ferr))
			return retry.RetryableError(ferr)
		}
		return nil
	})

	if err != nil {
		w.log.Error("batch flush exhausted retries, quarantining", zap.String("tenant", tenant), zap.Int("records", len(records)), zap.Error(err))
		w.quarantine(ctx, records, "write_failed")
		return err
	}
	return nil
}

// FlushAll flushes every tenant with a non-empty buffer, used on
// shutdown (spec.md §4.2.9 step d: "flush the batch writer one final
// time").
func (w *Writer) FlushAll(ctx context.Context) {
	for _, t := range w.Tenants() {
		if err := w.Flush(ctx, t); err != nil {
			w.log.Error("shutdown flush failed", zap.String("tenant", t), zap.Error(err))
		}
	}
}

// Package ratelimit implements the per-(tenant,device) and tenant-aggregate
// token bucket admission control from spec.md §4.2.4.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is an elapsed-based token bucket. Not safe for concurrent use on
// its own; Limiter guards access.
type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

func newBucket(capacity, refillRate float64, now time.Time) *bucket {
	return &bucket{tokens: capacity, capacity: capacity, refillRate: refillRate, lastRefill: now, lastUsed: now}
}

// admit refills then attempts to consume one token, returning whether the
// request is admitted.
func (b *bucket) admit(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now
	}
	b.lastUsed = now
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Tier describes a subscription tier's rate/burst, fetched from the
// tenant's cached subscription info.
type Tier struct {
	RatePerSecond float64
	Burst         float64
}

// Limiter holds one tenant-aggregate bucket and one bucket per (tenant,
// device) pair, with a background sweeper evicting idle buckets.
type Limiter struct {
	mu        sync.Mutex
	tenant    map[string]*bucket
	device    map[string]*bucket // key: tenant + "/" + deviceID
	idleTTL   time.Duration
	now       func() time.Time
}

func New(idleTTL time.Duration) *Limiter {
	return &Limiter{
		tenant:  make(map[string]*bucket),
		device:  make(map[string]*bucket),
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Reason explains a rejected admission.
type Reason string

const (
	Admitted          Reason = ""
	RejectedTenant     Reason = "rate_limited_tenant"
	RejectedDevice     Reason = "rate_limited_device"
)

// Admit checks the tenant-aggregate bucket first (so one tenant cannot
// starve another isn't violated by device-level checks alone), then the
// per-device bucket.
func (l *Limiter) Admit(tenant, deviceID string, tier Tier) Reason {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	tb, ok := l.tenant[tenant]
	if !ok {
		tb = newBucket(tier.Burst, tier.RatePerSecond, now)
		l.tenant[tenant] = tb
	}
	if !tb.admit(now) {
		return RejectedTenant
	}

	dKey := tenant + "/" + deviceID
	db, ok := l.device[dKey]
	if !ok {
		db = newBucket(tier.Burst, tier.RatePerSecond, now)
		l.device[dKey] = db
	}
	if !db.admit(now) {
		return RejectedDevice
	}

	return Admitted
}

// Sweep evicts buckets idle longer than idleTTL. Intended to run on a
// ticker (spec.md's BUCKET_CLEANUP_INTERVAL).
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for k, b := range l.tenant {
		if now.Sub(b.lastUsed) > l.idleTTL {
			delete(l.tenant, k)
			evicted++
		}
	}
	for k, b := range l.device {
		if now.Sub(b.lastUsed) > l.idleTTL {
			delete(l.device, k)
			evicted++
		}
	}
	return evicted
}

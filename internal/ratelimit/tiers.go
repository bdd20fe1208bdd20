package ratelimit

// StaticTierResolver returns a resolver over a fixed subscription-status
// -> Tier map, falling back to fallback for any status not present
// (e.g. an "active" tier fetched from the auth cache's subscription
// info, per spec.md §4.2.4: "Rate and burst come from the tenant's
// subscription tier"). Per-tenant tier overrides belong in the settings
// store this cache is populated from, not in this resolver.
func StaticTierResolver(tiers map[string]Tier, fallback Tier) func(subscriptionStatus string) Tier {
	return func(subscriptionStatus string) Tier {
		if t, ok := tiers[subscriptionStatus]; ok {
			return t
		}
		return fallback
	}
}

// DefaultTiers is the out-of-the-box tier table: an "active" subscription
// gets the 10 msg/s burst-20 tier from spec.md §8 scenario 3; any other
// status gets a minimal trickle tier rather than zero (a zero-rate
// bucket would never refill and would starve legitimately reactivated
// devices indefinitely).
func DefaultTiers() (map[string]Tier, Tier) {
	return map[string]Tier{
		"active": {RatePerSecond: 10, Burst: 20},
	}, Tier{RatePerSecond: 1, Burst: 1}
}

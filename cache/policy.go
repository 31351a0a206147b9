package cache

import "time"

// Policy configures TTL behavior.
type Policy struct {
	// DefaultTTL is used when a call does not supply its own TTL.
	// If zero, caching is disabled by default.
	DefaultTTL time.Duration

	// MaxTTL caps every TTL. If zero, no maximum is enforced.
	MaxTTL time.Duration
}

// DefaultPolicy returns the default policy.
// DefaultTTL: 5 minutes, MaxTTL: 1 hour.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     1 * time.Hour,
	}
}

// EffectiveTTL returns the TTL to use, applying the default and the
// cap.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}

// Package cache provides the TTL response-cache engine.
//
// It derives deterministic keys from request signatures (SHA-256 over
// canonical JSON), stores (value, expiresAt) entries through the store
// port, evicts lazily on lookup, and sweep-purges expired entries at
// initialization.
package cache

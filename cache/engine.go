package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/httpkit/store"
)

// ErrMiss is returned by Lookup for absent, expired or undecodable
// entries.
var ErrMiss = errors.New("cache: miss")

// Entry is a persisted cache record.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Engine is the TTL cache engine over a Store.
//
// Contract:
// - Concurrency: safe for concurrent use (delegated to the store).
// - Errors: Lookup reports every miss cause as ErrMiss.
type Engine struct {
	store  store.Store
	keyer  Keyer
	policy Policy
	now    func() time.Time
}

// NewEngine creates an engine. A nil keyer falls back to the default
// SHA-256 keyer.
func NewEngine(st store.Store, keyer Keyer, policy Policy) *Engine {
	if keyer == nil {
		keyer = NewDefaultKeyer(nil)
	}
	return &Engine{
		store:  st,
		keyer:  keyer,
		policy: policy,
		now:    time.Now,
	}
}

// Init purges every entry whose expiry has already passed.
func (e *Engine) Init(ctx context.Context) error {
	all, err := e.store.All(ctx)
	if err != nil {
		return fmt.Errorf("cache: init sweep: %w", err)
	}

	now := e.now()
	for key, raw := range all {
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil || !entry.ExpiresAt.After(now) {
			if derr := e.store.Delete(ctx, key); derr != nil {
				return fmt.Errorf("cache: init sweep: %w", derr)
			}
		}
	}
	return nil
}

// Key derives the cache key for the given input.
func (e *Engine) Key(in KeyInput) (string, error) {
	return e.keyer.Key(in)
}

// Lookup returns the cached value for key, or ErrMiss. Expired and
// undecodable entries are deleted on the read path.
func (e *Engine) Lookup(ctx context.Context, key string) (json.RawMessage, error) {
	raw, ok, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cache: lookup: %w", err)
	}
	if !ok {
		return nil, ErrMiss
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		_ = e.store.Delete(ctx, key)
		return nil, ErrMiss
	}
	if !entry.ExpiresAt.After(e.now()) {
		_ = e.store.Delete(ctx, key)
		return nil, ErrMiss
	}
	return entry.Value, nil
}

// Store writes value under key with the given TTL. ttl<=0 uses the
// policy default; the policy may also clamp it.
func (e *Engine) Store(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	ttl = e.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(Entry{
		Value:     value,
		ExpiresAt: e.now().Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	if err := e.store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("cache: store: %w", err)
	}
	return nil
}

// Clear wipes all cache entries.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.store.Clear(ctx); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

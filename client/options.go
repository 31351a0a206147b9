package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/jonwraymond/httpkit/apierr"
	"github.com/jonwraymond/httpkit/cache"
)

// CallOptions carry per-request knobs. Zero value means no query, no
// body, no caching and normal (non-silent) failure reporting.
type CallOptions struct {
	Query   url.Values
	Headers map[string]string
	Body    any

	// UseCache opts this call into the response cache.
	UseCache bool

	// CacheTTL overrides the configured default lifetime. Capped by
	// the cache policy's MaxTTL.
	CacheTTL time.Duration

	// CacheKeyFunc post-processes this call's cache key.
	CacheKeyFunc cache.KeyFunc

	// Silent suppresses exception stream publication for this call.
	Silent bool

	// SilentKinds suppresses publication only for the listed kinds.
	SilentKinds []apierr.Kind

	// SkipAuth sends the request without an Authorization header and
	// without triggering refresh.
	SkipAuth bool
}

// CallOption mutates CallOptions.
type CallOption func(*CallOptions)

func newCallOptions(opts []CallOption) *CallOptions {
	o := &CallOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithQuery replaces the request query string.
func WithQuery(q url.Values) CallOption {
	return func(o *CallOptions) { o.Query = q }
}

// WithQueryParam appends a single query parameter.
func WithQueryParam(key, value string) CallOption {
	return func(o *CallOptions) {
		if o.Query == nil {
			o.Query = url.Values{}
		}
		o.Query.Add(key, value)
	}
}

// WithBody sets the request body. []byte and json.RawMessage are sent
// verbatim; anything else is JSON-encoded.
func WithBody(body any) CallOption {
	return func(o *CallOptions) { o.Body = body }
}

// WithHeader sets a request header.
func WithHeader(key, value string) CallOption {
	return func(o *CallOptions) {
		if o.Headers == nil {
			o.Headers = map[string]string{}
		}
		o.Headers[key] = value
	}
}

// WithCache opts the call into the response cache.
func WithCache() CallOption {
	return func(o *CallOptions) { o.UseCache = true }
}

// WithCacheTTL opts the call into the cache with an explicit lifetime.
func WithCacheTTL(ttl time.Duration) CallOption {
	return func(o *CallOptions) {
		o.UseCache = true
		o.CacheTTL = ttl
	}
}

// WithCacheKey opts the call into the cache with a custom key
// transform.
func WithCacheKey(fn cache.KeyFunc) CallOption {
	return func(o *CallOptions) {
		o.UseCache = true
		o.CacheKeyFunc = fn
	}
}

// WithSilent suppresses exception stream publication for this call's
// own failure. A token-refresh exchange failure triggered by the call
// is a separate exchange reported by the auth layer and is still
// published.
func WithSilent() CallOption {
	return func(o *CallOptions) { o.Silent = true }
}

// WithSilentKinds suppresses publication for the listed failure kinds
// only. Like WithSilent, refresh exchange failures are still
// published.
func WithSilentKinds(kinds ...apierr.Kind) CallOption {
	return func(o *CallOptions) { o.SilentKinds = append(o.SilentKinds, kinds...) }
}

// WithoutAuth sends the request unauthenticated.
func WithoutAuth() CallOption {
	return func(o *CallOptions) { o.SkipAuth = true }
}

func (o *CallOptions) silences(kind apierr.Kind) bool {
	return o.Silent || slices.Contains(o.SilentKinds, kind)
}

func (o *CallOptions) encodeBody() ([]byte, error) {
	switch b := o.Body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		enc, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("client: encode body: %w", err)
		}
		return enc, nil
	}
}

package client

import (
	"time"

	"github.com/jonwraymond/httpkit/apierr"
	"github.com/jonwraymond/httpkit/auth"
	"github.com/jonwraymond/httpkit/cache"
	"github.com/jonwraymond/httpkit/dedup"
	"github.com/jonwraymond/httpkit/observe"
	"github.com/jonwraymond/httpkit/store"
	"github.com/jonwraymond/httpkit/transport"
)

// Config controls construction of a Client. BaseURL is required unless
// an explicit Transport is provided; everything else has working
// defaults.
type Config struct {
	// BaseURL is the prefix for all request paths. Used to build the
	// default transport when Transport is nil.
	BaseURL string

	// Transport overrides the default HTTP transport. Useful for tests
	// and for callers that tune the underlying http.Client themselves.
	Transport transport.Transport

	// Store backs token persistence and the response cache. Defaults
	// to an in-process store.Memory.
	Store store.Store

	// Observer supplies tracing, metrics and logging. Nil disables all
	// three.
	Observer observe.Observer

	// Logger overrides the observer's logger when set.
	Logger observe.Logger

	// ValidationResolver extracts field errors from validation failure
	// bodies. Defaults to apierr.DefaultValidationResolver.
	ValidationResolver apierr.ValidationResolver

	// Middlewares are caller-supplied stages, run in slice order
	// between rate limiting and auth.
	Middlewares []Middleware

	Cache     CacheConfig
	Auth      AuthConfig
	Retry     RetryConfig
	Dedup     DedupConfig
	RateLimit RateLimitConfig
}

// CacheConfig controls the TTL response cache. Caching is opt-in per
// call (WithCache) and only consulted when Enabled is true.
type CacheConfig struct {
	Enabled bool

	// TTL is the default entry lifetime. Zero means 5 minutes.
	TTL time.Duration

	// MaxTTL caps per-call TTL overrides. Zero means 1 hour.
	MaxTTL time.Duration

	// UseAuthHeaderInKey mixes the Authorization header into cache
	// keys so entries are scoped per identity.
	UseAuthHeaderInKey bool

	// KeyFunc post-processes generated cache keys.
	KeyFunc cache.KeyFunc
}

// AuthConfig controls the token refresh orchestrator. Auth is inert
// unless Enabled is true.
type AuthConfig struct {
	Enabled bool

	// RefreshEndpoint is the path POSTed to exchange a refresh token.
	// Zero means "/auth/refresh".
	RefreshEndpoint string

	// RefreshParamName is the body field carrying the refresh token.
	// Zero means "refreshToken".
	RefreshParamName string

	// Strategy selects reactive (refresh after a 401) or proactive
	// (refresh before sending with an expired token) behavior.
	Strategy auth.Strategy

	// IgnorePaths are path prefixes that never trigger proactive
	// refresh.
	IgnorePaths []string

	// Required makes refresh failures fatal to the triggering request.
	// When false the request proceeds without an Authorization header.
	Required bool

	// Resolver extracts tokens from the refresh response. Nil disables
	// refresh entirely.
	Resolver auth.Resolver

	// Body and Headers customize the refresh exchange.
	Body    auth.BodyFunc
	Headers auth.HeaderFunc

	// Leeway widens proactive expiry checks so tokens about to expire
	// are refreshed early. Zero means 30 seconds.
	Leeway time.Duration

	// RefreshTransport performs the refresh exchange. Defaults to a
	// dedicated transport against BaseURL so refresh never re-enters
	// the pipeline.
	RefreshTransport transport.Transport
}

// RetryConfig controls the bounded exponential backoff layer.
type RetryConfig struct {
	Enabled bool

	// MaxRetries is the number of re-sends after the first attempt.
	// Zero means 3.
	MaxRetries int

	// InitialDelay seeds the backoff schedule. Zero means 500ms.
	InitialDelay time.Duration

	// MaxDelay caps individual delays. Zero means 30 seconds.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts. Zero means 2.0.
	Multiplier float64

	// RetryableStatus lists status codes worth retrying. Nil means
	// 408, 429, 500, 502, 503 and 504.
	RetryableStatus []int

	// SkipConnectionErrors disables retrying transport-level
	// failures; by default they are retried.
	SkipConnectionErrors bool
}

// DedupConfig controls concurrent request collapsing.
type DedupConfig struct {
	Enabled bool

	// Methods eligible for deduplication. Nil means GET, HEAD and
	// OPTIONS.
	Methods []string
}

// RateLimitConfig throttles outgoing requests. Zero RPS disables the
// limiter.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func (c *AuthConfig) leeway() time.Duration {
	if c.Leeway <= 0 {
		return 30 * time.Second
	}
	return c.Leeway
}

func (c *DedupConfig) methods() []string {
	if len(c.Methods) == 0 {
		return dedup.DefaultMethods
	}
	return c.Methods
}

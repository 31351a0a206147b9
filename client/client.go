package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"net/http"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/jonwraymond/httpkit/apierr"
	"github.com/jonwraymond/httpkit/auth"
	"github.com/jonwraymond/httpkit/cache"
	"github.com/jonwraymond/httpkit/dedup"
	"github.com/jonwraymond/httpkit/observe"
	"github.com/jonwraymond/httpkit/retry"
	"github.com/jonwraymond/httpkit/store"
	"github.com/jonwraymond/httpkit/transport"
)

const (
	cacheNamespace = "cache"
	authNamespace  = "auth"
)

// Client is the composed HTTP client. All requests flow through one
// middleware chain; failures come back as *apierr.Error values and are
// broadcast on the exception stream unless the call is silent.
type Client struct {
	config    Config
	transport transport.Transport
	handler   Handler

	cache   *cache.Engine
	auth    *auth.Orchestrator
	retry   *retry.Controller
	dedup   *dedup.Group
	limiter *rate.Limiter
	stream  *apierr.Stream

	obs     *observe.Middleware
	metrics observe.Metrics
	logger  observe.Logger
}

// New builds a client and composes its pipeline. The chain order is
// fixed: observation, deduplication, rate limiting, caller
// middlewares, auth, retry, then the transport send.
func New(config Config) (*Client, error) {
	tr := config.Transport
	if tr == nil {
		if config.BaseURL == "" {
			return nil, errors.New("client: BaseURL or Transport is required")
		}
		tr = transport.NewHTTPClient(transport.Config{BaseURL: config.BaseURL})
	}

	st := config.Store
	if st == nil {
		st = store.NewMemory()
	}

	obs, err := buildObserve(config)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:    config,
		transport: tr,
		stream:    apierr.NewStream(),
		obs:       obs,
		metrics:   obs.Metrics(),
		logger:    obs.Logger(),
	}

	if config.Cache.Enabled {
		policy := cache.Policy{DefaultTTL: config.Cache.TTL, MaxTTL: config.Cache.MaxTTL}
		keyer := cache.NewDefaultKeyer(config.Cache.KeyFunc)
		c.cache = cache.NewEngine(store.NewNamespaced(st, cacheNamespace), keyer, policy)
		if err := c.cache.Init(context.Background()); err != nil {
			return nil, fmt.Errorf("client: init cache: %w", err)
		}
	}

	if config.Auth.Enabled {
		refreshTr := config.Auth.RefreshTransport
		if refreshTr == nil {
			if config.BaseURL == "" {
				return nil, errors.New("client: auth refresh needs BaseURL or Auth.RefreshTransport")
			}
			refreshTr = transport.NewHTTPClient(transport.Config{BaseURL: config.BaseURL})
		}
		c.auth = auth.New(auth.Config{
			Endpoint:    config.Auth.RefreshEndpoint,
			ParamName:   config.Auth.RefreshParamName,
			Strategy:    config.Auth.Strategy,
			IgnorePaths: config.Auth.IgnorePaths,
			Required:    config.Auth.Required,
			Resolver:    config.Auth.Resolver,
			Body:        config.Auth.Body,
			Headers:     config.Auth.Headers,
		}, store.NewNamespaced(st, authNamespace), refreshTr, c.stream)
	}

	if config.Retry.Enabled {
		c.retry = retry.New(retryConfig(config.Retry))
	}

	if config.Dedup.Enabled {
		c.dedup = dedup.NewGroup()
	}

	if config.RateLimit.RPS > 0 {
		burst := config.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit.RPS), burst)
	}

	c.handler = c.buildChain()
	return c, nil
}

func buildObserve(config Config) (*observe.Middleware, error) {
	if config.Observer != nil {
		metrics, err := observe.NewMetrics(config.Observer.Meter())
		if err != nil {
			return nil, fmt.Errorf("client: build observation: %w", err)
		}
		logger := config.Logger
		if logger == nil {
			logger = config.Observer.Logger()
		}
		return observe.NewMiddleware(observe.NewTracer(config.Observer.Tracer()), metrics, logger), nil
	}
	logger := config.Logger
	if logger == nil {
		logger = observe.NopLogger()
	}
	return observe.NewMiddleware(observe.NewNoopTracer(), observe.NopMetrics(), logger), nil
}

func retryConfig(rc RetryConfig) retry.Config {
	cfg := retry.DefaultConfig()
	if rc.MaxRetries > 0 {
		cfg.MaxRetries = rc.MaxRetries
	}
	if rc.InitialDelay > 0 {
		cfg.InitialDelay = rc.InitialDelay
	}
	if rc.MaxDelay > 0 {
		cfg.MaxDelay = rc.MaxDelay
	}
	if rc.Multiplier > 0 {
		cfg.Multiplier = rc.Multiplier
	}
	if rc.RetryableStatus != nil {
		cfg.RetryableStatus = rc.RetryableStatus
	}
	cfg.OnConnectionError = !rc.SkipConnectionErrors
	return cfg
}

// Get issues a GET request through the pipeline.
func (c *Client) Get(ctx context.Context, path string, opts ...CallOption) (*transport.Response, error) {
	return c.do(ctx, http.MethodGet, path, opts...)
}

// Post issues a POST request through the pipeline.
func (c *Client) Post(ctx context.Context, path string, opts ...CallOption) (*transport.Response, error) {
	return c.do(ctx, http.MethodPost, path, opts...)
}

// Put issues a PUT request through the pipeline.
func (c *Client) Put(ctx context.Context, path string, opts ...CallOption) (*transport.Response, error) {
	return c.do(ctx, http.MethodPut, path, opts...)
}

// Patch issues a PATCH request through the pipeline.
func (c *Client) Patch(ctx context.Context, path string, opts ...CallOption) (*transport.Response, error) {
	return c.do(ctx, http.MethodPatch, path, opts...)
}

// Delete issues a DELETE request through the pipeline.
func (c *Client) Delete(ctx context.Context, path string, opts ...CallOption) (*transport.Response, error) {
	return c.do(ctx, http.MethodDelete, path, opts...)
}

// Head issues a HEAD request through the pipeline.
func (c *Client) Head(ctx context.Context, path string, opts ...CallOption) (*transport.Response, error) {
	return c.do(ctx, http.MethodHead, path, opts...)
}

func (c *Client) do(ctx context.Context, method, path string, callOpts ...CallOption) (*transport.Response, error) {
	opts := newCallOptions(callOpts)
	req, err := c.buildRequest(method, path, opts)
	if err != nil {
		return nil, err
	}

	resp, err := c.handler(ctx, req, opts)
	if err == nil && resp.Success() {
		return resp, nil
	}
	return resp, c.fail(resp, err, opts)
}

func (c *Client) buildRequest(method, path string, opts *CallOptions) (*transport.Request, error) {
	body, err := opts.encodeBody()
	if err != nil {
		return nil, err
	}
	return &transport.Request{
		Method:  method,
		Path:    path,
		Query:   opts.Query,
		Headers: maps.Clone(opts.Headers),
		Body:    body,
	}, nil
}

// fail normalizes a pipeline outcome to a typed error and publishes it
// unless the call silenced that kind. An error already classified
// upstream (a refresh failure) was published at its source and is
// passed through untouched.
func (c *Client) fail(resp *transport.Response, err error, opts *CallOptions) error {
	var record *apierr.Error
	if errors.As(err, &record) {
		return err
	}
	record = apierr.Classify(resp, err, c.config.ValidationResolver)
	record.Silent = opts.silences(record.Kind)
	c.stream.Publish(record)
	return record
}

// GetCached answers a GET from the response cache only; it never goes
// to the network. A cold or expired entry returns cache.ErrMiss.
func (c *Client) GetCached(ctx context.Context, path string, opts ...CallOption) (json.RawMessage, error) {
	return c.lookupCached(ctx, http.MethodGet, path, newCallOptions(opts))
}

// PostCached answers a POST from the response cache only. The body
// participates in the cache key, so it must match the cached call's.
func (c *Client) PostCached(ctx context.Context, path string, opts ...CallOption) (json.RawMessage, error) {
	return c.lookupCached(ctx, http.MethodPost, path, newCallOptions(opts))
}

func (c *Client) lookupCached(ctx context.Context, method, path string, opts *CallOptions) (json.RawMessage, error) {
	if c.cache == nil {
		return nil, cache.ErrMiss
	}
	req, err := c.buildRequest(method, path, opts)
	if err != nil {
		return nil, err
	}
	c.armAuthHeader(req, opts)
	key, err := c.cacheKey(req, opts)
	if err != nil {
		return nil, err
	}
	value, err := c.cache.Lookup(ctx, key)
	c.metrics.RecordCacheLookup(ctx, err == nil)
	return value, err
}

// GetStreamed yields the cached response first when one exists, then
// the live one. Callers see at most two responses: a possibly stale
// answer immediately and the fresh answer when the network returns.
// The sequence is single-use; ranging it again yields nothing.
func (c *Client) GetStreamed(ctx context.Context, path string, opts ...CallOption) iter.Seq2[*transport.Response, error] {
	var used atomic.Bool
	return func(yield func(*transport.Response, error) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		if cached, err := c.GetCached(ctx, path, opts...); err == nil {
			synthetic := &transport.Response{
				StatusCode: http.StatusOK,
				Headers:    http.Header{"X-Httpkit-Cache": []string{"hit"}},
				Body:       cached,
			}
			if !yield(synthetic, nil) {
				return
			}
		}
		yield(c.Get(ctx, path, opts...))
	}
}

// Authorize stores the token pair and arms the bearer header.
func (c *Client) Authorize(ctx context.Context, jwt, refreshToken string) bool {
	if c.auth == nil {
		return false
	}
	return c.auth.Authorize(ctx, jwt, refreshToken)
}

// Unauthorize drops the stored tokens and detaches the header.
func (c *Client) Unauthorize(ctx context.Context) bool {
	if c.auth == nil {
		return false
	}
	return c.auth.Unauthorize(ctx)
}

// IsAuthorized reports whether a usable token pair is stored.
func (c *Client) IsAuthorized(ctx context.Context) bool {
	return c.auth != nil && c.auth.IsAuthorized(ctx)
}

// ClearStorage empties the response cache. Tokens are untouched.
func (c *Client) ClearStorage(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Clear(ctx)
}

// Exceptions subscribes to the failure broadcast. The returned cancel
// function releases the subscription.
func (c *Client) Exceptions() (<-chan *apierr.Error, func()) {
	return c.stream.Subscribe()
}

// Close shuts down the exception stream. In-flight requests finish
// normally but their failures are no longer broadcast.
func (c *Client) Close() {
	c.stream.Close()
}

func (c *Client) cacheKey(req *transport.Request, opts *CallOptions) (string, error) {
	in := cache.KeyInput{Path: req.Path, Query: req.Query, Body: req.Body}
	if c.config.Cache.UseAuthHeaderInKey {
		in.AuthHeader = req.Headers["Authorization"]
	}
	key, err := c.cache.Key(in)
	if err != nil {
		return "", err
	}
	if opts.CacheKeyFunc != nil {
		key = opts.CacheKeyFunc(key, in)
	}
	return key, nil
}

func (c *Client) armAuthHeader(req *transport.Request, opts *CallOptions) {
	if c.auth == nil || opts.SkipAuth {
		return
	}
	if header, ok := c.auth.Header(); ok {
		if req.Headers == nil {
			req.Headers = map[string]string{}
		}
		req.Headers["Authorization"] = header
	}
}

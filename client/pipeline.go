package client

import (
	"context"
	"net/http"
	"slices"

	"github.com/jonwraymond/httpkit/auth"
	"github.com/jonwraymond/httpkit/dedup"
	"github.com/jonwraymond/httpkit/observe"
	"github.com/jonwraymond/httpkit/transport"
)

// Handler is one stage of the request pipeline.
type Handler func(ctx context.Context, req *transport.Request, opts *CallOptions) (*transport.Response, error)

// Middleware wraps a Handler with additional behavior.
type Middleware func(next Handler) Handler

// buildChain composes the pipeline once at construction, outermost
// first. Observation sees the final outcome of every request,
// deduplication collapses duplicates before any work happens, rate
// limiting throttles only dedup owners, caller middlewares run next,
// auth arms the bearer header, and retry sits innermost so each
// attempt re-sends the armed request.
func (c *Client) buildChain() Handler {
	h := c.send
	if c.retry != nil {
		h = c.retryMiddleware(h)
	}
	if c.auth != nil {
		h = c.authMiddleware(h)
	}
	for i := len(c.config.Middlewares) - 1; i >= 0; i-- {
		h = c.config.Middlewares[i](h)
	}
	if c.limiter != nil {
		h = c.rateLimitMiddleware(h)
	}
	if c.dedup != nil {
		h = c.dedupMiddleware(h)
	}
	return c.observeMiddleware(h)
}

// send is the innermost stage: one transport exchange plus the cache
// write-through for successful opted-in calls.
func (c *Client) send(ctx context.Context, req *transport.Request, opts *CallOptions) (*transport.Response, error) {
	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Success() && c.cache != nil && opts.UseCache {
		c.storeCached(ctx, req, opts, resp)
	}
	return resp, nil
}

// storeCached is best-effort: a full or broken store never fails the
// request that produced the response.
func (c *Client) storeCached(ctx context.Context, req *transport.Request, opts *CallOptions, resp *transport.Response) {
	key, err := c.cacheKey(req, opts)
	if err == nil {
		err = c.cache.Store(ctx, key, resp.Body, opts.CacheTTL)
	}
	if err != nil {
		c.logger.Warn(ctx, "cache store failed",
			observe.Field{Key: "path", Value: req.Path},
			observe.Field{Key: "error", Value: err.Error()})
	}
}

func (c *Client) observeMiddleware(next Handler) Handler {
	return func(ctx context.Context, req *transport.Request, opts *CallOptions) (*transport.Response, error) {
		meta := observe.RequestMeta{Method: req.Method, Path: req.Path}
		var resp *transport.Response
		wrapped := c.obs.Wrap(meta, func(ctx context.Context) (int, error) {
			var err error
			resp, err = next(ctx, req, opts)
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			return status, err
		})
		_, err := wrapped(ctx)
		return resp, err
	}
}

func (c *Client) dedupMiddleware(next Handler) Handler {
	methods := c.config.Dedup.methods()
	return func(ctx context.Context, req *transport.Request, opts *CallOptions) (*transport.Response, error) {
		if !slices.Contains(methods, req.Method) {
			return next(ctx, req, opts)
		}
		bearer := ""
		if c.auth != nil && !opts.SkipAuth {
			bearer, _ = c.auth.Header()
		}
		sig := dedup.Signature(req.Method, req.Path, req.Query, bearer)
		resp, err, shared := c.dedup.Do(ctx, sig, func(ctx context.Context) (*transport.Response, error) {
			return next(ctx, req, opts)
		})
		if shared {
			c.metrics.RecordDedupCollapse(ctx)
		}
		return resp, err
	}
}

func (c *Client) rateLimitMiddleware(next Handler) Handler {
	return func(ctx context.Context, req *transport.Request, opts *CallOptions) (*transport.Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &transport.Error{Kind: transport.KindCanceled, Op: "rate limit wait", Cause: err}
		}
		return next(ctx, req, opts)
	}
}

// authMiddleware arms the Authorization header and drives refresh.
// Proactive mode refreshes before sending when the token is expired
// (or inside the leeway window); reactive mode refreshes after a 401
// and replays the request exactly once.
func (c *Client) authMiddleware(next Handler) Handler {
	leeway := c.config.Auth.leeway()
	return func(ctx context.Context, req *transport.Request, opts *CallOptions) (*transport.Response, error) {
		if opts.SkipAuth {
			return next(ctx, req, opts)
		}

		sendBare := false
		if c.auth.Strategy() == auth.StrategyProactive && c.auth.RefreshEnabled() && !c.auth.ShouldBypass(req.Path) {
			if _, armed := c.auth.Header(); armed && c.auth.TokenExpired(leeway) {
				if _, err := c.auth.Refresh(ctx); err != nil {
					c.metrics.RecordRefresh(ctx, false)
					if c.auth.Required() {
						return nil, err
					}
					// Optional auth: this request goes out without the
					// stale header, credentials stay stored.
					sendBare = true
				} else {
					c.metrics.RecordRefresh(ctx, true)
				}
			}
		}

		if !sendBare {
			c.armAuthHeader(req, opts)
		}
		resp, err := next(ctx, req, opts)

		if c.auth.Strategy() != auth.StrategyReactive || !c.auth.RefreshEnabled() {
			return resp, err
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			return resp, err
		}
		if _, armed := req.Headers["Authorization"]; !armed {
			return resp, err
		}

		if _, rerr := c.auth.Refresh(ctx); rerr != nil {
			c.metrics.RecordRefresh(ctx, false)
			if c.auth.Required() {
				// The refresh failure was already broadcast; the
				// caller sees the original 401.
				return resp, err
			}
			delete(req.Headers, "Authorization")
			return next(ctx, req, opts)
		}
		c.metrics.RecordRefresh(ctx, true)
		c.armAuthHeader(req, opts)
		return next(ctx, req, opts)
	}
}

func (c *Client) retryMiddleware(next Handler) Handler {
	return func(ctx context.Context, req *transport.Request, opts *CallOptions) (*transport.Response, error) {
		meta := observe.RequestMeta{Method: req.Method, Path: req.Path}
		attempt := 0
		return c.retry.Do(ctx, func(ctx context.Context) (*transport.Response, error) {
			if attempt > 0 {
				c.metrics.RecordRetry(ctx, meta, attempt)
			}
			attempt++
			return next(ctx, req, opts)
		})
	}
}

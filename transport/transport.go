package transport

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"net/url"
	"time"
)

// Request is the wire-agnostic description of one HTTP exchange.
// The pipeline owns a single Request per logical call; middleware may
// mutate headers (auth re-arming) before replaying it.
type Request struct {
	// Method is the HTTP method (http.MethodGet etc.).
	Method string

	// Path is the request path, joined to the transport's base URL.
	Path string

	// Query holds the query parameters. Encoding is deterministic
	// (url.Values.Encode sorts by key).
	Query url.Values

	// Headers are request headers, applied after transport defaults.
	Headers map[string]string

	// Body is the raw request body, replayed as-is on every retry.
	Body []byte
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := &Request{
		Method: r.Method,
		Path:   r.Path,
	}
	if r.Query != nil {
		c.Query = make(url.Values, len(r.Query))
		for k, vs := range r.Query {
			c.Query[k] = append([]string(nil), vs...)
		}
	}
	if r.Headers != nil {
		c.Headers = maps.Clone(r.Headers)
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return c
}

// Response is the outcome of a successful exchange (any status code).
// A Response with a non-2xx status is still a Response; failure
// classification is the caller's concern.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte

	// Elapsed is the wall time of the exchange.
	Elapsed time.Duration
}

// Success reports whether the status code is in the 2xx range.
func (r *Response) Success() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Clone returns a deep copy so concurrent consumers never share
// mutable state.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := &Response{
		StatusCode: r.StatusCode,
		Elapsed:    r.Elapsed,
	}
	if r.Headers != nil {
		c.Headers = r.Headers.Clone()
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return c
}

// Transport performs one HTTP exchange.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Send must honor cancellation and return a *Error with
//   KindCanceled when the context is done.
// - Errors: a non-2xx status is NOT an error; Send returns an error only
//   when no usable response was produced.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, req *Request) (*Response, error)

// Send calls f.
func (f Func) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

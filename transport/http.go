package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout is the request timeout applied when none is configured.
const DefaultTimeout = 30 * time.Second

// ProgressFunc receives download progress while the response body is
// read. total is -1 when the server did not send Content-Length.
type ProgressFunc func(read, total int64)

// Config configures the net/http-backed transport.
type Config struct {
	// BaseURL is prepended to every request path.
	BaseURL string

	// Timeout is the per-request timeout.
	// Default: 30s
	Timeout time.Duration

	// DefaultHeaders are sent with every request. Per-request headers
	// override them.
	DefaultHeaders map[string]string

	// HTTPClient is the underlying client. If nil, a client with the
	// configured timeout is used.
	HTTPClient *http.Client

	// OnProgress, if set, is invoked while response bodies are read.
	OnProgress ProgressFunc
}

// HTTPClient is the net/http implementation of Transport.
type HTTPClient struct {
	config Config
	client *http.Client
}

// NewHTTPClient creates a transport with defaults applied.
func NewHTTPClient(config Config) *HTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &HTTPClient{config: config, client: client}
}

// Send performs one HTTP exchange.
func (c *HTTPClient) Send(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, newError(ctx, "send", err)
	}
	defer httpResp.Body.Close()

	body, err := c.readBody(httpResp)
	if err != nil {
		return nil, newError(ctx, "read body", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
		Elapsed:    time.Since(start),
	}, nil
}

func (c *HTTPClient) build(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.url(req), body)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: "build request", Cause: err}
	}

	for k, v := range c.config.DefaultHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

func (c *HTTPClient) url(req *Request) string {
	base := strings.TrimSuffix(c.config.BaseURL, "/")
	path := req.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := base + path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}

func (c *HTTPClient) readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	if c.config.OnProgress != nil {
		r = &progressReader{
			r:        resp.Body,
			total:    resp.ContentLength,
			progress: c.config.OnProgress,
		}
	}
	return io.ReadAll(r)
}

// progressReader reports cumulative bytes read to a ProgressFunc.
type progressReader struct {
	r        io.Reader
	read     int64
	total    int64
	progress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.progress(p.read, p.total)
	}
	return n, err
}

// Ensure HTTPClient implements Transport
var _ Transport = (*HTTPClient)(nil)

package retry

import (
	"context"
	"math"
	"time"

	"github.com/jonwraymond/httpkit/transport"
)

// AttemptFunc performs one exchange attempt. Replays go against this
// function directly, never back through the outer pipeline.
type AttemptFunc func(ctx context.Context) (*transport.Response, error)

// Config configures the retry behavior.
type Config struct {
	// MaxRetries is the number of retries beyond the initial attempt.
	// Default: 3
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	// Default: 500ms
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	// Default: 2.0
	Multiplier float64

	// RetryableStatus is the set of status codes that trigger a retry.
	// Default: 408, 429, 500, 502, 503, 504
	RetryableStatus []int

	// OnConnectionError enables retrying transport-level connection
	// and timeout failures.
	OnConnectionError bool

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig returns the default retry configuration, including
// connection-error retries.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		Multiplier:        2.0,
		RetryableStatus:   []int{408, 429, 500, 502, 503, 504},
		OnConnectionError: true,
	}
}

// Controller decides retry eligibility and backoff per failed exchange.
type Controller struct {
	config   Config
	statuses map[int]struct{}
}

// New creates a controller with numeric defaults applied.
func New(config Config) *Controller {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryableStatus == nil {
		config.RetryableStatus = DefaultConfig().RetryableStatus
	}

	statuses := make(map[int]struct{}, len(config.RetryableStatus))
	for _, code := range config.RetryableStatus {
		statuses[code] = struct{}{}
	}
	return &Controller{config: config, statuses: statuses}
}

// Delay returns the backoff before retry attempt n (0-based):
// min(InitialDelay * Multiplier^n, MaxDelay). Pure, no jitter.
func (c *Controller) Delay(n int) time.Duration {
	mult := math.Pow(c.config.Multiplier, float64(n))
	d := time.Duration(float64(c.config.InitialDelay) * mult)
	if d > c.config.MaxDelay || d <= 0 {
		d = c.config.MaxDelay
	}
	return d
}

// ShouldRetry reports whether a failed exchange is eligible for retry.
// err wins over resp: a transport connection/timeout failure is
// retryable when enabled; otherwise the status code must be in the
// retryable set.
func (c *Controller) ShouldRetry(resp *transport.Response, err error) bool {
	if err != nil {
		return c.config.OnConnectionError && transport.IsRetryableError(err)
	}
	if resp == nil {
		return false
	}
	_, ok := c.statuses[resp.StatusCode]
	return ok
}

// Do runs fn until it succeeds, exhausts MaxRetries, or fails with a
// non-retryable condition. The attempt counter is local to this call.
// On exhaustion the last failure is surfaced, never an aggregate.
func (c *Controller) Do(ctx context.Context, fn AttemptFunc) (*transport.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := fn(ctx)
		if err == nil && resp.Success() {
			return resp, nil
		}
		if !c.ShouldRetry(resp, err) || attempt >= c.config.MaxRetries {
			return resp, err
		}

		delay := c.Delay(attempt)
		if c.config.OnRetry != nil {
			c.config.OnRetry(attempt, delay, err)
		}
		select {
		case <-ctx.Done():
			return nil, &transport.Error{Kind: transport.KindCanceled, Op: "retry wait", Cause: ctx.Err()}
		case <-time.After(delay):
		}
	}
}

// Config returns the controller configuration.
func (c *Controller) Config() Config {
	return c.config
}

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/httpkit/apierr"
	"github.com/jonwraymond/httpkit/store"
	"github.com/jonwraymond/httpkit/transport"
)

// Persistence keys for the two credential halves.
const (
	keyJWT          = "jwt"
	keyRefreshToken = "refresh_token"
)

// Strategy selects when the orchestrator refreshes the token.
type Strategy int

const (
	// StrategyReactive refreshes after a request comes back 401, then
	// retries the original request once with the new header.
	StrategyReactive Strategy = iota

	// StrategyProactive inspects the token's expiry claim before
	// sending and refreshes first, avoiding the wasted round trip.
	StrategyProactive
)

// Credentials is the persisted token pair. Absence of either value
// means unauthenticated.
type Credentials struct {
	JWT          string
	RefreshToken string
}

// Valid reports whether both halves are present.
func (c Credentials) Valid() bool {
	return c.JWT != "" && c.RefreshToken != ""
}

// Resolver extracts the new token pair from a refresh response.
type Resolver func(resp *transport.Response) (jwt, refreshToken string, err error)

// BodyFunc builds the refresh request body from the current credentials.
type BodyFunc func(creds Credentials) ([]byte, error)

// HeaderFunc builds the refresh request headers from the current
// credentials.
type HeaderFunc func(creds Credentials) map[string]string

// Config configures the orchestrator.
type Config struct {
	// Endpoint is the refresh endpoint path.
	Endpoint string

	// ParamName is the body field carrying the refresh token.
	// Default: "refreshToken"
	ParamName string

	// Strategy selects reactive or proactive refresh.
	Strategy Strategy

	// IgnorePaths bypass the proactive expiry check (prefix match).
	IgnorePaths []string

	// Required makes requests fail when refresh fails; when false the
	// header is stripped and the request retried without it.
	Required bool

	// Resolver extracts the new tokens. Nil disables refresh.
	Resolver Resolver

	// Body overrides the default refresh body ({ParamName: refreshToken}).
	Body BodyFunc

	// Headers overrides the default refresh headers
	// (Authorization: Bearer <jwt>).
	Headers HeaderFunc
}

// Orchestrator owns the credentials and the bearer header. All token
// mutations go through it; no other component touches the store.
type Orchestrator struct {
	config    Config
	store     store.Store
	transport transport.Transport // dedicated, never the main pipeline
	stream    *apierr.Stream

	mu     sync.RWMutex
	header string // "Bearer <jwt>", empty when detached

	sf singleflight.Group // at most one refresh exchange in flight
}

// New creates an orchestrator. tr must be a transport separate from
// the main pipeline so refresh exchanges are never intercepted
// recursively. stream may be nil to skip exception broadcasting.
func New(config Config, st store.Store, tr transport.Transport, stream *apierr.Stream) *Orchestrator {
	if config.ParamName == "" {
		config.ParamName = "refreshToken"
	}
	if config.Endpoint == "" {
		config.Endpoint = "/auth/refresh"
	}
	o := &Orchestrator{
		config:    config,
		store:     st,
		transport: tr,
		stream:    stream,
	}
	// Re-attach the header when credentials survived a restart.
	if creds, ok := o.credentials(context.Background()); ok {
		o.header = "Bearer " + creds.JWT
	}
	return o
}

// Header returns the current bearer header value.
func (o *Orchestrator) Header() (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.header, o.header != ""
}

// IsAuthorized reports whether the header is attached and both
// credential halves exist in persistence.
func (o *Orchestrator) IsAuthorized(ctx context.Context) bool {
	if _, ok := o.Header(); !ok {
		return false
	}
	hasJWT, err := o.store.Contains(ctx, keyJWT)
	if err != nil || !hasJWT {
		return false
	}
	hasRefresh, err := o.store.Contains(ctx, keyRefreshToken)
	return err == nil && hasRefresh
}

// Authorize persists both tokens and attaches the bearer header.
// Returns true only if both writes succeed.
func (o *Orchestrator) Authorize(ctx context.Context, jwt, refreshToken string) bool {
	if jwt == "" || refreshToken == "" {
		return false
	}
	if err := o.setString(ctx, keyJWT, jwt); err != nil {
		return false
	}
	if err := o.setString(ctx, keyRefreshToken, refreshToken); err != nil {
		return false
	}
	o.mu.Lock()
	o.header = "Bearer " + jwt
	o.mu.Unlock()
	return true
}

// Unauthorize deletes both tokens and removes the bearer header.
// Returns true only if both deletes succeed.
func (o *Orchestrator) Unauthorize(ctx context.Context) bool {
	err1 := o.store.Delete(ctx, keyJWT)
	err2 := o.store.Delete(ctx, keyRefreshToken)
	o.mu.Lock()
	o.header = ""
	o.mu.Unlock()
	return err1 == nil && err2 == nil
}

// ShouldBypass reports whether the path is on the proactive
// ignore-list (prefix match).
func (o *Orchestrator) ShouldBypass(path string) bool {
	for _, p := range o.config.IgnorePaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Required reports whether requests must fail when refresh fails.
func (o *Orchestrator) Required() bool {
	return o.config.Required
}

// Strategy returns the configured refresh strategy.
func (o *Orchestrator) Strategy() Strategy {
	return o.config.Strategy
}

// RefreshEnabled reports whether a token resolver is configured.
func (o *Orchestrator) RefreshEnabled() bool {
	return o.config.Resolver != nil
}

// Refresh performs the refresh-token exchange. Concurrent callers
// share one in-flight exchange and receive the same outcome; a refresh
// failure is never retried within the same cycle. A caller whose
// context ends stops waiting with ErrRefreshWaitAborted; the exchange
// is detached from any single caller, so one caller canceling never
// fails the others.
func (o *Orchestrator) Refresh(ctx context.Context) (Credentials, error) {
	if o.config.Resolver == nil {
		return Credentials{}, ErrRefreshDisabled
	}

	ch := o.sf.DoChan("refresh", func() (any, error) {
		return o.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Credentials{}, res.Err
		}
		return res.Val.(Credentials), nil
	case <-ctx.Done():
		return Credentials{}, fmt.Errorf("%w: %w", ErrRefreshWaitAborted, ctx.Err())
	}
}

// refresh runs exactly one exchange against the dedicated transport.
func (o *Orchestrator) refresh(ctx context.Context) (Credentials, error) {
	creds, _ := o.credentials(ctx)
	if creds.RefreshToken == "" {
		return Credentials{}, ErrNoRefreshToken
	}

	body, err := o.refreshBody(creds)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: build refresh body: %w", err)
	}

	req := &transport.Request{
		Method:  http.MethodPost,
		Path:    o.config.Endpoint,
		Headers: o.refreshHeaders(creds),
		Body:    body,
	}
	resp, err := o.transport.Send(ctx, req)
	if err != nil || !resp.Success() {
		record := apierr.Classify(resp, err, nil)
		if o.stream != nil {
			o.stream.Publish(record)
		}
		return Credentials{}, fmt.Errorf("%w: %w", ErrRefreshFailed, record)
	}

	jwt, refreshToken, err := o.config.Resolver(resp)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: resolve tokens: %w", ErrRefreshFailed, err)
	}
	if jwt == "" || refreshToken == "" {
		return Credentials{}, fmt.Errorf("%w: resolver returned empty tokens", ErrRefreshFailed)
	}

	if !o.Authorize(ctx, jwt, refreshToken) {
		return Credentials{}, fmt.Errorf("%w: persisting tokens", ErrRefreshFailed)
	}
	return Credentials{JWT: jwt, RefreshToken: refreshToken}, nil
}

func (o *Orchestrator) refreshBody(creds Credentials) ([]byte, error) {
	if o.config.Body != nil {
		return o.config.Body(creds)
	}
	return json.Marshal(map[string]string{o.config.ParamName: creds.RefreshToken})
}

func (o *Orchestrator) refreshHeaders(creds Credentials) map[string]string {
	if o.config.Headers != nil {
		return o.config.Headers(creds)
	}
	return map[string]string{"Authorization": "Bearer " + creds.JWT}
}

// credentials loads the persisted pair.
func (o *Orchestrator) credentials(ctx context.Context) (Credentials, bool) {
	jwt, ok1 := o.getString(ctx, keyJWT)
	refreshToken, ok2 := o.getString(ctx, keyRefreshToken)
	creds := Credentials{JWT: jwt, RefreshToken: refreshToken}
	return creds, ok1 && ok2 && creds.Valid()
}

func (o *Orchestrator) getString(ctx context.Context, key string) (string, bool) {
	raw, ok, err := o.store.Get(ctx, key)
	if err != nil || !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (o *Orchestrator) setString(ctx context.Context, key, value string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return o.store.Set(ctx, key, raw)
}

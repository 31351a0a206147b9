package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/httpkit/apierr"
	"github.com/jonwraymond/httpkit/auth"
	"github.com/jonwraymond/httpkit/transport"
)

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()})
	signed, err := token.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func tokenResolver(resp *transport.Response) (string, string, error) {
	var body struct {
		JWT     string `json:"jwt"`
		Refresh string `json:"refreshToken"`
	}
	if err := resp.JSON(&body); err != nil {
		return "", "", err
	}
	return body.JWT, body.Refresh, nil
}

func refreshTransport(t *testing.T, jwt, refresh string, calls *int32) transport.Transport {
	t.Helper()
	return transport.Func(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		if req.Path != "/auth/refresh" {
			t.Errorf("refresh path = %q, want /auth/refresh", req.Path)
		}
		body, _ := json.Marshal(map[string]string{"jwt": jwt, "refreshToken": refresh})
		return okJSON(string(body)), nil
	})
}

func TestPipeline_AttachesBearerHeader(t *testing.T) {
	var got string
	c := newTestClient(t, Config{
		Transport: transport.Func(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
			got = req.Headers["Authorization"]
			return okJSON(`{}`), nil
		}),
		Auth: AuthConfig{Enabled: true, Resolver: tokenResolver, RefreshTransport: refreshTransport(t, "x", "y", nil)},
	})
	ctx := context.Background()

	token := mintToken(t, time.Now().Add(time.Hour))
	if !c.Authorize(ctx, token, "refresh-1") {
		t.Fatal("Authorize() = false")
	}
	if !c.IsAuthorized(ctx) {
		t.Fatal("IsAuthorized() = false after Authorize")
	}

	if _, err := c.Get(ctx, "/profile"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "Bearer "+token {
		t.Errorf("Authorization = %q, want Bearer %q", got, token)
	}
}

func TestPipeline_WithoutAuthSkipsHeader(t *testing.T) {
	var got string
	c := newTestClient(t, Config{
		Transport: transport.Func(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
			got = req.Headers["Authorization"]
			return okJSON(`{}`), nil
		}),
		Auth: AuthConfig{Enabled: true, Resolver: tokenResolver, RefreshTransport: refreshTransport(t, "x", "y", nil)},
	})
	ctx := context.Background()
	c.Authorize(ctx, mintToken(t, time.Now().Add(time.Hour)), "refresh-1")

	if _, err := c.Get(ctx, "/public", WithoutAuth()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "" {
		t.Errorf("Authorization = %q, want empty", got)
	}
}

func TestPipeline_ReactiveRefreshReplaysOnce(t *testing.T) {
	newToken := mintToken(t, time.Now().Add(time.Hour))
	refreshCalls := int32(0)
	var headers []string
	c := newTestClient(t, Config{
		Transport: transport.Func(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
			headers = append(headers, req.Headers["Authorization"])
			if req.Headers["Authorization"] != "Bearer "+newToken {
				return statusResponse(http.StatusUnauthorized), nil
			}
			return okJSON(`{"ok":true}`), nil
		}),
		Auth: AuthConfig{
			Enabled:          true,
			Strategy:         auth.StrategyReactive,
			Resolver:         tokenResolver,
			RefreshTransport: refreshTransport(t, newToken, "refresh-2", &refreshCalls),
		},
	})
	ctx := context.Background()
	c.Authorize(ctx, mintToken(t, time.Now().Add(-time.Hour)), "refresh-1")

	resp, err := c.Get(ctx, "/profile")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	if len(headers) != 2 {
		t.Fatalf("exchanges = %d, want 2 (401 then replay)", len(headers))
	}
	if headers[1] != "Bearer "+newToken {
		t.Errorf("replay header = %q, want the refreshed token", headers[1])
	}
}

func TestPipeline_ReactiveRequiredSurfacesOriginal401(t *testing.T) {
	exchanges := int32(0)
	c := newTestClient(t, Config{
		Transport: transport.Func(func(context.Context, *transport.Request) (*transport.Response, error) {
			atomic.AddInt32(&exchanges, 1)
			return statusResponse(http.StatusUnauthorized), nil
		}),
		Auth: AuthConfig{
			Enabled:  true,
			Strategy: auth.StrategyReactive,
			Required: true,
			Resolver: tokenResolver,
			RefreshTransport: transport.Func(func(context.Context, *transport.Request) (*transport.Response, error) {
				return statusResponse(http.StatusForbidden), nil
			}),
		},
	})
	ctx := context.Background()
	c.Authorize(ctx, mintToken(t, time.Now().Add(-time.Hour)), "refresh-1")

	resp, err := c.Get(ctx, "/profile")
	var record *apierr.Error
	if !errors.As(err, &record) || record.Kind != apierr.KindUnauthorized {
		t.Fatalf("error = %v, want unauthorized apierr", err)
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Error("caller should see the original 401 response")
	}
	if n := atomic.LoadInt32(&exchanges); n != 1 {
		t.Errorf("exchanges = %d, want 1 (no replay after failed refresh)", n)
	}
}

func TestPipeline_ReactiveOptionalRetriesBare(t *testing.T) {
	var headers []string
	c := newTestClient(t, Config{
		Transport: transport.Func(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
			headers = append(headers, req.Headers["Authorization"])
			if req.Headers["Authorization"] != "" {
				return statusResponse(http.StatusUnauthorized), nil
			}
			return okJSON(`{"anonymous":true}`), nil
		}),
		Auth: AuthConfig{
			Enabled:  true,
			Strategy: auth.StrategyReactive,
			Resolver: tokenResolver,
			RefreshTransport: transport.Func(func(context.Context, *transport.Request) (*transport.Response, error) {
				return statusResponse(http.StatusForbidden), nil
			}),
		},
	})
	ctx := context.Background()
	c.Authorize(ctx, mintToken(t, time.Now().Add(-time.Hour)), "refresh-1")

	resp, err := c.Get(ctx, "/feed")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200 from the bare retry", resp.StatusCode)
	}
	if len(headers) != 2 || headers[1] != "" {
		t.Errorf("exchanges = %v, want authorized then bare", headers)
	}
}

func TestPipeline_SilentCallStillReportsRefreshFailure(t *testing.T) {
	c := newTestClient(t, Config{
		Transport: transport.Func(func(context.Context, *transport.Request) (*transport.Response, error) {
			return statusResponse(http.StatusUnauthorized), nil
		}),
		Auth: AuthConfig{
			Enabled:  true,
			Strategy: auth.StrategyReactive,
			Required: true,
			Resolver: tokenResolver,
			RefreshTransport: transport.Func(func(context.Context, *transport.Request) (*transport.Response, error) {
				return statusResponse(http.StatusForbidden), nil
			}),
		},
	})
	ctx := context.Background()
	c.Authorize(ctx, mintToken(t, time.Now().Add(-time.Hour)), "refresh-1")

	exceptions, cancel := c.Exceptions()
	defer cancel()

	if _, err := c.Get(ctx, "/profile", WithSilent()); err == nil {
		t.Fatal("Get() error = nil, want unauthorized error")
	}

	// The call's own 401 is silenced; the refresh exchange failure is a
	// separate exchange and is still broadcast.
	select {
	case record := <-exceptions:
		if record.Kind != apierr.KindForbidden {
			t.Errorf("published Kind = %v, want KindForbidden from the refresh exchange", record.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("refresh exchange failure was not published")
	}
	select {
	case record := <-exceptions:
		t.Fatalf("silenced call published its own failure: %v", record)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipeline_ProactiveRefreshBeforeSend(t *testing.T) {
	newToken := mintToken(t, time.Now().Add(time.Hour))
	refreshCalls := int32(0)
	var got string
	c := newTestClient(t, Config{
		Transport: transport.Func(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
			got = req.Headers["Authorization"]
			return okJSON(`{}`), nil
		}),
		Auth: AuthConfig{
			Enabled:          true,
			Strategy:         auth.StrategyProactive,
			Resolver:         tokenResolver,
			RefreshTransport: refreshTransport(t, newToken, "refresh-2", &refreshCalls),
		},
	})
	ctx := context.Background()
	c.Authorize(ctx, mintToken(t, time.Now().Add(-time.Minute)), "refresh-1")

	if _, err := c.Get(ctx, "/profile"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	if got != "Bearer "+newToken {
		t.Errorf("Authorization = %q, want the refreshed token", got)
	}
}

func TestPipeline_ProactiveSkipsFreshToken(t *testing.T) {
	refreshCalls := int32(0)
	c := newTestClient(t, Config{
		Transport: transport.Func(func(context.Context, *transport.Request) (*transport.Response, error) {
			return okJSON(`{}`), nil
		}),
		Auth: AuthConfig{
			Enabled:          true,
			Strategy:         auth.StrategyProactive,
			Resolver:         tokenResolver,
			RefreshTransport: refreshTransport(t, "x", "y", &refreshCalls),
		},
	})
	ctx := context.Background()
	c.Authorize(ctx, mintToken(t, time.Now().Add(time.Hour)), "refresh-1")

	if _, err := c.Get(ctx, "/profile"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 0 {
		t.Errorf("refresh calls = %d, want 0", n)
	}
}

func TestPipeline_ProactiveIgnorePaths(t *testing.T) {
	refreshCalls := int32(0)
	c := newTestClient(t, Config{
		Transport: transport.Func(func(context.Context, *transport.Request) (*transport.Response, error) {
			return okJSON(`{}`), nil
		}),
		Auth: AuthConfig{
			Enabled:          true,
			Strategy:         auth.StrategyProactive,
			IgnorePaths:      []string{"/health"},
			Resolver:         tokenResolver,
			RefreshTransport: refreshTransport(t, "x", "y", &refreshCalls),
		},
	})
	ctx := context.Background()
	c.Authorize(ctx, mintToken(t, time.Now().Add(-time.Minute)), "refresh-1")

	if _, err := c.Get(ctx, "/health/live"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 0 {
		t.Errorf("refresh calls = %d, want 0 for an ignored path", n)
	}
}

func TestPipeline_ProactiveRequiredFailsWithoutReplay(t *testing.T) {
	exchanges := int32(0)
	c := newTestClient(t, Config{
		Transport: transport.Func(func(context.Context, *transport.Request) (*transport.Response, error) {
			atomic.AddInt32(&exchanges, 1)
			return okJSON(`{}`), nil
		}),
		Auth: AuthConfig{
			Enabled:  true,
			Strategy: auth.StrategyProactive,
			Required: true,
			Resolver: tokenResolver,
			RefreshTransport: transport.Func(func(context.Context, *transport.Request) (*transport.Response, error) {
				return statusResponse(http.StatusForbidden), nil
			}),
		},
	})
	ctx := context.Background()
	c.Authorize(ctx, mintToken(t, time.Now().Add(-time.Minute)), "refresh-1")

	_, err := c.Get(ctx, "/profile")
	if !errors.Is(err, auth.ErrRefreshFailed) {
		t.Fatalf("error = %v, want ErrRefreshFailed", err)
	}
	if n := atomic.LoadInt32(&exchanges); n != 0 {
		t.Errorf("exchanges = %d, want 0 (request must not go out)", n)
	}
}

func TestPipeline_UnauthorizeDetaches(t *testing.T) {
	var got string
	c := newTestClient(t, Config{
		Transport: transport.Func(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
			got = req.Headers["Authorization"]
			return okJSON(`{}`), nil
		}),
		Auth: AuthConfig{Enabled: true, Resolver: tokenResolver, RefreshTransport: refreshTransport(t, "x", "y", nil)},
	})
	ctx := context.Background()
	c.Authorize(ctx, mintToken(t, time.Now().Add(time.Hour)), "refresh-1")
	if !c.Unauthorize(ctx) {
		t.Fatal("Unauthorize() = false")
	}
	if c.IsAuthorized(ctx) {
		t.Fatal("IsAuthorized() = true after Unauthorize")
	}

	if _, err := c.Get(ctx, "/profile"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "" {
		t.Errorf("Authorization = %q, want empty after Unauthorize", got)
	}
}

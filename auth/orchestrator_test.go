package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/httpkit/apierr"
	"github.com/jonwraymond/httpkit/store"
	"github.com/jonwraymond/httpkit/transport"
)

func jsonResolver(resp *transport.Response) (string, string, error) {
	var payload struct {
		JWT          string `json:"jwt"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := resp.JSON(&payload); err != nil {
		return "", "", err
	}
	return payload.JWT, payload.RefreshToken, nil
}

func newTestOrchestrator(t *testing.T, config Config, tr transport.Transport) (*Orchestrator, *apierr.Stream) {
	t.Helper()
	stream := apierr.NewStream()
	t.Cleanup(stream.Close)
	return New(config, store.NewMemory(), tr, stream), stream
}

func TestOrchestrator_AuthorizeLifecycle(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, Config{}, nil)

	if o.IsAuthorized(ctx) {
		t.Error("IsAuthorized() before authorize = true, want false")
	}

	if !o.Authorize(ctx, "a", "b") {
		t.Fatal("Authorize() = false, want true")
	}
	if !o.IsAuthorized(ctx) {
		t.Error("IsAuthorized() after authorize = false, want true")
	}
	if header, ok := o.Header(); !ok || header != "Bearer a" {
		t.Errorf("Header() = %q, %v, want Bearer a", header, ok)
	}

	if !o.Unauthorize(ctx) {
		t.Fatal("Unauthorize() = false, want true")
	}
	if o.IsAuthorized(ctx) {
		t.Error("IsAuthorized() after unauthorize = true, want false")
	}
	if _, ok := o.Header(); ok {
		t.Error("Header() after unauthorize attached, want detached")
	}
}

func TestOrchestrator_AuthorizeRejectsEmpty(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{}, nil)
	if o.Authorize(context.Background(), "", "b") {
		t.Error("Authorize(\"\", b) = true, want false")
	}
	if o.Authorize(context.Background(), "a", "") {
		t.Error("Authorize(a, \"\") = true, want false")
	}
}

func TestOrchestrator_HeaderSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	first := New(Config{}, st, nil, nil)
	if !first.Authorize(ctx, "tok", "ref") {
		t.Fatal("Authorize() = false")
	}

	second := New(Config{}, st, nil, nil)
	if header, ok := second.Header(); !ok || header != "Bearer tok" {
		t.Errorf("Header() after restart = %q, %v, want Bearer tok", header, ok)
	}
}

func TestOrchestrator_Refresh(t *testing.T) {
	ctx := context.Background()

	var gotBody map[string]string
	var gotAuth string
	tr := transport.Func(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		if req.Method != "POST" || req.Path != "/auth/refresh" {
			t.Errorf("refresh request = %s %s, want POST /auth/refresh", req.Method, req.Path)
		}
		_ = json.Unmarshal(req.Body, &gotBody)
		gotAuth = req.Headers["Authorization"]
		return &transport.Response{
			StatusCode: 200,
			Body:       []byte(`{"jwt":"new-jwt","refreshToken":"new-ref"}`),
		}, nil
	})

	o, _ := newTestOrchestrator(t, Config{Resolver: jsonResolver}, tr)
	o.Authorize(ctx, "old-jwt", "old-ref")

	creds, err := o.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if creds.JWT != "new-jwt" || creds.RefreshToken != "new-ref" {
		t.Errorf("creds = %+v, want new pair", creds)
	}
	if gotBody["refreshToken"] != "old-ref" {
		t.Errorf("refresh body = %v, want old-ref", gotBody)
	}
	if gotAuth != "Bearer old-jwt" {
		t.Errorf("refresh Authorization = %q, want Bearer old-jwt", gotAuth)
	}
	if header, _ := o.Header(); header != "Bearer new-jwt" {
		t.Errorf("Header() after refresh = %q, want Bearer new-jwt", header)
	}
	if !o.IsAuthorized(ctx) {
		t.Error("IsAuthorized() after refresh = false, want true")
	}
}

func TestOrchestrator_RefreshSingleFlight(t *testing.T) {
	ctx := context.Background()

	var exchanges int32
	tr := transport.Func(func(_ context.Context, _ *transport.Request) (*transport.Response, error) {
		atomic.AddInt32(&exchanges, 1)
		time.Sleep(50 * time.Millisecond)
		return &transport.Response{
			StatusCode: 200,
			Body:       []byte(`{"jwt":"fresh","refreshToken":"ref2"}`),
		}, nil
	})

	o, _ := newTestOrchestrator(t, Config{Resolver: jsonResolver}, tr)
	o.Authorize(ctx, "j", "r")

	const n = 8
	var wg sync.WaitGroup
	creds := make([]Credentials, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := o.Refresh(ctx)
			if err != nil {
				t.Errorf("Refresh() %d error = %v", i, err)
			}
			creds[i] = c
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&exchanges); got != 1 {
		t.Errorf("refresh exchanges = %d, want 1", got)
	}
	for i := range creds {
		if creds[i].JWT != "fresh" {
			t.Errorf("caller %d JWT = %q, want fresh", i, creds[i].JWT)
		}
	}
}

func TestOrchestrator_RefreshOutlivesOwnerCancel(t *testing.T) {
	var exchanges int32
	entered := make(chan struct{})
	release := make(chan struct{})
	tr := transport.Func(func(ctx context.Context, _ *transport.Request) (*transport.Response, error) {
		if atomic.AddInt32(&exchanges, 1) == 1 {
			close(entered)
		}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &transport.Response{
			StatusCode: 200,
			Body:       []byte(`{"jwt":"fresh","refreshToken":"ref2"}`),
		}, nil
	})

	o, _ := newTestOrchestrator(t, Config{Resolver: jsonResolver}, tr)
	o.Authorize(context.Background(), "j", "r")

	ownerCtx, cancelOwner := context.WithCancel(context.Background())
	ownerErr := make(chan error, 1)
	go func() {
		_, err := o.Refresh(ownerCtx)
		ownerErr <- err
	}()
	<-entered

	waiterCreds := make(chan Credentials, 1)
	waiterErr := make(chan error, 1)
	go func() {
		c, err := o.Refresh(context.Background())
		waiterCreds <- c
		waiterErr <- err
	}()
	time.Sleep(20 * time.Millisecond) // let the waiter join the in-flight exchange

	cancelOwner()
	if err := <-ownerErr; !errors.Is(err, ErrRefreshWaitAborted) {
		t.Errorf("owner error = %v, want ErrRefreshWaitAborted", err)
	}

	close(release)
	creds := <-waiterCreds
	if err := <-waiterErr; err != nil {
		t.Fatalf("waiter Refresh() error = %v, want exchange outcome despite owner cancel", err)
	}
	if creds.JWT != "fresh" {
		t.Errorf("waiter JWT = %q, want fresh", creds.JWT)
	}
	if got := atomic.LoadInt32(&exchanges); got != 1 {
		t.Errorf("refresh exchanges = %d, want 1", got)
	}
}

func TestOrchestrator_RefreshWaiterCancelStopsWaiting(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	tr := transport.Func(func(_ context.Context, _ *transport.Request) (*transport.Response, error) {
		close(entered)
		<-release
		return &transport.Response{
			StatusCode: 200,
			Body:       []byte(`{"jwt":"fresh","refreshToken":"ref2"}`),
		}, nil
	})

	o, _ := newTestOrchestrator(t, Config{Resolver: jsonResolver}, tr)
	o.Authorize(context.Background(), "j", "r")

	ownerErr := make(chan error, 1)
	go func() {
		_, err := o.Refresh(context.Background())
		ownerErr <- err
	}()
	<-entered

	waiterCtx, cancelWaiter := context.WithCancel(context.Background())
	waiterErr := make(chan error, 1)
	go func() {
		_, err := o.Refresh(waiterCtx)
		waiterErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancelWaiter()

	select {
	case err := <-waiterErr:
		if !errors.Is(err, ErrRefreshWaitAborted) || !errors.Is(err, context.Canceled) {
			t.Errorf("waiter error = %v, want ErrRefreshWaitAborted wrapping context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("canceled waiter still blocked on the in-flight refresh")
	}

	close(release)
	if err := <-ownerErr; err != nil {
		t.Errorf("owner Refresh() error = %v, want success", err)
	}
}

func TestOrchestrator_RefreshFailurePublishes(t *testing.T) {
	ctx := context.Background()
	tr := transport.Func(func(_ context.Context, _ *transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 401}, nil
	})

	o, stream := newTestOrchestrator(t, Config{Resolver: jsonResolver}, tr)
	o.Authorize(ctx, "j", "r")

	ch, cancel := stream.Subscribe()
	defer cancel()

	_, err := o.Refresh(ctx)
	if !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("Refresh() error = %v, want ErrRefreshFailed", err)
	}

	select {
	case record := <-ch:
		if record.Kind != apierr.KindUnauthorized {
			t.Errorf("published kind = %v, want unauthorized", record.Kind)
		}
	default:
		t.Error("refresh failure not published on stream")
	}
}

func TestOrchestrator_RefreshDisabled(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{}, nil)
	o.Authorize(context.Background(), "j", "r")

	if _, err := o.Refresh(context.Background()); !errors.Is(err, ErrRefreshDisabled) {
		t.Errorf("Refresh() error = %v, want ErrRefreshDisabled", err)
	}
	if o.RefreshEnabled() {
		t.Error("RefreshEnabled() = true, want false")
	}
}

func TestOrchestrator_RefreshWithoutToken(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{Resolver: jsonResolver}, nil)
	if _, err := o.Refresh(context.Background()); !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("Refresh() error = %v, want ErrNoRefreshToken", err)
	}
}

func TestOrchestrator_RefreshEmptyResolverResult(t *testing.T) {
	tr := transport.Func(func(_ context.Context, _ *transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Body: []byte(`{}`)}, nil
	})
	o, _ := newTestOrchestrator(t, Config{Resolver: jsonResolver}, tr)
	o.Authorize(context.Background(), "j", "r")

	if _, err := o.Refresh(context.Background()); !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("Refresh() error = %v, want ErrRefreshFailed", err)
	}
}

func TestOrchestrator_CustomBodyAndHeaders(t *testing.T) {
	ctx := context.Background()

	var gotBody []byte
	var gotHeader string
	tr := transport.Func(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		gotBody = req.Body
		gotHeader = req.Headers["X-Refresh"]
		return &transport.Response{StatusCode: 200, Body: []byte(`{"jwt":"a","refreshToken":"b"}`)}, nil
	})

	o, _ := newTestOrchestrator(t, Config{
		Resolver: jsonResolver,
		Body: func(creds Credentials) ([]byte, error) {
			return []byte("grant=" + creds.RefreshToken), nil
		},
		Headers: func(creds Credentials) map[string]string {
			return map[string]string{"X-Refresh": creds.JWT}
		},
	}, tr)
	o.Authorize(ctx, "j", "r")

	if _, err := o.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if string(gotBody) != "grant=r" {
		t.Errorf("body = %q, want grant=r", gotBody)
	}
	if gotHeader != "j" {
		t.Errorf("X-Refresh = %q, want j", gotHeader)
	}
}

func TestOrchestrator_ShouldBypass(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{IgnorePaths: []string{"/public", "/auth"}}, nil)

	tests := []struct {
		path string
		want bool
	}{
		{"/public/docs", true},
		{"/auth/refresh", true},
		{"/users", false},
	}
	for _, tt := range tests {
		if got := o.ShouldBypass(tt.path); got != tt.want {
			t.Errorf("ShouldBypass(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

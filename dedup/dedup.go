package dedup

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/jonwraymond/httpkit/transport"
)

// DefaultMethods are the idempotent methods deduplicated by default.
var DefaultMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}

// Signature derives the in-flight key for a request. The body is
// excluded by design: only idempotent methods are deduplicated.
func Signature(method, path string, query url.Values, bearer string) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)
	if len(query) > 0 {
		b.WriteByte('?')
		b.WriteString(query.Encode())
	}
	if bearer != "" {
		b.WriteByte('@')
		b.WriteString(bearer)
	}
	return b.String()
}

// Fn performs the actual exchange for the owning request.
type Fn func(ctx context.Context) (*transport.Response, error)

type result struct {
	resp *transport.Response
	err  error
}

type waiterMsg struct {
	res      result
	promoted bool
}

type waiter struct {
	ch chan waiterMsg // buffered, capacity 1
}

type call struct {
	waiters []*waiter
}

// Group tracks in-flight requests by signature.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Ownership: every waiter receives its own Response copy.
// - Cancellation: a canceled waiter detaches; a canceled owner
//   promotes the next waiter rather than failing it.
type Group struct {
	mu       sync.Mutex
	inflight map[string]*call
}

// NewGroup creates an empty group.
func NewGroup() *Group {
	return &Group{inflight: make(map[string]*call)}
}

// Do executes fn once per in-flight key. The first caller for a key
// becomes the owner; later callers wait for the owner's outcome.
// shared is true when this caller received another exchange's result.
func (g *Group) Do(ctx context.Context, key string, fn Fn) (resp *transport.Response, err error, shared bool) {
	g.mu.Lock()
	if c, ok := g.inflight[key]; ok {
		w := &waiter{ch: make(chan waiterMsg, 1)}
		c.waiters = append(c.waiters, w)
		g.mu.Unlock()
		return g.wait(ctx, key, c, w, fn)
	}

	c := &call{}
	g.inflight[key] = c
	g.mu.Unlock()

	resp, err = g.run(ctx, key, c, fn)
	return resp, err, false
}

// wait blocks until the owner resolves this waiter, this waiter is
// promoted to owner, or the waiter's context is canceled.
func (g *Group) wait(ctx context.Context, key string, c *call, w *waiter, fn Fn) (*transport.Response, error, bool) {
	select {
	case msg := <-w.ch:
		if msg.promoted {
			resp, err := g.run(ctx, key, c, fn)
			return resp, err, false
		}
		return msg.res.resp, msg.res.err, true

	case <-ctx.Done():
		g.mu.Lock()
		detached := c.remove(w)
		g.mu.Unlock()
		if detached {
			return nil, &transport.Error{Kind: transport.KindCanceled, Op: "dedup wait", Cause: ctx.Err()}, true
		}
		// A message was already committed to this waiter; honor it.
		// If it is a promotion, run resolves it: fn fails fast on the
		// canceled context and ownership passes to the next waiter.
		msg := <-w.ch
		if msg.promoted {
			resp, err := g.run(ctx, key, c, fn)
			return resp, err, false
		}
		return msg.res.resp, msg.res.err, true
	}
}

// run executes fn as the owner of key and settles the call.
func (g *Group) run(ctx context.Context, key string, c *call, fn Fn) (*transport.Response, error) {
	resp, err := fn(ctx)

	g.mu.Lock()
	if err != nil && ctx.Err() != nil && len(c.waiters) > 0 {
		// Owner was canceled with waiters attached: promote the next
		// waiter instead of orphaning the signature.
		next := c.waiters[0]
		c.waiters = c.waiters[1:]
		g.mu.Unlock()
		next.ch <- waiterMsg{promoted: true}
		return resp, err
	}

	delete(g.inflight, key)
	waiters := c.waiters
	c.waiters = nil
	g.mu.Unlock()

	for _, w := range waiters {
		r := result{err: err}
		if resp != nil {
			r.resp = resp.Clone()
		}
		w.ch <- waiterMsg{res: r}
	}
	return resp, err
}

// remove detaches w from the waiter list. Caller must hold g.mu.
// Returns false when w was already settled or promoted.
func (c *call) remove(w *waiter) bool {
	for i, cand := range c.waiters {
		if cand == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

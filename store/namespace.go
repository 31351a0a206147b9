package store

import (
	"context"
	"encoding/json"
	"strings"
)

// Namespaced wraps a Store so every key is transparently prefixed.
// All and Clear are scoped to the namespace.
type Namespaced struct {
	inner  Store
	prefix string
}

// NewNamespaced creates a namespaced view over inner. The prefix is
// joined with ":".
func NewNamespaced(inner Store, namespace string) *Namespaced {
	return &Namespaced{inner: inner, prefix: namespace + ":"}
}

func (n *Namespaced) key(key string) string {
	return n.prefix + key
}

// Get retrieves a value within the namespace.
func (n *Namespaced) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	return n.inner.Get(ctx, n.key(key))
}

// Set stores a value within the namespace.
func (n *Namespaced) Set(ctx context.Context, key string, value json.RawMessage) error {
	return n.inner.Set(ctx, n.key(key), value)
}

// Delete removes a value within the namespace.
func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.key(key))
}

// Contains reports whether a value exists within the namespace.
func (n *Namespaced) Contains(ctx context.Context, key string) (bool, error) {
	return n.inner.Contains(ctx, n.key(key))
}

// All returns the namespace's entries with the prefix stripped.
func (n *Namespaced) All(ctx context.Context) (map[string]json.RawMessage, error) {
	all, err := n.inner.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage)
	for k, v := range all {
		if strings.HasPrefix(k, n.prefix) {
			out[strings.TrimPrefix(k, n.prefix)] = v
		}
	}
	return out, nil
}

// Clear removes only the namespace's entries.
func (n *Namespaced) Clear(ctx context.Context) error {
	all, err := n.inner.All(ctx)
	if err != nil {
		return err
	}
	for k := range all {
		if strings.HasPrefix(k, n.prefix) {
			if err := n.inner.Delete(ctx, k); err != nil {
				return err
			}
		}
	}
	return nil
}

// Ensure Namespaced implements Store
var _ Store = (*Namespaced)(nil)

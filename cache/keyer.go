package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
)

// KeyInput is the request signature a cache key is derived from.
type KeyInput struct {
	Path  string
	Query url.Values
	Body  []byte

	// AuthHeader is included when the call is keyed per-identity;
	// empty otherwise.
	AuthHeader string
}

// Keyer derives deterministic cache keys from request signatures.
//
// Contract:
// - Determinism: same inputs must produce the same key, regardless of
//   map iteration order.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(in KeyInput) (string, error)
}

// KeyFunc post-processes a derived key. It receives the derived key and
// the input it was derived from.
type KeyFunc func(key string, in KeyInput) string

// DefaultKeyer derives SHA-256 based keys prefixed with the unhashed
// path for debuggability.
type DefaultKeyer struct {
	transform KeyFunc
}

// NewDefaultKeyer creates the default keyer. transform may be nil.
func NewDefaultKeyer(transform KeyFunc) *DefaultKeyer {
	return &DefaultKeyer{transform: transform}
}

// Key derives the cache key.
// Format: <path>:<hash> where hash is the first 16 hex characters of
// SHA-256 over (sorted query, canonical JSON body, auth header).
func (k *DefaultKeyer) Key(in KeyInput) (string, error) {
	h := sha256.New()
	// url.Values.Encode sorts by key, so the query part is already
	// deterministic.
	h.Write([]byte(in.Query.Encode()))
	h.Write([]byte{0})

	body, err := canonicalBody(in.Body)
	if err != nil {
		return "", fmt.Errorf("cache: canonicalize body: %w", err)
	}
	h.Write(body)
	h.Write([]byte{0})
	h.Write([]byte(in.AuthHeader))

	key := in.Path + ":" + hex.EncodeToString(h.Sum(nil)[:8])
	if k.transform != nil {
		key = k.transform(key, in)
	}
	return key, nil
}

// canonicalBody produces a deterministic representation of the body.
// JSON bodies are re-serialized with object keys sorted; anything else
// is hashed as-is.
func canonicalBody(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body, nil
	}
	return canonicalize(v)
}

// canonicalize renders v as JSON with object keys in sorted order.
func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := []byte("{")
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := canonicalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		return append(out, '}'), nil

	case []any:
		out := []byte("[")
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			vb, err := canonicalize(item)
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		return append(out, ']'), nil

	default:
		return json.Marshal(v)
	}
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)

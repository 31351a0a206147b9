package apierr

import (
	"encoding/json"
	"net/http"

	"github.com/jonwraymond/httpkit/transport"
)

// ValidationResolver extracts field-level and flat validation messages
// from a response body. Implementations must tolerate arbitrary JSON.
type ValidationResolver func(body []byte) (fields map[string][]string, messages []string)

// Classify maps a failed exchange to a typed record.
//
// err non-nil means no response was produced and the record is
// KindNetwork. Otherwise the status code decides the kind. resolve may
// be nil, in which case DefaultValidationResolver is used.
func Classify(resp *transport.Response, err error, resolve ValidationResolver) *Error {
	if err != nil {
		e := &Error{Kind: KindNetwork, Cause: err}
		if te, ok := transport.AsError(err); ok {
			e.Messages = []string{te.Kind.String() + " error"}
		}
		return e
	}
	if resolve == nil {
		resolve = DefaultValidationResolver
	}

	e := &Error{StatusCode: resp.StatusCode}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case http.StatusForbidden:
		e.Kind = KindForbidden
	case http.StatusInternalServerError, http.StatusBadGateway:
		e.Kind = KindServer
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		e.Kind = KindValidation
		e.Fields, e.Messages = resolve(resp.Body)
	default:
		e.Kind = KindBase
	}
	return e
}

// DefaultValidationResolver reads a "validationErrors" map and a flat
// "errors" list from a JSON body. Map values may be a single string or
// a list of strings; anything else is ignored.
func DefaultValidationResolver(body []byte) (map[string][]string, []string) {
	var payload struct {
		ValidationErrors map[string]any `json:"validationErrors"`
		Errors           []any          `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil
	}

	var fields map[string][]string
	if len(payload.ValidationErrors) > 0 {
		fields = make(map[string][]string, len(payload.ValidationErrors))
		for name, raw := range payload.ValidationErrors {
			if msgs := asStrings(raw); len(msgs) > 0 {
				fields[name] = msgs
			}
		}
	}

	var messages []string
	for _, raw := range payload.Errors {
		if s, ok := raw.(string); ok {
			messages = append(messages, s)
		}
	}
	return fields, messages
}

func asStrings(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

package broker

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// The Breeze API wraps every payload in the same envelope, but the value
// under "Success" varies by endpoint and sometimes by result count: a
// single object, a list of objects, null, or the string "null". Normalize
// is the single point that absorbs all of those shapes so downstream code
// always sees a flat slice of records.

// Result is the uniform view of one API response.
type Result[T any] struct {
	OK      bool
	Message string
	Records []T
}

// First returns the first record, or the zero value when none decoded.
func (r Result[T]) First() T {
	if len(r.Records) > 0 {
		return r.Records[0]
	}
	var zero T
	return zero
}

type envelope struct {
	Success json.RawMessage `json:"Success"`
	Status  int             `json:"Status"`
	Error   json.RawMessage `json:"Error"`
}

// Normalize unwraps a raw response body into a Result. It never returns
// an error: a failed envelope yields zero records with the upstream
// message, and a malformed or unexpectedly shaped payload yields an
// empty record slice.
func Normalize[T any](raw []byte) Result[T] {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result[T]{Message: "malformed response"}
	}

	msg := decodeMessage(env.Error)
	if env.Status != http.StatusOK || msg != "" {
		if msg == "" {
			msg = "request failed"
		}
		return Result[T]{Message: msg}
	}

	var records singleOrArray[T]
	// The custom unmarshaler absorbs shape surprises; the error path is
	// unreachable but kept for the json.Unmarshaler contract.
	_ = json.Unmarshal(env.Success, &records)

	return Result[T]{OK: true, Records: []T(records)}
}

// singleOrArray accepts either a single JSON object or an array of them.
// Anything else (null, "null", scalars, undecodable rows) decodes to an
// empty slice.
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`"null"`)) {
		return nil
	}
	switch b[0] {
	case '[':
		var list []T
		if err := json.Unmarshal(b, &list); err != nil {
			return nil
		}
		*s = list
	case '{':
		var one T
		if err := json.Unmarshal(b, &one); err != nil {
			return nil
		}
		*s = append(*s, one)
	}
	return nil
}

// decodeMessage extracts a human-readable message from the envelope's
// Error field, which may be null, a string, or a structured object.
func decodeMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

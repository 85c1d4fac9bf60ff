package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnsupported is returned by adapters for operations their backend
	// cannot perform.
	ErrUnsupported = errors.New("operation not supported by backend")

	// ErrNotFound is returned when a model name does not resolve.
	ErrNotFound = errors.New("model not found")
)

// Error is the normalized failure of a backend call. Transport errors carry
// the underlying error in Err; backend-reported failures carry the HTTP
// status (0 for success:false replies) and the extracted message.
type Error struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("server returned %d: %s", e.Status, msg)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Message returns the most specific human-readable text for err, without
// the operation prefix.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		if be.Message != "" {
			return be.Message
		}
		if be.Err != nil {
			return be.Err.Error()
		}
	}
	return err.Error()
}

// wrap normalizes err into an *Error for op. Errors that are already
// normalized keep their status and message.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		out := *be
		if out.Op == "" {
			out.Op = op
		}
		return &out
	}
	return &Error{Op: op, Message: err.Error(), Err: err}
}

// statusError builds the error for a non-2xx reply.
func statusError(status int, body []byte) *Error {
	return &Error{Status: status, Message: extractMessage(body, http.StatusText(status))}
}

// extractMessage pulls the most specific message out of an error body.
// It understands {"error": "..."}, {"error": {"message": "..."}},
// {"message": "..."} and {"detail": "..."}; anything else is returned as
// trimmed text, or as the compact JSON of the object.
func extractMessage(body []byte, fallback string) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fallback
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		var s string
		if json.Unmarshal(body, &s) == nil && s != "" {
			return s
		}
		return text
	}

	for _, key := range []string{"error", "message", "detail"} {
		if msg := messageFrom(obj[key]); msg != "" {
			return msg
		}
	}

	compact, err := json.Marshal(obj)
	if err != nil {
		return text
	}
	return string(compact)
}

func messageFrom(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		if msg, ok := val["message"].(string); ok {
			return strings.TrimSpace(msg)
		}
		if len(val) > 0 {
			data, _ := json.Marshal(val)
			return string(data)
		}
	}
	return ""
}

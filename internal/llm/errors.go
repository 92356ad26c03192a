package llm

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// RateLimitError means the provider throttled the request. RetryAfter is the
// provider's hint when one was sent, zero otherwise.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// ContextLengthError means the prompt exceeded the model's context window.
// Callers should prune the conversation and retry rather than back off.
type ContextLengthError struct {
	Body string
}

func (e *ContextLengthError) Error() string {
	return "context length exceeded"
}

// ServerError is a 5xx response. Permanent is set for validation and
// template failures that will fail identically on every attempt.
type ServerError struct {
	StatusCode int
	Body       string
	Permanent  bool
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// NetworkError wraps a transport-level failure (connect, read, truncated
// stream) that never produced an HTTP status.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// BadRequestError is a non-retryable 4xx response.
type BadRequestError struct {
	StatusCode int
	Body       string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// contextLengthMarkers are substrings providers use to report prompt
// overflow. Checked case-sensitively against the error body.
var contextLengthMarkers = [][]byte{
	[]byte("context_length_exceeded"),
	[]byte("context length"),
	[]byte("maximum context"),
	[]byte("too many tokens"),
	[]byte("prompt is too long"),
}

// permanent500Markers identify 500s caused by request validation or chat
// template failures. Retrying those wastes the whole backoff budget.
var permanent500Markers = [][]byte{
	[]byte("conversation roles must alternate"),
	[]byte("raise_exception"),
	[]byte("Invalid message"),
	[]byte("invalid role"),
	[]byte("Value is not callable"),
	[]byte("is undefined"),
}

func containsAny(body []byte, markers [][]byte) bool {
	for _, m := range markers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

// ClassifyHTTP turns a non-200 response into the matching typed error.
// retryAfter comes from the Retry-After header, already parsed; zero when
// absent.
func ClassifyHTTP(statusCode int, body []byte, retryAfter time.Duration) error {
	switch {
	case statusCode == 429:
		return &RateLimitError{RetryAfter: retryAfter, Body: string(body)}
	case statusCode == 400 && containsAny(body, contextLengthMarkers):
		return &ContextLengthError{Body: string(body)}
	case statusCode >= 500:
		return &ServerError{
			StatusCode: statusCode,
			Body:       string(body),
			Permanent:  containsAny(body, permanent500Markers),
		}
	default:
		return &BadRequestError{StatusCode: statusCode, Body: string(body)}
	}
}

// IsRetryable reports whether err should consume a generic retry attempt.
// Rate-limit and context-length errors are excluded: they have their own
// recovery paths and never draw from the backoff budget.
func IsRetryable(err error) bool {
	var srv *ServerError
	if errors.As(err, &srv) {
		return !srv.Permanent
	}
	var net *NetworkError
	return errors.As(err, &net)
}

// IsRateLimit reports whether err is a provider throttle response and
// returns the retry-after hint if one was sent.
func IsRateLimit(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsContextLength reports whether err is a prompt overflow.
func IsContextLength(err error) bool {
	var cl *ContextLengthError
	return errors.As(err, &cl)
}

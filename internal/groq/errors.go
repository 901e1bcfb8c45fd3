package groq

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrorType classifies API failures so callers pick the right retry policy.
type ErrorType int

const (
	ErrRateLimit  ErrorType = iota // HTTP 429
	ErrOverloaded                  // HTTP 500, 502, 503
	ErrAuth                        // HTTP 401, 403
	ErrMalformed                   // unparseable or empty response
	ErrTimeout                     // request deadline exceeded
	ErrUnknown                     // anything else
)

// String returns the machine-readable name of the error type.
func (e ErrorType) String() string {
	switch e {
	case ErrRateLimit:
		return "rate_limit"
	case ErrOverloaded:
		return "overloaded"
	case ErrAuth:
		return "auth_error"
	case ErrMalformed:
		return "malformed_response"
	case ErrTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an API failure with its class and metadata.
type ClassifiedError struct {
	Type       ErrorType
	StatusCode int
	Message    string
	RetryAfter time.Duration // only set for rate limit errors
}

func (e *ClassifiedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("groq %s (HTTP %d): %s (retry after %s)", e.Type, e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("groq %s (HTTP %d): %s", e.Type, e.StatusCode, e.Message)
}

// Retryable reports whether the client may retry this failure.
func (e *ClassifiedError) Retryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrTimeout, ErrMalformed:
		return true
	default:
		return false
	}
}

// MaxRetries is the retry budget per error class.
func (e *ClassifiedError) MaxRetries() int {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded:
		return 2
	case ErrMalformed:
		return 2
	case ErrTimeout:
		return 1
	default:
		return 0
	}
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// classifyHTTPError maps a non-200 response to a ClassifiedError.
func classifyHTTPError(resp *http.Response) *ClassifiedError {
	body, _ := io.ReadAll(resp.Body)

	var eb errorBody
	json.Unmarshal(body, &eb) //nolint:errcheck // best-effort parse

	msg := eb.Error.Message
	if msg == "" {
		msg = string(body)
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &ClassifiedError{
			Type:       ErrRateLimit,
			StatusCode: resp.StatusCode,
			Message:    msg,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &ClassifiedError{Type: ErrOverloaded, StatusCode: resp.StatusCode, Message: msg}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &ClassifiedError{Type: ErrAuth, StatusCode: resp.StatusCode, Message: msg}
	default:
		return &ClassifiedError{Type: ErrUnknown, StatusCode: resp.StatusCode, Message: msg}
	}
}

// parseRetryAfter parses the Retry-After header as seconds.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}

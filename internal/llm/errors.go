package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error is the unified error interface returned by the client.
type Error interface {
	error
	StatusCode() int
	Retryable() bool
	RetryAfter() *time.Duration
}

type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + strings.TrimSpace(e.Message)
}
func (e *ConfigurationError) StatusCode() int            { return 0 }
func (e *ConfigurationError) Retryable() bool            { return false }
func (e *ConfigurationError) RetryAfter() *time.Duration { return nil }

type httpErrorBase struct {
	statusCode int
	message    string
	retryable  bool
	retryAfter *time.Duration
}

func (e *httpErrorBase) Error() string {
	msg := strings.TrimSpace(e.message)
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("llm error (status=%d): %s", e.statusCode, msg)
}
func (e *httpErrorBase) StatusCode() int            { return e.statusCode }
func (e *httpErrorBase) Retryable() bool            { return e.retryable }
func (e *httpErrorBase) RetryAfter() *time.Duration { return e.retryAfter }

type InvalidRequestError struct{ httpErrorBase }
type AuthenticationError struct{ httpErrorBase }
type RateLimitError struct{ httpErrorBase }
type ServerError struct{ httpErrorBase }
type ConnectionError struct{ httpErrorBase }
type UnknownHTTPError struct{ httpErrorBase }

// ErrorFromHTTPStatus classifies an HTTP failure. 5xx is retryable, 4xx is
// not; 429 carries its Retry-After when the server sent one.
func ErrorFromHTTPStatus(statusCode int, message string, retryAfter *time.Duration) error {
	base := httpErrorBase{statusCode: statusCode, message: message, retryAfter: retryAfter}
	switch {
	case statusCode == 401 || statusCode == 403:
		return &AuthenticationError{base}
	case statusCode == 429:
		base.retryable = true
		return &RateLimitError{base}
	case statusCode >= 500:
		base.retryable = true
		return &ServerError{base}
	case statusCode >= 400:
		return &InvalidRequestError{base}
	default:
		return &UnknownHTTPError{base}
	}
}

// NewConnectionError wraps a transport-level failure (dial, reset, EOF).
// These are always retryable.
func NewConnectionError(message string) error {
	return &ConnectionError{httpErrorBase{message: message, retryable: true}}
}

// IsRetryable reports whether the client should attempt the request again.
func IsRetryable(err error) bool {
	var le Error
	if errors.As(err, &le) {
		return le.Retryable()
	}
	return false
}

// ParseRetryAfter parses a Retry-After header value: integer seconds or an
// HTTP-date.
func ParseRetryAfter(v string, now time.Time) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

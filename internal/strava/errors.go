package strava

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// DefaultRetryAfter is used when a 429 response carries no usable Retry-After header
const DefaultRetryAfter = 60 * time.Second

// ErrUnauthorized indicates the access token was rejected (HTTP 401)
var ErrUnauthorized = errors.New("unauthorized")

// User-facing messages for classified failures
const (
	msgRateLimited  = "Rate limit exceeded. Please wait before making more requests."
	msgAuthFailed   = "Authentication failed. Please reconnect your Strava account."
	msgTimeout      = "Request timed out. Please try again."
	msgConnection   = "Connection error. Please check your internet connection."
	msgUnavailable  = "Strava service is temporarily unavailable. Please try again later."
	msgStatusFormat = "API error: %d"
)

// RateLimitError is returned for HTTP 429. It is never retried by the client.
type RateLimitError struct {
	RetryAfter time.Duration
	RateLimit  RateLimitInfo
}

func (e *RateLimitError) Error() string {
	return msgRateLimited
}

// RetryAfterSeconds returns RetryAfter in whole seconds
func (e *RateLimitError) RetryAfterSeconds() int {
	return int(e.RetryAfter / time.Second)
}

// AuthError is returned for HTTP 401 and wraps ErrUnauthorized
type AuthError struct {
	Path string
}

func (e *AuthError) Error() string {
	return msgAuthFailed
}

func (e *AuthError) Unwrap() error {
	return ErrUnauthorized
}

// APIError covers every other upstream failure: non-2xx statuses and
// 5xx/transport failures that survived all retry attempts.
// StatusCode is zero for transport failures.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a *RateLimitError
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// IsUnauthorized reports whether err carries ErrUnauthorized
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsNotFound reports whether err is an upstream 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func statusError(code int) *APIError {
	if code >= 500 {
		return &APIError{StatusCode: code, Message: msgUnavailable}
	}
	return &APIError{StatusCode: code, Message: fmt.Sprintf(msgStatusFormat, code)}
}

func transportError(err error) *APIError {
	if isTimeout(err) {
		return &APIError{Message: msgTimeout, Err: err}
	}
	return &APIError{Message: msgConnection, Err: err}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return DefaultRetryAfter
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
		return 0
	}
	return DefaultRetryAfter
}

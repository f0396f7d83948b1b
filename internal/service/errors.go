package service

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joshdurbin/strava-stats/internal/logging"
	"github.com/joshdurbin/strava-stats/internal/strava"
)

// ErrNoSession is returned by session providers when no usable token is stored
var ErrNoSession = errors.New("authentication required")

// Kind classifies a failure for presentation layers
type Kind string

const (
	// KindRateLimited means the caller should wait RetryAfter seconds
	KindRateLimited Kind = "rate_limited"
	// KindUnauthenticated means a fresh token must be obtained out of band
	KindUnauthenticated Kind = "unauthenticated"
	// KindUpstream covers Strava errors, including 5xx and transport failures after retries
	KindUpstream Kind = "upstream_error"
	// KindUnexpected is anything else; details are logged, never returned
	KindUnexpected Kind = "unexpected"
)

const msgUnexpected = "An unexpected error occurred"

// Failure is a classified error safe to show to a caller
type Failure struct {
	Kind       Kind   `json:"type"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
	HTTPStatus int    `json:"-"`
	// StatusCode is the upstream status for KindUpstream, zero for transport failures
	StatusCode int `json:"upstream_status,omitempty"`
}

func (f *Failure) Error() string {
	return f.Message
}

// MarshalJSON always writes retry_after for rate-limited failures, where
// zero means retry now.
func (f *Failure) MarshalJSON() ([]byte, error) {
	type failure Failure
	out := struct {
		*failure
		RetryAfter *int `json:"retry_after,omitempty"`
	}{failure: (*failure)(f)}
	if f.Kind == KindRateLimited || f.RetryAfter > 0 {
		out.RetryAfter = &f.RetryAfter
	}
	return json.Marshal(out)
}

// Classify maps any error from this package into a Failure.
// Unexpected errors are logged here with their original text.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var rle *strava.RateLimitError
	if errors.As(err, &rle) {
		return &Failure{
			Kind:       KindRateLimited,
			Message:    rle.Error(),
			RetryAfter: rle.RetryAfterSeconds(),
			HTTPStatus: http.StatusTooManyRequests,
		}
	}

	if errors.Is(err, strava.ErrUnauthorized) || errors.Is(err, ErrNoSession) {
		msg := err.Error()
		var authErr *strava.AuthError
		if errors.As(err, &authErr) {
			msg = authErr.Error()
		} else if errors.Is(err, ErrNoSession) {
			// wrapped causes such as a rejected refresh grant stay in the logs
			logging.Debug("session unavailable", "error", err.Error())
			msg = ErrNoSession.Error()
		}
		return &Failure{
			Kind:       KindUnauthenticated,
			Message:    msg,
			HTTPStatus: http.StatusUnauthorized,
		}
	}

	var apiErr *strava.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusBadGateway
		if apiErr.StatusCode == http.StatusNotFound {
			status = http.StatusNotFound
		}
		return &Failure{
			Kind:       KindUpstream,
			Message:    apiErr.Message,
			HTTPStatus: status,
			StatusCode: apiErr.StatusCode,
		}
	}

	logging.Error("unexpected error", "error", err.Error())
	return &Failure{
		Kind:       KindUnexpected,
		Message:    msgUnexpected,
		HTTPStatus: http.StatusInternalServerError,
	}
}

package server

import (
	"fmt"

	"github.com/joshdurbin/strava-stats/internal/service"
)

// ErrorCode classifies MCP tool errors for structured error handling
type ErrorCode string

const (
	// ErrInvalidInput indicates invalid or malformed input parameters
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrRateLimited means Strava refused the call; Details says how long to wait
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	// ErrUnauthenticated means the user has to log in again with `strava-stats auth login`
	ErrUnauthenticated ErrorCode = "UNAUTHENTICATED"
	// ErrUpstream covers Strava errors after retries
	ErrUpstream ErrorCode = "UPSTREAM_ERROR"
	// ErrInternalError indicates an unexpected internal error
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// ToolError represents a structured tool error with code, message, and optional details
type ToolError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ToolError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidInputError creates an error for invalid input parameters
func NewInvalidInputError(msg string) *ToolError {
	return &ToolError{Code: ErrInvalidInput, Message: msg}
}

// NewInvalidInputErrorWithDetails creates an error for invalid input with additional details
func NewInvalidInputErrorWithDetails(msg, details string) *ToolError {
	return &ToolError{Code: ErrInvalidInput, Message: msg, Details: details}
}

// toolError converts any service error into a ToolError
func toolError(err error) *ToolError {
	f := service.Classify(err)
	switch f.Kind {
	case service.KindRateLimited:
		return &ToolError{Code: ErrRateLimited, Message: f.Message, Details: fmt.Sprintf("retry after %ds", f.RetryAfter)}
	case service.KindUnauthenticated:
		return &ToolError{Code: ErrUnauthenticated, Message: f.Message, Details: "run 'strava-stats auth login'"}
	case service.KindUpstream:
		te := &ToolError{Code: ErrUpstream, Message: f.Message}
		if f.StatusCode != 0 {
			te.Details = fmt.Sprintf("status=%d", f.StatusCode)
		}
		return te
	default:
		return &ToolError{Code: ErrInternalError, Message: f.Message}
	}
}

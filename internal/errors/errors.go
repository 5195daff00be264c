package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrTimeout          = errors.New("timeout")
	ErrConnectionFailed = errors.New("connection failed")
	ErrRateLimited      = errors.New("rate limited")
	ErrMalformed        = errors.New("malformed response")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInternalError    = errors.New("internal error")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConnection  ErrorType = "connection"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeRateLimited ErrorType = "rate_limited"
	ErrorTypeUpstream    ErrorType = "upstream"
	ErrorTypeMalformed   ErrorType = "malformed"
	ErrorTypeConfig      ErrorType = "config"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeInternal    ErrorType = "internal"
)

// PipelineError is a structured error for calls made by the ingestion and
// analysis pipeline against its external collaborators.
type PipelineError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "fetch_aircraft", "terrain_lookup")
	Source     string // Upstream collaborator (e.g., "airplanes.live", "usgs")
	Err        error  // Underlying error
	StatusCode int    // HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *PipelineError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Source, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *PipelineError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrConnectionFailed:
		return e.Type == ErrorTypeConnection
	case ErrRateLimited:
		return e.Type == ErrorTypeRateLimited
	case ErrMalformed:
		return e.Type == ErrorTypeMalformed
	case ErrInvalidConfig:
		return e.Type == ErrorTypeConfig
	}

	return errors.Is(e.Err, target)
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(errorType ErrorType, op, source string, err error) *PipelineError {
	return &PipelineError{
		Type:      errorType,
		Op:        op,
		Source:    source,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType, err),
	}
}

// WithStatusCode adds HTTP status code to the error
func (e *PipelineError) WithStatusCode(code int) *PipelineError {
	e.StatusCode = code
	if code == 429 {
		e.Type = ErrorTypeRateLimited
	}
	if code >= 500 || code == 429 || code == 408 {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

func isRetryable(errorType ErrorType, err error) bool {
	switch errorType {
	case ErrorTypeConnection, ErrorTypeTimeout, ErrorTypeRateLimited, ErrorTypeUpstream:
		return true
	case ErrorTypeMalformed, ErrorTypeConfig, ErrorTypeNotFound:
		return false
	default:
		if err != nil {
			return !errors.Is(err, ErrMalformed) && !errors.Is(err, ErrInvalidConfig)
		}
		return true
	}
}

// WrapConnectionError wraps a connection error with context
func WrapConnectionError(op, source string, err error) error {
	return NewPipelineError(ErrorTypeConnection, op, source, err)
}

// WrapAPIError wraps a non-2xx upstream response
func WrapAPIError(op, source string, err error, statusCode int) error {
	return NewPipelineError(ErrorTypeUpstream, op, source, err).WithStatusCode(statusCode)
}

// WrapMalformedError wraps a payload that could not be decoded
func WrapMalformedError(op, source string, err error) error {
	return NewPipelineError(ErrorTypeMalformed, op, source, err)
}

// NewNotFoundError reports that an upstream has no data for the request
func NewNotFoundError(op, source string, err error) error {
	return NewPipelineError(ErrorTypeNotFound, op, source, err)
}

// NewConfigError reports a configuration problem detected at startup
func NewConfigError(op string, err error) error {
	return NewPipelineError(ErrorTypeConfig, op, "", err)
}

// ClassifyTransport wraps an error returned by http.Client.Do, separating
// timeouts from other connection failures.
func ClassifyTransport(op, source string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewPipelineError(ErrorTypeTimeout, op, source, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewPipelineError(ErrorTypeTimeout, op, source, err)
	}
	return WrapConnectionError(op, source, err)
}

// IsRetryableError checks if an error is transient
func IsRetryableError(err error) bool {
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Retryable
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrRateLimited)
}

// IsMalformed reports whether err describes an undecodable payload
func IsMalformed(err error) bool {
	return err != nil && errors.Is(err, ErrMalformed)
}

// IsConfigError reports whether err is a startup configuration error
func IsConfigError(err error) bool {
	return err != nil && errors.Is(err, ErrInvalidConfig)
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeInternal.
func TypeOf(err error) ErrorType {
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Type
	}
	return ErrorTypeInternal
}

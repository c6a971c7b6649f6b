package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeQuota       ErrorType = "quota"
	ErrorTypeThrottled   ErrorType = "throttled"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypePolicy      ErrorType = "policy"
	ErrorTypeBudget      ErrorType = "budget"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Class groups error types by how the engine reacts to them.
type Class string

const (
	// ClassTransient errors are retried with backoff inside the component.
	ClassTransient Class = "transient"
	// ClassStrategyFatal errors abandon the current resolution strategy.
	ClassStrategyFatal Class = "strategy_fatal"
	// ClassPermanent errors end processing of a single item.
	ClassPermanent Class = "item_permanent"
	// ClassPolicy errors are security rejections, never retried.
	ClassPolicy Class = "policy"
	// ClassBudget means a caller budget or deadline stopped the work.
	ClassBudget Class = "budget"
)

// Error represents an API error with type information
type Error struct {
	Type       ErrorType
	Message    string
	Code       int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(t ErrorType, code int, message string) *Error {
	return &Error{Type: t, Code: code, Message: message}
}

// Wrap creates a typed error around a cause
func Wrap(t ErrorType, err error, message string) *Error {
	return &Error{Type: t, Message: message, Err: err}
}

func Network(err error, message string) *Error { return Wrap(ErrorTypeNetwork, err, message) }
func Auth(message string) *Error              { return New(ErrorTypeAuth, http.StatusUnauthorized, message) }
func Quota(message string) *Error             { return New(ErrorTypeQuota, http.StatusTooManyRequests, message) }
func Throttled(message string) *Error         { return New(ErrorTypeThrottled, http.StatusTooManyRequests, message) }
func NotFound(message string) *Error          { return New(ErrorTypeNotFound, http.StatusNotFound, message) }
func Policy(message string) *Error            { return New(ErrorTypePolicy, 0, message) }
func Budget(message string) *Error            { return New(ErrorTypeBudget, 0, message) }
func Parsing(err error, message string) *Error {
	return Wrap(ErrorTypeParsing, err, message)
}

// RateLimited creates a rate limit error that carries the server's requested wait.
func RateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{Type: ErrorTypeRateLimit, Code: http.StatusTooManyRequests, Message: message, RetryAfter: retryAfter}
}

// ClassOfType maps an error type onto its handling class
func ClassOfType(t ErrorType) Class {
	switch t {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return ClassTransient
	case ErrorTypeAuth, ErrorTypeQuota, ErrorTypeThrottled:
		return ClassStrategyFatal
	case ErrorTypePolicy:
		return ClassPolicy
	case ErrorTypeBudget:
		return ClassBudget
	default:
		return ClassPermanent
	}
}

// ClassOf returns the handling class for any error. Untyped errors are
// treated as transient, context errors as budget.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassBudget
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return ClassOfType(apiErr.Type)
	}
	return ClassTransient
}

// TypeOf returns the error type of err or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	return ClassOfType(errorType) == ClassTransient
}

func IsStrategyFatal(err error) bool { return ClassOf(err) == ClassStrategyFatal }
func IsPermanent(err error) bool     { return ClassOf(err) == ClassPermanent }
func IsPolicy(err error) bool        { return ClassOf(err) == ClassPolicy }
func IsBudget(err error) bool        { return ClassOf(err) == ClassBudget }

// RetryAfterOf returns the server-requested wait carried by err, if any
func RetryAfterOf(err error) time.Duration {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 408, 429:
		return true
	case 401, 403, 404, 410:
		return false
	default:
		return statusCode >= 500
	}
}

// FromStatus maps a non-2xx HTTP response onto a typed error. Retry-After is
// parsed from the header when present (seconds or HTTP date).
func FromStatus(code int, header http.Header, now time.Time) *Error {
	msg := http.StatusText(code)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return New(ErrorTypeAuth, code, msg)
	case code == http.StatusNotFound || code == http.StatusGone:
		return New(ErrorTypeNotFound, code, msg)
	case code == http.StatusTooManyRequests:
		return RateLimited(msg, ParseRetryAfter(header.Get("Retry-After"), now))
	case code == http.StatusRequestTimeout:
		return New(ErrorTypeNetwork, code, msg)
	case code >= 500:
		return New(ErrorTypeServerError, code, msg)
	default:
		return New(ErrorTypeUnknown, code, msg)
	}
}

// ParseRetryAfter parses a Retry-After header value
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Package errors categorizes failures of the survey pipeline so callers can
// decide whether to retry, skip, or abort.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// Config is a missing or invalid setting. Fatal at initialization.
	Config
	// Network represents DNS and connection failures.
	Network
	// Timeout represents a fetch, navigation, or model call that ran out of time.
	Timeout
	// RateLimit represents 429 responses.
	RateLimit
	// Auth represents 401 and 403 responses.
	Auth
	// NotFound represents 404 responses.
	NotFound
	// ServerError represents 5xx responses.
	ServerError
	// ClientError represents the remaining 4xx responses.
	ClientError
	// Parse represents malformed markup, sitemap XML, or model output.
	Parse
	// Browser represents headless browser failures.
	Browser
	// Input represents a caller supplying unusable arguments.
	Input
	// Orchestration represents an analysis run where no batch succeeded.
	Orchestration
	// Cancelled represents context cancellation.
	Cancelled
)

func (t ErrorType) String() string {
	switch t {
	case Config:
		return "config"
	case Network:
		return "network"
	case Timeout:
		return "timeout"
	case RateLimit:
		return "rate_limit"
	case Auth:
		return "auth"
	case NotFound:
		return "not_found"
	case ServerError:
		return "server_error"
	case ClientError:
		return "client_error"
	case Parse:
		return "parse"
	case Browser:
		return "browser"
	case Input:
		return "input"
	case Orchestration:
		return "orchestration"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether errors of this type are worth another attempt.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case Network, Timeout, RateLimit, ServerError:
		return true
	default:
		return false
	}
}

// SurveyError is a categorized pipeline error.
type SurveyError struct {
	Type       ErrorType
	URL        string
	Operation  string
	Message    string
	Cause      error
	StatusCode int
	Retryable  bool
}

func (e *SurveyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error during %s", e.Type, e.Operation)
	if e.URL != "" {
		fmt.Fprintf(&b, " on %s", e.URL)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

func (e *SurveyError) Unwrap() error {
	return e.Cause
}

// Is matches any *SurveyError of the same type.
func (e *SurveyError) Is(target error) bool {
	t, ok := target.(*SurveyError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// New creates a SurveyError.
func New(errType ErrorType, url, operation, message string, cause error) *SurveyError {
	return &SurveyError{
		Type:      errType,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Retryable: errType.IsRetryable(),
	}
}

// NewConfigError reports a missing or invalid setting.
func NewConfigError(field, message string) *SurveyError {
	return New(Config, "", "configure "+field, message, nil)
}

func NewNetworkError(url, operation string, cause error) *SurveyError {
	return New(Network, url, operation, "network failure", cause)
}

func NewTimeoutError(url, operation string, cause error) *SurveyError {
	return New(Timeout, url, operation, "operation timed out", cause)
}

func NewRateLimitError(url string) *SurveyError {
	err := New(RateLimit, url, "request", "rate limited", nil)
	err.StatusCode = 429
	return err
}

func NewAuthError(url string, statusCode int, message string) *SurveyError {
	err := New(Auth, url, "request", message, nil)
	err.StatusCode = statusCode
	return err
}

func NewNotFoundError(url string) *SurveyError {
	err := New(NotFound, url, "request", "page not found", nil)
	err.StatusCode = 404
	return err
}

func NewServerError(url string, statusCode int, message string) *SurveyError {
	err := New(ServerError, url, "request", message, nil)
	err.StatusCode = statusCode
	return err
}

func NewClientError(url string, statusCode int, message string) *SurveyError {
	err := New(ClientError, url, "request", message, nil)
	err.StatusCode = statusCode
	return err
}

// NewParseError reports output that could not be decoded.
func NewParseError(url, operation string, cause error) *SurveyError {
	return New(Parse, url, operation, "parsing failed", cause)
}

func NewBrowserError(url, operation string, cause error) *SurveyError {
	return New(Browser, url, operation, "browser operation failed", cause)
}

// NewInputError reports unusable caller input.
func NewInputError(operation, message string) *SurveyError {
	return New(Input, "", operation, message, nil)
}

// NewOrchestrationError reports an analysis run with no usable batch.
// cause is typically an errors.Join of every batch failure.
func NewOrchestrationError(operation, message string, cause error) *SurveyError {
	return New(Orchestration, "", operation, message, cause)
}

func NewCancelledError(url, operation string) *SurveyError {
	return New(Cancelled, url, operation, "operation cancelled", nil)
}

// Categorize converts an arbitrary error into a SurveyError.
func Categorize(err error, url string) *SurveyError {
	if err == nil {
		return nil
	}

	var se *SurveyError
	if errors.As(err, &se) {
		return se
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "request")
	}
	if isTimeout(err) {
		return NewTimeoutError(url, "request", err)
	}
	if isNetworkError(err) {
		return NewNetworkError(url, "request", err)
	}
	return New(Unknown, url, "request", err.Error(), err)
}

// CategorizeHTTPStatus maps a non-success status to a SurveyError. Returns
// nil for 1xx-3xx.
func CategorizeHTTPStatus(statusCode int, url string) *SurveyError {
	switch {
	case statusCode == 401:
		return NewAuthError(url, statusCode, "unauthorized")
	case statusCode == 403:
		return NewAuthError(url, statusCode, "forbidden")
	case statusCode == 404:
		return NewNotFoundError(url)
	case statusCode == 429:
		return NewRateLimitError(url)
	case statusCode >= 500:
		return NewServerError(url, statusCode, fmt.Sprintf("server returned %d", statusCode))
	case statusCode >= 400:
		return NewClientError(url, statusCode, fmt.Sprintf("client error %d", statusCode))
	default:
		return nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host")
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *SurveyError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return isTimeout(err) || isNetworkError(err)
}

// IsType reports whether err is a SurveyError of type t.
func IsType(err error, t ErrorType) bool {
	return GetErrorType(err) == t
}

// GetStatusCode extracts the HTTP status code from an error.
func GetStatusCode(err error) int {
	var se *SurveyError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var se *SurveyError
	if errors.As(err, &se) {
		return se.Type
	}
	return Unknown
}

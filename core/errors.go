// Package core provides shared types and utilities for the Observable SDK.
//
// This package contains:
//   - Error types for login flow failures and local API misuse
//   - HTTP error parsing for the Observable API
//   - Logging utilities
//
// Sentinel errors can be matched with errors.Is, and typed errors with
// errors.As:
//
//	ok, err := client.Authorize(ctx)
//	if err != nil {
//	    var tooMany *core.TooManyAttemptsError
//	    if errors.As(err, &tooMany) {
//	        // Credentials were rejected tooMany.Attempts times
//	    }
//	}
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors. Typed errors below report a match with errors.Is.
var (
	ErrInvalidConfiguration  = errors.New("invalid configuration")
	ErrInvalidMethod         = errors.New("invalid request method")
	ErrUnsupportedData       = errors.New("request method does not allow data")
	ErrUnexpectedEntryPoint  = errors.New("unexpected entry point")
	ErrTooManyAttempts       = errors.New("too many attempts")
	ErrCapabilityUnsupported = errors.New("capability not supported")
	ErrUnknownLoginState     = errors.New("unknown login state")
	ErrFlowInProgress        = errors.New("login flow already in progress")
)

// NewConfigurationError wraps ErrInvalidConfiguration with a description.
func NewConfigurationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// InvalidMethodError is returned when a request uses a method other than
// GET, POST or DELETE.
type InvalidMethodError struct {
	Method string
}

func (e *InvalidMethodError) Error() string {
	return fmt.Sprintf("invalid request method %q", e.Method)
}

func (e *InvalidMethodError) Is(target error) bool { return target == ErrInvalidMethod }

// UnsupportedDataError is returned when data is passed to a method that
// cannot carry it (DELETE), or in a shape the method cannot encode.
type UnsupportedDataError struct {
	Method string
	Reason string
}

func (e *UnsupportedDataError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("request method %q does not allow data: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("request method %q does not allow data", e.Method)
}

func (e *UnsupportedDataError) Is(target error) bool { return target == ErrUnsupportedData }

// UnexpectedEntryPointError is returned when the initial login redirect did
// not land on the provider's login page. This usually means the site or
// provider URLs are misconfigured, or the provider is unavailable.
type UnexpectedEntryPointError struct {
	URL string
}

func (e *UnexpectedEntryPointError) Error() string {
	return fmt.Sprintf("unexpected entry point %q", e.URL)
}

func (e *UnexpectedEntryPointError) Is(target error) bool { return target == ErrUnexpectedEntryPoint }

// TooManyAttemptsError is returned when a login phase exhausted its
// attempt budget.
type TooManyAttemptsError struct {
	Phase    string
	Attempts int
}

func (e *TooManyAttemptsError) Error() string {
	return fmt.Sprintf("too many attempts: %s rejected %d times", e.Phase, e.Attempts)
}

func (e *TooManyAttemptsError) Is(target error) bool { return target == ErrTooManyAttempts }

// CapabilityError is returned by credential providers that cannot supply a
// value, such as a non-interactive provider asked for a 2FA token.
type CapabilityError struct {
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("non-interactive provider does not support %s", e.Capability)
}

func (e *CapabilityError) Unwrap() error { return ErrCapabilityUnsupported }

// UnknownLoginStateError is returned when the login flow ended on a page no
// phase recognizes. URL is the effective URL, verbatim.
type UnknownLoginStateError struct {
	URL string
}

func (e *UnknownLoginStateError) Error() string {
	return fmt.Sprintf("unknown login state - ended up on %q", e.URL)
}

func (e *UnknownLoginStateError) Is(target error) bool { return target == ErrUnknownLoginState }

// APIError is returned for HTTP responses with status >= 400.
type APIError struct {
	StatusCode int    `json:"statusCode"`
	Status     string `json:"status"`
	URL        string `json:"url"`
	Message    string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (status: %d)", e.URL, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (status: %d)", e.URL, e.Status, e.StatusCode)
}

// ParseErrorResponse builds an APIError from a failed response. The body is
// passed already read; a JSON {"message": ...} body supplies the message,
// otherwise the first line of a short text body is used.
func ParseErrorResponse(resp *http.Response, body []byte, requestURL string) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		URL:        requestURL,
	}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	text := strings.TrimSpace(string(body))
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) <= 200 && !strings.HasPrefix(text, "<") {
		apiErr.Message = text
	}
	return apiErr
}

// IsRetryableError returns true if the error should trigger a retry.
func IsRetryableError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}

package scraper

import (
	"errors"
	"fmt"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrBadStatus is any other response whose status is not 200 OK.
type ErrBadStatus struct {
	StatusCode int
	Err        error
}

func (e ErrBadStatus) Error() string {
	return fmt.Errorf("bad_status %d: %w", e.StatusCode, e.Err).Error()
}

func (e ErrBadStatus) Unwrap() error {
	return e.Err
}

// ErrHTMLPayload indicates an HTML document where a plain-text report was
// expected: a login, redirect or error page served by a mirror.
type ErrHTMLPayload struct {
	URL string
}

func (e ErrHTMLPayload) Error() string {
	return fmt.Sprintf("html_payload: %s returned an HTML document", e.URL)
}

// ErrCanceled indicates the caller gave up on the request.
type ErrCanceled struct {
	Err error
}

func (e ErrCanceled) Error() string {
	return fmt.Sprintf("request canceled: %v", e.Err)
}

func (e ErrCanceled) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var canceled ErrCanceled
	if errors.As(err, &canceled) {
		return "canceled"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var badStatus ErrBadStatus
	if errors.As(err, &badStatus) {
		return "bad_status"
	}
	var html ErrHTMLPayload
	if errors.As(err, &html) {
		return "html_payload"
	}
	return "other"
}

// ErrorType returns the metrics label for a fetch error.
func ErrorType(err error) string {
	return errorTypeLabel(err)
}

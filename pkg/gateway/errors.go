package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Category buckets an upstream failure for retry decisions and logging.
type Category string

const (
	RateLimit      Category = "RATE_LIMIT"
	Timeout        Category = "TIMEOUT"
	NetworkError   Category = "NETWORK_ERROR"
	InvalidAddress Category = "INVALID_ADDRESS"
	ServerError    Category = "SERVER_ERROR"
	Unknown        Category = "UNKNOWN"
)

// Retryable reports whether a failure of this category is worth another
// attempt. Bad input and unclassifiable failures are not.
func (c Category) Retryable() bool {
	switch c {
	case RateLimit, Timeout, NetworkError, ServerError:
		return true
	}
	return false
}

// Error is a classified upstream failure.
type Error struct {
	Category Category
	Op       string
	Status   int // HTTP status when the upstream answered, 0 otherwise
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Category)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CategoryOf extracts the classification from any error chain.
func CategoryOf(err error) Category {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Category
	}
	return Unknown
}

func classifyStatus(op string, status int, body string) *Error {
	e := &Error{Op: op, Status: status}
	if body != "" {
		e.Err = errors.New(body)
	}
	switch {
	case status == http.StatusTooManyRequests:
		e.Category = RateLimit
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		e.Category = InvalidAddress
	case status >= 500:
		e.Category = ServerError
	default:
		e.Category = Unknown
	}
	return e
}

func classifyErr(op string, err error) *Error {
	e := &Error{Op: op, Err: err}
	var urlErr *url.Error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.Category = Timeout
	case errors.As(err, &urlErr):
		if urlErr.Timeout() {
			e.Category = Timeout
		} else {
			e.Category = NetworkError
		}
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			e.Category = Timeout
		} else {
			e.Category = NetworkError
		}
	default:
		e.Category = Unknown
	}
	return e
}

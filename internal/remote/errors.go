package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error classes for calls to the memory service. Callers test with errors.Is.
var (
	// ErrNetwork means no usable response arrived: dial, reset or read failure.
	ErrNetwork = errors.New("network error")

	// ErrTimeout means the request deadline expired. It is a NetworkError.
	ErrTimeout = fmt.Errorf("%w: timeout", ErrNetwork)

	// ErrRateLimited is an explicit throttling signal (HTTP 429).
	ErrRateLimited = errors.New("rate limited")

	// ErrServerRejected is any other non-2xx transport status.
	ErrServerRejected = errors.New("server rejected request")
)

// StatusError carries a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("memory service error %d: %s", e.Code, e.Body)
}

// Unwrap maps the status onto its error class.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return ErrServerRejected
}

// Retryable reports whether err is a transient failure worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerRejected)
}

// transportError classifies an error returned by http.Client.Do.
func transportError(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
}

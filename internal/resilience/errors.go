package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (429, 5xx, timeouts).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient (status %d): %v", e.StatusCode, e.Err)
	}
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable. statusCode is 0 when no HTTP
// response was involved.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
	"unexpected eof",
	"database is locked",
}

// IsTransient reports whether err is worth retrying: an explicit
// TransientError, a per-call deadline, a network timeout or reset, or an
// open circuit.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCircuitOpen) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is retryable.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 425, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}

// ClassifyHTTP wraps err as transient when statusCode is retryable and
// returns it unchanged otherwise.
func ClassifyHTTP(err error, statusCode int) error {
	if err == nil {
		return nil
	}
	if IsTransientHTTPStatus(statusCode) {
		return NewTransientError(err, statusCode)
	}
	return err
}

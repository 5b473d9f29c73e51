package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped explicit", fmt.Errorf("call: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"eris wrapped explicit", eris.Wrap(NewTransientError(errors.New("x"), 502), "llm"), true},
		{"plain", errors.New("invalid input"), false},
		{"deadline", fmt.Errorf("llm: %w", context.DeadlineExceeded), true},
		{"cancelled", context.Canceled, false},
		{"circuit open", eris.Wrap(ErrCircuitOpen, "anthropic"), true},
		{"connection reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"string pattern", errors.New("read tcp: i/o timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be permanent", code)
		}
	}
}

func TestClassifyHTTP(t *testing.T) {
	base := errors.New("boom")

	if err := ClassifyHTTP(base, 503); !IsTransient(err) {
		t.Error("503 should classify as transient")
	}
	if err := ClassifyHTTP(base, 400); IsTransient(err) {
		t.Error("400 should stay permanent")
	}
	if ClassifyHTTP(nil, 500) != nil {
		t.Error("nil error should stay nil")
	}

	var te *TransientError
	if !errors.As(ClassifyHTTP(base, 429), &te) || te.StatusCode != 429 {
		t.Error("expected status code to be recorded")
	}
}

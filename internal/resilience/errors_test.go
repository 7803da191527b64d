package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 529), true},
		{"wrapped", fmt.Errorf("anthropic: create message: %w", NewTransientError(errors.New("x"), 429)), true},
		{"plain", errors.New("invalid schema"), false},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"pattern", errors.New("read tcp: i/o timeout"), true},
		{"cancelled", context.Canceled, false},
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
			t.Errorf("expected %d not to be transient", code)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	base := errors.New("boom")
	if got := ClassifyStatus(base, 400); got != base {
		t.Errorf("expected unchanged error for 400")
	}
	got := ClassifyStatus(base, 503)
	var te *TransientError
	if !errors.As(got, &te) || te.StatusCode != 503 {
		t.Errorf("expected transient 503, got %v", got)
	}
	if !errors.Is(got, base) {
		t.Error("expected wrapped error to unwrap to base")
	}
	if ClassifyStatus(nil, 503) != nil {
		t.Error("expected nil for nil error")
	}
}

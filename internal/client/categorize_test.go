package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled", context.Canceled, ErrorCategoryCanceled},
		{"invalid API key", ErrInvalidAPIKey, ErrorCategoryInvalidAPIKey},
		{"wrapped invalid API key", fmt.Errorf("openweathermap: %w", ErrInvalidAPIKey), ErrorCategoryInvalidAPIKey},
		{"rate limited", ErrRateLimited, ErrorCategoryRateLimited},
		{"server error", fmt.Errorf("%w: HTTP 503", ErrServerError), ErrorCategoryUpstream5xx},
		{"unexpected status", fmt.Errorf("%w: HTTP 404", ErrUnexpectedStatus), ErrorCategoryUnexpectedStatus},
		{"malformed", fmt.Errorf("openmeteo: %w: eof", ErrMalformedResponse), ErrorCategoryParsing},
		{"circuit open", fmt.Errorf("%w: openmeteo", ErrCircuitOpen), ErrorCategoryCircuitOpen},
		{"exhausted retries keeps cause", fmt.Errorf("exhausted retries: %w", ErrRateLimited), ErrorCategoryRateLimited},
		{"dial error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, ErrorCategoryNetwork},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}

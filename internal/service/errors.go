package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLocationNotFound means the geocoder returned no candidates.
	ErrLocationNotFound = errors.New("location not found")
	// ErrUpstreamFailure means at least one provider failed or timed out.
	ErrUpstreamFailure = errors.New("upstream failure")
	// ErrInvalidDays means a forecast was requested for fewer than one day.
	ErrInvalidDays = errors.New("days must be at least 1")
)

// ProviderFailure describes one provider that did not produce a usable result.
type ProviderFailure struct {
	Provider string
	TimedOut bool
	Err      error
}

func (f ProviderFailure) String() string {
	if f.TimedOut {
		return f.Provider + ": timed out"
	}
	return fmt.Sprintf("%s: %v", f.Provider, f.Err)
}

// UpstreamError is returned when an aggregation fails because of its providers.
// errors.Is matches ErrUpstreamFailure and every provider cause.
type UpstreamError struct {
	Failures []ProviderFailure
}

func (e *UpstreamError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.String()
	}
	return fmt.Sprintf("%v: %s", ErrUpstreamFailure, strings.Join(parts, "; "))
}

func (e *UpstreamError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrUpstreamFailure)
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// Providers returns the names of the failed providers in fan-out order.
func (e *UpstreamError) Providers() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Provider
	}
	return names
}

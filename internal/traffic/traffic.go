// Package traffic keeps a sliding window of request outcomes. It is the single source for the
// overload (admission rejections) and degraded (aggregation error rate) signals on /health.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished request.
type Outcome uint8

const (
	Success Outcome = iota
	Error
	Denied
)

// retention bounds memory; windows longer than this see truncated counts.
const retention = 5 * time.Minute

var defaultTracker = NewTracker()

// Record records an outcome on the process-wide tracker.
func Record(o Outcome) { defaultTracker.Record(o) }

// RequestCount returns successes, errors and denials within the window.
func RequestCount(window time.Duration) int { return defaultTracker.RequestCount(window) }

// DenialCount returns admission rejections within the window.
func DenialCount(window time.Duration) int { return defaultTracker.DenialCount(window) }

// ErrorRate returns (errors, successes+errors) within the window. Denials are excluded.
func ErrorRate(window time.Duration) (errors, total int) { return defaultTracker.ErrorRate(window) }

// Reset clears the process-wide tracker. For tests.
func Reset() { defaultTracker.Reset() }

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker is a time-ordered log of outcomes pruned to the retention period.
type Tracker struct {
	mu     sync.Mutex
	events []event
	now    func() time.Time
}

// NewTracker returns an empty tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Record appends an outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// RequestCount returns the number of outcomes of any kind within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	s, e, d := t.counts(window)
	return s + e + d
}

// DenialCount returns the number of Denied outcomes within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	_, _, d := t.counts(window)
	return d
}

// ErrorRate returns (errorCount, successCount+errorCount) within the window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	s, e, _ := t.counts(window)
	return e, s + e
}

// Reset drops all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

func (t *Tracker) counts(window time.Duration) (success, errs, denied int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	// events are appended in time order; walk back from the newest.
	for i := len(t.events) - 1; i >= 0 && !t.events[i].at.Before(cutoff); i-- {
		switch t.events[i].outcome {
		case Success:
			success++
		case Error:
			errs++
		case Denied:
			denied++
		}
	}
	return success, errs, denied
}

// pruneLocked drops events older than retention. Caller holds t.mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for i < len(t.events) && t.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}

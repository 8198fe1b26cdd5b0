package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kjstillabower/weather-aggregation-service/internal/client"
)

func TestFanOut_SettlesEverySlotInOrder(t *testing.T) {
	fast := newFakeProvider("fast")
	slow := newFakeProvider("slow")
	slow.delay = time.Second
	broken := newFakeProvider("broken")
	brokenErr := errors.New("boom")

	providers := []client.Provider{slow, fast, broken}
	results := fanOut(context.Background(), "test", providers, 30*time.Millisecond,
		func(ctx context.Context, p client.Provider) (int, error) {
			if p == client.Provider(broken) {
				return 0, brokenErr
			}
			if err := p.(*fakeProvider).wait(ctx); err != nil {
				return 0, err
			}
			return 42, nil
		})

	if len(results) != 3 {
		t.Fatalf("len = %d, want 3", len(results))
	}
	if results[0].provider != "slow" || results[0].outcome != outcomeTimedOut {
		t.Errorf("results[0] = %+v, want slow timed out", results[0])
	}
	if results[1].provider != "fast" || results[1].outcome != outcomeOK || results[1].value != 42 {
		t.Errorf("results[1] = %+v, want fast ok 42", results[1])
	}
	if results[2].outcome != outcomeFailed || !errors.Is(results[2].err, brokenErr) {
		t.Errorf("results[2] = %+v, want broken failed", results[2])
	}

	failed := failures(results)
	if len(failed) != 2 || failed[0].Provider != "slow" || !failed[0].TimedOut || failed[1].TimedOut {
		t.Errorf("failures() = %+v", failed)
	}
}

func TestFanOut_FastFailureAfterTimeoutKeepsCause(t *testing.T) {
	slow := newFakeProvider("a")
	slow.delay = time.Second
	broken := newFakeProvider("b")

	for i := 0; i < 20; i++ {
		results := fanOut(context.Background(), "test", []client.Provider{slow, broken}, 30*time.Millisecond,
			func(ctx context.Context, p client.Provider) (int, error) {
				if p == client.Provider(broken) {
					return 0, client.ErrInvalidAPIKey
				}
				return 0, p.(*fakeProvider).wait(ctx)
			})

		if results[0].outcome != outcomeTimedOut {
			t.Fatalf("run %d: results[0] = %+v, want timed out", i, results[0])
		}
		if results[1].outcome != outcomeFailed || !errors.Is(results[1].err, client.ErrInvalidAPIKey) {
			t.Fatalf("run %d: results[1] = %+v, want failed with ErrInvalidAPIKey", i, results[1])
		}

		err := &UpstreamError{Failures: failures(results)}
		if !errors.Is(err, client.ErrInvalidAPIKey) {
			t.Fatalf("run %d: errors.Is(UpstreamError, ErrInvalidAPIKey) = false", i)
		}
	}
}

func TestFanOut_ParentCancelIsFailure(t *testing.T) {
	slow := newFakeProvider("a")
	slow.delay = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	results := fanOut(ctx, "test", []client.Provider{slow}, time.Second,
		func(ctx context.Context, p client.Provider) (int, error) {
			return 0, p.(*fakeProvider).wait(ctx)
		})

	if results[0].outcome != outcomeFailed || !errors.Is(results[0].err, context.Canceled) {
		t.Errorf("results[0] = %+v, want failed with context.Canceled", results[0])
	}
}

func TestFanOut_RunsConcurrently(t *testing.T) {
	var providers []client.Provider
	for _, name := range []string{"a", "b", "c", "d"} {
		p := newFakeProvider(name)
		p.delay = 100 * time.Millisecond
		providers = append(providers, p)
	}

	start := time.Now()
	results := fanOut(context.Background(), "test", providers, time.Second,
		func(ctx context.Context, p client.Provider) (struct{}, error) {
			return struct{}{}, p.(*fakeProvider).wait(ctx)
		})
	elapsed := time.Since(start)

	if failures(results) != nil {
		t.Fatalf("unexpected failures: %+v", failures(results))
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("fan-out took %v; want about max latency, not the sum", elapsed)
	}
}

func TestUpstreamError(t *testing.T) {
	cause := errors.New("HTTP 503")
	err := &UpstreamError{Failures: []ProviderFailure{
		{Provider: "a", TimedOut: true, Err: context.DeadlineExceeded},
		{Provider: "b", Err: cause},
	}}

	if !errors.Is(err, ErrUpstreamFailure) {
		t.Error("errors.Is(ErrUpstreamFailure) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(cause) = false")
	}
	if got, want := err.Error(), "upstream failure: a: timed out; b: HTTP 503"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/kjstillabower/weather-aggregation-service/internal/client"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

type outcome int

const (
	outcomeOK outcome = iota
	outcomeFailed
	outcomeTimedOut
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeTimedOut:
		return "timed_out"
	default:
		return "failed"
	}
}

// providerResult is one provider's settled slot: a value, a failure, or a timeout.
type providerResult[T any] struct {
	provider string
	outcome  outcome
	value    T
	err      error
}

type slot[T any] struct {
	provider string
	ch       chan providerResult[T]
	ctx      context.Context
	cancel   context.CancelFunc
}

// fanOut calls fetch on every provider concurrently, each under its own timeout,
// and returns one result per provider in provider order. It returns once every
// slot has a result or has passed its deadline; stragglers are cancelled and
// their late results discarded.
func fanOut[T any](ctx context.Context, kind string, providers []client.Provider, timeout time.Duration,
	fetch func(context.Context, client.Provider) (T, error)) []providerResult[T] {
	start := time.Now()
	slots := make([]slot[T], len(providers))

	for i, p := range providers {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		// Buffered so a straggler can finish its send after we stop listening.
		ch := make(chan providerResult[T], 1)
		slots[i] = slot[T]{provider: p.Name(), ch: ch, ctx: callCtx, cancel: cancel}

		go func(p client.Provider) {
			v, err := fetch(callCtx, p)
			if err != nil {
				ch <- providerResult[T]{provider: p.Name(), outcome: outcomeFailed, err: err}
				return
			}
			ch <- providerResult[T]{provider: p.Name(), outcome: outcomeOK, value: v}
		}(p)
	}

	results := make([]providerResult[T], len(slots))
	for i, s := range slots {
		results[i] = settle(ctx, s)
		s.cancel()
		observability.FanOutOutcomesTotal.WithLabelValues(s.provider, kind, results[i].outcome.String()).Inc()
	}
	observability.FanOutDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	return results
}

// settle waits for one slot's result or its deadline.
func settle[T any](parent context.Context, s slot[T]) providerResult[T] {
	select {
	case r := <-s.ch:
		return classify(parent, s, r)
	case <-s.ctx.Done():
		select {
		case r := <-s.ch:
			return classify(parent, s, r)
		default:
		}
		if err := parent.Err(); err != nil {
			return providerResult[T]{provider: s.provider, outcome: outcomeFailed, err: err}
		}
		return providerResult[T]{provider: s.provider, outcome: outcomeTimedOut, err: context.DeadlineExceeded}
	}
}

// classify marks a failure as a timeout only when the provider itself gave up
// on the slot deadline. Any other error keeps its cause.
func classify[T any](parent context.Context, s slot[T], r providerResult[T]) providerResult[T] {
	if r.outcome != outcomeFailed || parent.Err() != nil {
		return r
	}
	if errors.Is(r.err, context.DeadlineExceeded) && errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
		r.outcome = outcomeTimedOut
	}
	return r
}

// failures collects non-OK slots; nil means every provider succeeded.
func failures[T any](results []providerResult[T]) []ProviderFailure {
	var out []ProviderFailure
	for _, r := range results {
		if r.outcome == outcomeOK {
			continue
		}
		out = append(out, ProviderFailure{
			Provider: r.provider,
			TimedOut: r.outcome == outcomeTimedOut,
			Err:      r.err,
		})
	}
	return out
}

// Package resilience wraps outbound provider calls in retries and a circuit
// breaker, and keeps per-provider health for the ops endpoints.
package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// RetryPolicy bounds the retries of one call. Transient failures are network
// errors, 5xx and 429 responses.
type RetryPolicy struct {
	Retries uint64
	Initial time.Duration
	Max     time.Duration
}

// DefaultRetryPolicy retries twice, starting at 100ms and capped at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Retries: 2, Initial: 100 * time.Millisecond, Max: 2 * time.Second}
}

// NoRetry makes a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// backOff returns the schedule for one call. Waits requested by the
// provider through Retry-After go to the returned hint, capped at p.Max.
func (p RetryPolicy) backOff(ctx context.Context) (*hintedBackOff, backoff.BackOff) {
	bo := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		bo.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		bo.MaxInterval = p.Max
	}
	bo.MaxElapsedTime = 0

	hinted := &hintedBackOff{BackOff: backoff.WithMaxRetries(bo, p.Retries), max: bo.MaxInterval}
	return hinted, backoff.WithContext(hinted, ctx)
}

// hintedBackOff waits at least as long as the provider asked for.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
	max  time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next != backoff.Stop && b.hint > next {
		next = min(b.hint, b.max)
	}
	b.hint = 0
	return next
}

// BreakerPolicy decides when a provider's circuit opens.
type BreakerPolicy struct {
	// MinRequests and FailureRatio trip the breaker once at least MinRequests
	// calls were made and the failure share reaches FailureRatio.
	MinRequests  uint32
	FailureRatio float64

	// Trip replaces the ratio rule when set.
	Trip func(gobreaker.Counts) bool

	// OpenFor is how long the circuit stays open before probing.
	OpenFor time.Duration

	// Probes is the number of calls let through while half-open.
	Probes uint32
}

// DefaultBreakerPolicy opens after half of at least five calls failed and
// probes again after 30 seconds.
func DefaultBreakerPolicy() BreakerPolicy {
	return BreakerPolicy{
		MinRequests:  5,
		FailureRatio: 0.5,
		OpenFor:      30 * time.Second,
		Probes:       1,
	}
}

func (p BreakerPolicy) readyToTrip(counts gobreaker.Counts) bool {
	if p.Trip != nil {
		return p.Trip(counts)
	}
	if counts.Requests == 0 || counts.Requests < p.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= p.FailureRatio
}

func (p BreakerPolicy) settings(name string, log zerolog.Logger) gobreaker.Settings {
	probes := p.Probes
	if probes == 0 {
		probes = 1
	}
	return gobreaker.Settings{
		Name:         name,
		MaxRequests:  probes,
		Timeout:      p.OpenFor,
		ReadyToTrip:  p.readyToTrip,
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			event := log.Warn()
			if to == gobreaker.StateClosed {
				event = log.Info()
			}
			event.
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
}

// countsAsSuccess keeps throttling and caller cancellation from tripping
// the breaker: the provider answered, or was never really asked.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests
}

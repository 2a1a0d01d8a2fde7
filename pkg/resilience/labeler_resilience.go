// Package resilience provides fault tolerance patterns for external service calls.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig holds configuration for a circuit breaker.
type BreakerConfig struct {
	Name             string        // Name for logging
	MaxRequests      uint32        // Requests allowed through while half-open (default: 3)
	Interval         time.Duration // Cyclic period for clearing counts while closed (default: 60s)
	Timeout          time.Duration // Time spent open before half-open (default: 30s)
	FailureThreshold uint32        // Consecutive failures before opening (default: 5)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// NewBreaker builds a gobreaker circuit breaker that trips after
// FailureThreshold consecutive failures and logs every state change.
func NewBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	def := DefaultBreakerConfig(cfg.Name)
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Interval == 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	threshold := cfg.FailureThreshold

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

// IsOpen reports whether err was produced by an open or saturated breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// RetryPolicy controls Retry.
type RetryPolicy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int
	// Backoff is the pause between attempts.
	Backoff time.Duration
	// Retryable decides whether a failed attempt may be repeated.
	Retryable func(error) bool
}

// Once is the policy used for classify and apply calls: a single retry,
// transient failures only.
func Once(retryable func(error) bool) RetryPolicy {
	return RetryPolicy{Attempts: 2, Backoff: 200 * time.Millisecond, Retryable: retryable}
}

// Retry calls fn until it succeeds, the policy gives up, or ctx is done.
// The last error is returned unchanged.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == p.Attempts || p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if p.Backoff > 0 {
			t := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return err
			case <-t.C:
			}
		} else if ctx.Err() != nil {
			return err
		}
	}
	return err
}

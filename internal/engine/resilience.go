package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RetryConfig configures exponential backoff for transport-level retries.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64 `koanf:"max_retries"`

	InitialInterval     time.Duration `koanf:"initial_interval"`
	MaxInterval         time.Duration `koanf:"max_interval"`
	Multiplier          float64       `koanf:"multiplier"`
	RandomizationFactor float64       `koanf:"randomization_factor"`
}

// DefaultRetryConfig returns the default transport retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:          2,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// newBreaker creates a circuit breaker for one model endpoint. Consecutive
// transport failures trip it open so a dead endpoint fails fast instead of
// burning the backoff budget on every item.
func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// User cancellation is not an endpoint failure.
			return err == nil || canceled(err)
		},
	})
}

// canceled reports whether err stems from caller cancellation rather than
// an endpoint failure.
func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// callWithRetry runs fn through the circuit breaker under bounded
// exponential backoff. A nil error means fn succeeded; any other outcome is
// wrapped in a TransportError carrying op.
func callWithRetry(ctx context.Context, op string, cb *gobreaker.CircuitBreaker, cfg RetryConfig, fn func() error) error {
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		_, err := cb.Execute(func() (interface{}, error) {
			return nil, fn()
		})
		if err == nil {
			return nil
		}

		// Circuit open: retrying immediately cannot help.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if canceled(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval
	policy.Multiplier = cfg.Multiplier
	policy.RandomizationFactor = cfg.RandomizationFactor

	bounded := backoff.WithMaxRetries(policy, cfg.MaxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(bounded, ctx)); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	return nil
}

package resilience

import (
	"math"
	"time"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts       int           // Maximum number of attempts, including the first
	InitialBackoff    time.Duration // Backoff before the second attempt; 0 retries immediately
	MaxBackoff        time.Duration // Maximum backoff duration
	BackoffMultiplier float64       // Multiplier for exponential backoff
}

// SynthesisRetryConfig returns the retry policy for synthesis runs: one
// immediate retry, no backoff. The retry is a mitigation for transient
// engine startup failures; deterministic failures fail identically on the
// second attempt and are surfaced after it.
func SynthesisRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    0,
		MaxBackoff:        0,
		BackoffMultiplier: 1.0,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// IsRetryableError decides whether a failed attempt should be retried
type IsRetryableError func(error) bool

// OnRetryFunc is invoked before each retry attempt with the attempt number
// (2 for the first retry) and the error that triggered it.
type OnRetryFunc func(attempt int, err error)

// Retry executes fn until it succeeds, the attempt budget is exhausted, or
// the predicate declares a failure non-retryable. A nil predicate retries
// every failure.
func Retry(fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError, onRetry OnRetryFunc) error {
	if config == nil {
		config = SynthesisRetryConfig()
	}

	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if attempt > 1 && onRetry != nil {
			onRetry(attempt, lastErr)
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt < config.MaxAttempts && backoff > 0 {
			time.Sleep(backoff)

			backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	return lastErr
}

// CalculateBackoff calculates the backoff duration for a given attempt
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	backoff := time.Duration(float64(initialBackoff) * math.Pow(multiplier, float64(attempt)))
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "scopusharvest/pkg/errors"
	"scopusharvest/pkg/logger"
)

// ErrMaxAttemptsExceeded is wrapped into the error returned once retries run out
var ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")

// Operation performs one attempt. attempt is 1-based.
type Operation func(ctx context.Context, attempt int) error

// OperationWithResult is an Operation that returns a value
type OperationWithResult[T any] func(ctx context.Context, attempt int) (T, error)

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts including the first (0 means unlimited)
	MaxAttempts int
	// Backoff strategy to use when ErrorBackoff is nil
	Backoff BackoffStrategy
	// ErrorBackoff, when set, picks the strategy from the failing error's type
	ErrorBackoff *ErrorTypeBackoff
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each retry wait
	OnRetry func(attempt int, err error, delay time.Duration)
	// Logger for retry attempts
	Logger logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 5,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     DefaultRetryIf,
		Logger:      logger.NewNopLogger(),
	}
}

// DefaultRetryIf retries typed retryable errors only. Context errors and
// quota exhaustion are never retried.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errs.ErrQuotaExhausted) {
		return false
	}
	return errs.IsRetryableError(err)
}

func (c *Config) backoffFor(err error) BackoffStrategy {
	if c.ErrorBackoff != nil {
		return c.ErrorBackoff.ForError(err)
	}
	if c.Backoff != nil {
		return c.Backoff
	}
	return DefaultExponentialBackoff()
}

// Do executes an operation with retry logic
func Do(ctx context.Context, op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if cfg.MaxAttempts > 0 && attempt > cfg.MaxAttempts {
			log.ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   attempt - 1,
				"last_error": lastErr.Error(),
			})
			return fmt.Errorf("%w (%d): %w", ErrMaxAttemptsExceeded, cfg.MaxAttempts, lastErr)
		}

		err := op(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		lastErr = err

		if !retryIf(err) {
			return err
		}

		delay := cfg.backoffFor(err).NextDelay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		log.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"error":        err.Error(),
			"delay":        delay,
			"max_attempts": cfg.MaxAttempts,
		})

		if err := Wait(ctx, delay); err != nil {
			log.WarnWithFields("retry cancelled", map[string]interface{}{
				"attempt": attempt,
				"reason":  err.Error(),
			})
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, op OperationWithResult[T], cfg *Config) (T, error) {
	var result T
	err := Do(ctx, func(ctx context.Context, attempt int) error {
		var opErr error
		result, opErr = op(ctx, attempt)
		return opErr
	}, cfg)
	return result, err
}

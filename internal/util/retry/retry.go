package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// OnRetry is called after a failed attempt that will be retried.
	// attempt is 1-based; delay is the wait before the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Option is a functional option for retry configuration.
type Option func(*Config)

// schedule returns the wait after the given 1-based failed attempt.
type schedule func(cfg *Config, attempt int) time.Duration

// WithExponentialBackoff executes the operation, doubling (by Multiplier) the
// wait after each failure up to MaxDelay. Defaults: 5 retries, 1s initial
// delay, 30s cap.
func WithExponentialBackoff(ctx context.Context, operation func() error, opts ...Option) error {
	cfg := &Config{
		MaxRetries:   5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	return run(ctx, cfg, operation, opts, func(cfg *Config, attempt int) time.Duration {
		delay := cfg.InitialDelay
		for i := 1; i < attempt; i++ {
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				return cfg.MaxDelay
			}
		}
		return min(delay, cfg.MaxDelay)
	})
}

// WithLinearBackoff executes the operation, waiting InitialDelay·n after the
// n-th failure. Defaults: 2 retries (3 attempts), 2s step, no cap.
func WithLinearBackoff(ctx context.Context, operation func() error, opts ...Option) error {
	cfg := &Config{
		MaxRetries:   2,
		InitialDelay: 2 * time.Second,
	}
	return run(ctx, cfg, operation, opts, func(cfg *Config, attempt int) time.Duration {
		delay := cfg.InitialDelay * time.Duration(attempt)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return delay
	})
}

func run(ctx context.Context, cfg *Config, operation func() error, opts []Option, next schedule) error {
	for _, opt := range opts {
		opt(cfg)
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsFatal(err) {
			return fmt.Errorf("fatal error (not retrying): %w", err)
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := next(cfg, attempt+1)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context cancelled after %d attempts: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// WithMaxRetries sets the maximum number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// WithAttempts sets the total number of attempts, first one included.
func WithAttempts(n int) Option {
	return func(c *Config) {
		c.MaxRetries = max(n-1, 0)
	}
}

// WithInitialDelay sets the first wait (exponential) or the step (linear).
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		c.InitialDelay = d
	}
}

// WithMaxDelay caps the wait between attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		c.MaxDelay = d
	}
}

// WithMultiplier sets the exponential backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		c.Multiplier = m
	}
}

// WithOnRetry registers a callback invoked before each wait.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(c *Config) {
		c.OnRetry = fn
	}
}

// FatalError wraps an error to mark it as fatal (non-retryable).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal marks an error as fatal. Neither schedule retries it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal checks if an error is fatal (non-retryable).
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return errors.As(err, &fatalErr)
}

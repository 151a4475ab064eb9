package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestWithExponentialBackoff_Success(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestWithExponentialBackoff_SuccessAfterRetries(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	}, WithInitialDelay(10*time.Millisecond))

	if err != nil {
		t.Errorf("Expected no error after retries, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestWithExponentialBackoff_MaxRetries(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		return errors.New("persistent error")
	}, WithMaxRetries(3), WithInitialDelay(5*time.Millisecond))

	if err == nil {
		t.Fatal("Expected error after max retries, got nil")
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts (1 + 3 retries), got: %d", attempts)
	}
}

func TestWithExponentialBackoff_ContextCancellation(t *testing.T) {
	t.Parallel()
	attempts := 0
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithExponentialBackoff(ctx, func() error {
		attempts++
		return errors.New("error")
	}, WithInitialDelay(10*time.Millisecond))

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before context check, got: %d", attempts)
	}
}

func TestWithExponentialBackoff_FatalError(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		return Fatal(errors.New("host key mismatch"))
	}, WithInitialDelay(10*time.Millisecond))

	if !IsFatal(err) {
		t.Errorf("Expected fatal error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retries for fatal error), got: %d", attempts)
	}
}

func TestWithExponentialBackoff_DelaySchedule(t *testing.T) {
	t.Parallel()
	var delays []time.Duration

	_ = WithExponentialBackoff(context.Background(), func() error {
		return errors.New("error")
	},
		WithMaxRetries(4),
		WithInitialDelay(time.Millisecond),
		WithMaxDelay(4*time.Millisecond),
		WithOnRetry(func(_ int, d time.Duration, _ error) {
			delays = append(delays, d)
		}))

	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond}
	if fmt.Sprint(delays) != fmt.Sprint(want) {
		t.Errorf("delays = %v, want %v", delays, want)
	}
}

func TestWithLinearBackoff_DefaultsToThreeAttempts(t *testing.T) {
	t.Parallel()
	attempts := 0
	var delays []time.Duration

	err := WithLinearBackoff(context.Background(), func() error {
		attempts++
		return errors.New("kubeadm token create: connection refused")
	},
		WithInitialDelay(time.Millisecond),
		WithOnRetry(func(_ int, d time.Duration, _ error) {
			delays = append(delays, d)
		}))

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond}
	if fmt.Sprint(delays) != fmt.Sprint(want) {
		t.Errorf("delays = %v, want %v", delays, want)
	}
}

func TestWithLinearBackoff_SuccessOnSecondAttempt(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := WithLinearBackoff(context.Background(), func() error {
		attempts++
		if attempts == 1 {
			return errors.New("not ready")
		}
		return nil
	}, WithInitialDelay(time.Millisecond))

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got: %d", attempts)
	}
}

func TestWithLinearBackoff_MaxDelayCaps(t *testing.T) {
	t.Parallel()
	var delays []time.Duration

	_ = WithLinearBackoff(context.Background(), func() error {
		return errors.New("error")
	},
		WithAttempts(4),
		WithInitialDelay(2*time.Millisecond),
		WithMaxDelay(3*time.Millisecond),
		WithOnRetry(func(_ int, d time.Duration, _ error) {
			delays = append(delays, d)
		}))

	want := []time.Duration{2 * time.Millisecond, 3 * time.Millisecond, 3 * time.Millisecond}
	if fmt.Sprint(delays) != fmt.Sprint(want) {
		t.Errorf("delays = %v, want %v", delays, want)
	}
}

func TestWithAttempts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		attempts int
		want     int
	}{
		{attempts: 1, want: 1},
		{attempts: 3, want: 3},
		{attempts: 0, want: 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempts=%d", tt.attempts), func(t *testing.T) {
			t.Parallel()
			calls := 0
			_ = WithLinearBackoff(context.Background(), func() error {
				calls++
				return errors.New("error")
			}, WithAttempts(tt.attempts), WithInitialDelay(time.Microsecond))
			if calls != tt.want {
				t.Errorf("calls = %d, want %d", calls, tt.want)
			}
		})
	}
}

func TestFatal(t *testing.T) {
	t.Parallel()
	t.Run("Nil error", func(t *testing.T) {
		t.Parallel()
		if err := Fatal(nil); err != nil {
			t.Errorf("Expected nil, got: %v", err)
		}
	})

	t.Run("Non-nil error", func(t *testing.T) {
		t.Parallel()
		originalErr := errors.New("test error")
		err := Fatal(originalErr)

		if !IsFatal(err) {
			t.Error("Expected error to be fatal")
		}
		if err.Error() != originalErr.Error() {
			t.Errorf("Expected error message %q, got %q", originalErr.Error(), err.Error())
		}
		if !errors.Is(err, originalErr) {
			t.Error("errors.Is should find the wrapped error")
		}
	})

	t.Run("Wrapped fatal error", func(t *testing.T) {
		t.Parallel()
		wrapped := fmt.Errorf("context: %w", Fatal(errors.New("base error")))
		if !IsFatal(wrapped) {
			t.Error("Expected wrapped fatal error to be detected")
		}
	})

	t.Run("Regular error", func(t *testing.T) {
		t.Parallel()
		if IsFatal(errors.New("regular error")) {
			t.Error("Expected non-fatal error")
		}
	})
}

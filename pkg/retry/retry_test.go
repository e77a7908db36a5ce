package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return nil
	}, DefaultConfig())

	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	cfg := Config{MaxRetries: 5, InitialDelay: time.Millisecond, Multiplier: 1.0}

	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, cfg)

	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAndReturnsLastError(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 1.0}

	calls := 0
	lastErr := errors.New("attempt 3")
	err := Do(context.Background(), func() error {
		calls++
		if calls == 3 {
			return lastErr
		}
		return errors.New("earlier")
	}, cfg)

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, lastErr) {
		t.Errorf("expected last error, got %v", err)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryIf = IsRetryable

	calls := 0
	permanent := Permanent(errors.New("bad request"))
	err := Do(context.Background(), func() error {
		calls++
		return permanent
	}, cfg)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent error)", calls)
	}
	if !errors.Is(err, permanent) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestDoRespectsContextCancel(t *testing.T) {
	cfg := Config{MaxRetries: 10, InitialDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, func() error { return errors.New("fail") }, cfg)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestDoWithResult(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 1.0}

	calls := 0
	got, err := DoWithResult(context.Background(), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, cfg)

	if err != nil {
		t.Fatalf("DoWithResult failed: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
}

func TestCalculateDelayBounds(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0,
	}
	cfg.validate()

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{5, time.Second}, // упирается в MaxDelay
	}

	for _, tt := range tests {
		if got := cfg.calculateDelay(tt.attempt); got != tt.expected {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestCalculateDelayJitterWithinRange(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
	cfg.validate()

	for i := 0; i < 100; i++ {
		delay := cfg.calculateDelay(0)
		if delay < 90*time.Millisecond || delay > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±10%% of 100ms", delay)
		}
	}
}

type hintedErr struct{ hint time.Duration }

func (e *hintedErr) Error() string                 { return "rate limited" }
func (e *hintedErr) RetryAfterHint() time.Duration { return e.hint }

func TestHintedDelayOverridesBackoff(t *testing.T) {
	fallback := 100 * time.Millisecond

	if got := hintedDelay(&hintedErr{hint: 3 * time.Second}, fallback); got != 3*time.Second {
		t.Errorf("hinted delay = %v, want 3s", got)
	}
	if got := hintedDelay(&hintedErr{hint: 0}, fallback); got != fallback {
		t.Errorf("zero hint should fall back, got %v", got)
	}
	if got := hintedDelay(errors.New("plain"), fallback); got != fallback {
		t.Errorf("plain error should fall back, got %v", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), true},
		{"permanent", Permanent(errors.New("bad")), false},
		{"wrapped permanent", errors.Join(errors.New("ctx"), Permanent(errors.New("bad"))), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestOnRetryCallback(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 1.0}

	var attempts []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), func() error { return errors.New("fail") }, cfg)

	// Перед последней попыткой callback не вызывается
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}

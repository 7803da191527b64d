package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAttempt_SucceedsOnThirdTry(t *testing.T) {
	var calls atomic.Int32
	cfg := AttemptConfig{MaxAttempts: 3, Timeout: time.Second, Delay: time.Millisecond}

	out := Attempt(context.Background(), cfg, func(_ context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("flaky")
		}
		return "brand", nil
	})

	v, ok := out.Value()
	if !ok {
		t.Fatalf("expected success, got %v", out.Err)
	}
	if v != "brand" {
		t.Errorf("expected brand, got %q", v)
	}
	if out.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", out.Attempts)
	}
}

func TestAttempt_ExhaustedAfterAllAttempts(t *testing.T) {
	var calls atomic.Int32
	delay := 20 * time.Millisecond
	cfg := AttemptConfig{MaxAttempts: 3, Timeout: time.Second, Delay: delay}

	start := time.Now()
	out := Attempt(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("down")
	})
	elapsed := time.Since(start)

	if !out.Exhausted() {
		t.Fatal("expected exhausted outcome")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
	if elapsed < 2*delay {
		t.Errorf("expected at least %v elapsed, got %v", 2*delay, elapsed)
	}
	if !errors.Is(out.Err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", out.Err)
	}
	if got := out.OrElse(42); got != 42 {
		t.Errorf("expected fallback 42, got %d", got)
	}
}

func TestAttempt_ZeroValueIsStillSuccess(t *testing.T) {
	out := Attempt(context.Background(), AttemptConfig{MaxAttempts: 1}, func(_ context.Context) (string, error) {
		return "", nil
	})
	if out.Exhausted() {
		t.Fatal("empty value should not be exhausted")
	}
}

func TestAttempt_PerAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	cfg := AttemptConfig{MaxAttempts: 2, Timeout: 10 * time.Millisecond, Delay: time.Millisecond}

	out := Attempt(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-ctx.Done()
		return "", ctx.Err()
	})
	if !out.Exhausted() {
		t.Fatal("expected exhausted outcome")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestAttempt_TimeoutWaitsForCall(t *testing.T) {
	var returned atomic.Bool
	cfg := AttemptConfig{MaxAttempts: 1, Timeout: 10 * time.Millisecond}

	out := Attempt(context.Background(), cfg, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		returned.Store(true)
		return "", ctx.Err()
	})
	if !out.Exhausted() {
		t.Fatal("expected exhausted outcome")
	}
	if !returned.Load() {
		t.Error("expected the timed-out call to return before Attempt")
	}
}

func TestAttempt_AbandonsCallIgnoringContext(t *testing.T) {
	prev := abandonGrace
	abandonGrace = 10 * time.Millisecond
	t.Cleanup(func() { abandonGrace = prev })

	release := make(chan struct{})
	defer close(release)
	cfg := AttemptConfig{MaxAttempts: 1, Timeout: 10 * time.Millisecond}

	start := time.Now()
	out := Attempt(context.Background(), cfg, func(_ context.Context) (string, error) {
		<-release
		return "late", nil
	})
	if !out.Exhausted() {
		t.Fatal("expected exhausted outcome")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected Attempt to give up within the grace period, took %s", elapsed)
	}
}

func TestAttempt_ParentCancelStopsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	cfg := AttemptConfig{MaxAttempts: 3, Timeout: time.Second, Delay: time.Second}

	out := Attempt(ctx, cfg, func(_ context.Context) (string, error) {
		calls.Add(1)
		cancel()
		return "", errors.New("fail")
	})
	if !out.Exhausted() {
		t.Fatal("expected exhausted outcome")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestFromAttemptConfig(t *testing.T) {
	cfg := FromAttemptConfig(0, 0, -1)
	def := DefaultAttemptConfig()
	if cfg.MaxAttempts != def.MaxAttempts || cfg.Timeout != def.Timeout || cfg.Delay != def.Delay {
		t.Errorf("expected defaults, got %+v", cfg)
	}

	cfg = FromAttemptConfig(5, 10, 0)
	if cfg.MaxAttempts != 5 || cfg.Timeout != 10*time.Second || cfg.Delay != 0 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

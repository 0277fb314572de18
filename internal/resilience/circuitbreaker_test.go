package resilience

import (
	"errors"
	"testing"
	"time"
)

func failingBreaker(t *testing.T, failures int, cfg CircuitBreakerConfig) *CircuitBreaker {
	t.Helper()
	cb := NewCircuitBreaker(cfg)
	for i := 0; i < failures; i++ {
		_ = cb.Execute(func() error { return errTest })
	}
	return cb
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2})
	for i := 0; i < 10; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := failingBreaker(t, 3, CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour})

	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
	err := cb.Execute(func() error {
		t.Fatal("fn must not run while the breaker is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	_ = cb.Execute(func() error { return errTest })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errTest })

	if cb.State() != StateClosed {
		t.Fatalf("state = %s, want closed (success reset the counter)", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := failingBreaker(t, 1, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})

	time.Sleep(20 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.State())
	}

	// A failing probe re-opens immediately.
	_ = cb.Execute(func() error { return errTest })
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open after failed probe", cb.State())
	}
}

func TestCircuitBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	cb := failingBreaker(t, 1, CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})

	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: unexpected error: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %s, want closed after successful probes", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := failingBreaker(t, 5, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %s, want closed after Reset", cb.State())
	}
}

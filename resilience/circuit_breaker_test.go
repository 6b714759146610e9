package resilience

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/mmalkit/errors"
)

var errCapture = fmt.Errorf("encoder stalled")

func tripped(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = cb.Execute(func() error { return errCapture })
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "capture", MaxFailures: 3, Timeout: time.Hour})
	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
	tripped(t, cb, 3)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if called {
		t.Error("open circuit must not run the call")
	}
	if !errors.HasCode(err, errors.ErrCodeUnavailable) || !errors.IsRetryable(err) {
		t.Errorf("expected retryable SERVICE_UNAVAILABLE, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "capture", MaxFailures: 3})
	tripped(t, cb, 2)
	_ = cb.Execute(func() error { return nil })
	if cb.Failures() != 0 {
		t.Errorf("expected failures reset, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "capture", MaxFailures: 1, Timeout: 10 * time.Millisecond})
	tripped(t, cb, 1)
	time.Sleep(20 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed after trial success, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "capture", MaxFailures: 1, Timeout: 10 * time.Millisecond})
	tripped(t, cb, 1)
	time.Sleep(20 * time.Millisecond)
	tripped(t, cb, 1)
	if cb.State() != StateOpen {
		t.Errorf("expected open after trial failure, got %s", cb.State())
	}
}

func TestCircuitBreaker_IsFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "capture",
		MaxFailures: 1,
		IsFailure: func(err error) bool {
			return !errors.HasCode(err, errors.ErrCodeInvalidInput)
		},
	})
	_ = cb.Execute(func() error { return errors.InvalidInput("frames", "must be positive") })
	if cb.State() != StateClosed {
		t.Errorf("caller errors must not trip the circuit, got %s", cb.State())
	}
}

func TestCircuitBreaker_ResetAndCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "capture",
		MaxFailures: 1,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+">"+to.String())
			mu.Unlock()
		},
	})
	tripped(t, cb, 1)
	cb.Reset()
	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Errorf("expected closed and cleared, got %s/%d", cb.State(), cb.Failures())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != "closed>open" || transitions[1] != "open>closed" {
		t.Errorf("unexpected transitions %v", transitions)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("capture"))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(func() error {
				if i%2 == 0 {
					return errCapture
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	_ = cb.State()
}

func TestState_String(t *testing.T) {
	tests := map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d) = %q, want %q", int(s), s.String(), want)
		}
	}
}

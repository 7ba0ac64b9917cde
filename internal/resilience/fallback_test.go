package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestDo_PrimarySuccess(t *testing.T) {
	fg := NewFallbackGroup[string](CircuitBreakerConfig{MaxFailures: 3})
	fg.Add("primary", "p")
	fg.Add("secondary", "s")

	got, err := Do(fg, func(name, v string) (string, error) { return name + "=" + v, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "primary=p" {
		t.Fatalf("got %q, want primary=p", got)
	}
}

func TestDo_Failover(t *testing.T) {
	fg := NewFallbackGroup[string](CircuitBreakerConfig{MaxFailures: 3})
	fg.Add("primary", "p")
	fg.Add("secondary", "s")

	got, err := Do(fg, func(name, v string) (string, error) {
		if name == "primary" {
			return "", errTest
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "s" {
		t.Fatalf("got %q, want s", got)
	}
}

func TestDo_AllFail(t *testing.T) {
	fg := NewFallbackGroup[int](CircuitBreakerConfig{MaxFailures: 3})
	fg.Add("a", 1)
	fg.Add("b", 2)

	_, err := Do(fg, func(string, int) (int, error) { return 0, errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want wrapped errTest", err)
	}
}

func TestDo_Empty(t *testing.T) {
	fg := NewFallbackGroup[int](CircuitBreakerConfig{})
	if _, err := Do(fg, func(string, int) (int, error) { return 1, nil }); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestDo_SkipsOpenBreaker(t *testing.T) {
	fg := NewFallbackGroup[string](CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	fg.Add("primary", "p")
	fg.Add("secondary", "s")

	_, _ = Do(fg, func(name, v string) (string, error) {
		if name == "primary" {
			return "", errTest
		}
		return v, nil
	})
	if fg.Breaker("primary").State() != StateOpen {
		t.Fatal("primary breaker should be open")
	}

	var calls []string
	_, err := Do(fg, func(name, v string) (string, error) {
		calls = append(calls, name)
		return v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 || calls[0] != "secondary" {
		t.Fatalf("calls = %v, want [secondary]", calls)
	}
	if fg.Breaker("missing") != nil {
		t.Error("Breaker(missing) should be nil")
	}
	if fg.Len() != 2 {
		t.Errorf("Len = %d, want 2", fg.Len())
	}
}

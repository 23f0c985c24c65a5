package upstream

import (
	"testing"
	"time"
)

func TestPolicy_LinearDelay(t *testing.T) {
	p := NewPolicy(5*time.Second, 5)

	wants := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		15 * time.Second,
		20 * time.Second,
		25 * time.Second,
	}
	for i, want := range wants {
		attempt := i + 1
		if got := p.Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestPolicy_Budget(t *testing.T) {
	p := NewPolicy(time.Second, 5)

	for attempt := 1; attempt <= 5; attempt++ {
		if !p.ShouldRetry(attempt) {
			t.Errorf("ShouldRetry(%d) = false, want true", attempt)
		}
	}
	if p.ShouldRetry(6) {
		t.Error("ShouldRetry(6) = true, want false")
	}
}

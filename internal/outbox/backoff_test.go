package outbox

import (
	"testing"
	"time"
)

func TestDelaySequence(t *testing.T) {
	// Five consecutive failures produce exactly these windows.
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second, // 80s capped
	}
	for i, w := range want {
		if got := Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDelayCapHolds(t *testing.T) {
	for _, k := range []int{6, 10, 100} {
		if got := Delay(k); got != maxDelay {
			t.Errorf("Delay(%d) = %v, want %v", k, got, maxDelay)
		}
	}
}

func TestDelayZeroRetries(t *testing.T) {
	if got := Delay(0); got != baseDelay {
		t.Errorf("Delay(0) = %v, want %v", got, baseDelay)
	}
}

func TestRetryEligible(t *testing.T) {
	now := time.Now()

	// Never attempted: always eligible.
	if !retryEligible(3, 0, now) {
		t.Error("unattempted row should be eligible")
	}

	// Inside the window.
	last := now.Add(-3 * time.Second).UnixMilli()
	if retryEligible(1, last, now) {
		t.Error("3s elapsed with a 5s window should not be eligible")
	}

	// Window elapsed.
	last = now.Add(-6 * time.Second).UnixMilli()
	if !retryEligible(1, last, now) {
		t.Error("6s elapsed with a 5s window should be eligible")
	}

	// Larger retry counts need larger windows.
	last = now.Add(-15 * time.Second).UnixMilli()
	if retryEligible(3, last, now) {
		t.Error("15s elapsed with a 20s window should not be eligible")
	}
}

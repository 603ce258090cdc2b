package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

func newTestBreaker(threshold int, cooldown time.Duration) *Breaker {
	return New(Config{
		FailureThreshold: threshold,
		OpenCooldown:     cooldown,
	})
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := newTestBreaker(5, time.Minute)

	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
	if !b.Allow() {
		t.Error("Allow() = false, want true while closed")
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := newTestBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		b.Failure()
		if got := b.State(); got != StateClosed {
			t.Fatalf("State() after %d failures = %v, want closed", i+1, got)
		}
	}

	b.Failure()
	if got := b.State(); got != StateOpen {
		t.Errorf("State() after 5 failures = %v, want open", got)
	}
	if b.Allow() {
		t.Error("Allow() = true, want false while open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(5, time.Minute)

	b.Failure()
	b.Failure()
	b.Failure()
	b.Failure()
	b.Success()

	if got := b.Stats().ConsecutiveFailures; got != 0 {
		t.Errorf("ConsecutiveFailures after success = %d, want 0", got)
	}

	// Four more failures should still not trip the breaker.
	for i := 0; i < 4; i++ {
		b.Failure()
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed after counter reset", got)
	}

	b.Failure()
	if got := b.State(); got != StateOpen {
		t.Errorf("State() = %v, want open at threshold", got)
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	b.Failure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %v, want open", got)
	}
	if b.Allow() {
		t.Fatal("Allow() = true before cooldown elapsed")
	}

	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("Allow() = false after cooldown, want probe admitted")
	}
	if got := b.State(); got != StateHalfOpen {
		t.Errorf("State() = %v, want half-open", got)
	}
}

func TestBreaker_SingleProbeWhileHalfOpen(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	b.Failure()
	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("first Allow() after cooldown = false, want true")
	}

	// While the probe is in flight everyone else is rejected.
	for i := 0; i < 10; i++ {
		if b.Allow() {
			t.Fatal("Allow() admitted a second request during the probe")
		}
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	b.Failure()
	time.Sleep(20 * time.Millisecond)
	b.Allow()
	b.Success()

	if got := b.State(); got != StateClosed {
		t.Errorf("State() after successful probe = %v, want closed", got)
	}
	if got := b.Stats().ConsecutiveFailures; got != 0 {
		t.Errorf("ConsecutiveFailures after successful probe = %d, want 0", got)
	}
	if !b.Allow() {
		t.Error("Allow() = false after recovery, want true")
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b := newTestBreaker(1, 50*time.Millisecond)

	b.Failure()
	time.Sleep(60 * time.Millisecond)
	b.Allow()
	b.Failure()

	if got := b.State(); got != StateOpen {
		t.Fatalf("State() after failed probe = %v, want open", got)
	}

	// The cooldown restarts from the probe failure, so a request
	// immediately after must be rejected.
	if b.Allow() {
		t.Error("Allow() = true right after failed probe, want fresh cooldown")
	}
}

func TestBreaker_ReleaseFreesProbeSlot(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	b.Failure()
	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("Allow() = false after cooldown, want probe admitted")
	}
	if b.Allow() {
		t.Fatal("Allow() admitted a second request during the probe")
	}

	// The admitted request ends without an upstream outcome, e.g. the
	// client disconnected before the upstream answered.
	b.Release()

	if !b.Allow() {
		t.Fatal("Allow() = false after release, want slot handed to the next request")
	}
	b.Success()
	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed after the replacement probe succeeds", got)
	}
}

func TestBreaker_ReleaseOutsideHalfOpenIsNoOp(t *testing.T) {
	b := newTestBreaker(2, time.Minute)

	b.Failure()
	b.Release()
	if got := b.Stats().ConsecutiveFailures; got != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1 (release is not a success)", got)
	}

	b.Failure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %v, want open", got)
	}
	b.Release()
	if b.Allow() {
		t.Error("Allow() = true, release must not bypass the cooldown")
	}
}

func TestBreaker_LateSuccessWhileOpenIgnored(t *testing.T) {
	b := newTestBreaker(1, time.Minute)

	b.Failure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %v, want open", got)
	}

	// A request forwarded before the breaker tripped reports back.
	b.Success()

	if got := b.State(); got != StateOpen {
		t.Errorf("State() after late success = %v, want still open", got)
	}
	if b.Allow() {
		t.Error("Allow() = true, late success must not bypass cooldown")
	}
}

func TestBreaker_RemainingCooldown(t *testing.T) {
	b := newTestBreaker(1, time.Minute)

	if got := b.RemainingCooldown(); got != 0 {
		t.Errorf("RemainingCooldown() while closed = %v, want 0", got)
	}

	b.Failure()
	remaining := b.RemainingCooldown()
	if remaining <= 0 || remaining > time.Minute {
		t.Errorf("RemainingCooldown() = %v, want within (0, 1m]", remaining)
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []State

	b := New(Config{
		FailureThreshold: 1,
		OpenCooldown:     10 * time.Millisecond,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
	})

	b.Failure()
	time.Sleep(20 * time.Millisecond)
	b.Allow()
	b.Success()

	// Callbacks run in goroutines.
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(transitions)
		mu.Unlock()
		if n == 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("got %d transitions %v, want %v", len(transitions), transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_ConcurrentFailuresOpenOnce(t *testing.T) {
	var mu sync.Mutex
	opens := 0

	b := New(Config{
		FailureThreshold: 5,
		OpenCooldown:     time.Minute,
		OnStateChange: func(from, to State) {
			if to == StateOpen {
				mu.Lock()
				opens++
				mu.Unlock()
			}
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Failure()
		}()
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if opens != 1 {
		t.Errorf("open transitions = %d, want exactly 1", opens)
	}
	if got := b.State(); got != StateOpen {
		t.Errorf("State() = %v, want open", got)
	}
}

func TestBreaker_ConcurrentAllowSingleProbe(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	b.Failure()
	time.Sleep(20 * time.Millisecond)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("admitted = %d, want exactly one half-open probe", admitted)
	}
}

package security

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRateLimiterEnforcesWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(map[string]Limit{
		"command.execute": {Requests: 2, Window: time.Minute},
	})
	rl.now = func() time.Time { return now }

	if err := rl.Allow("a1", "command.execute"); err != nil {
		t.Fatal(err)
	}
	if err := rl.Allow("a1", "command.execute"); err != nil {
		t.Fatal(err)
	}

	err := rl.Allow("a1", "command.execute")
	var rv *RateLimitViolation
	if !errors.As(err, &rv) {
		t.Fatalf("expected *RateLimitViolation, got %v", err)
	}
	if rv.RetryAfter <= 0 || rv.RetryAfter > time.Minute {
		t.Fatalf("unexpected RetryAfter: %v", rv.RetryAfter)
	}

	// Another agent has its own counter.
	if err := rl.Allow("a2", "command.execute"); err != nil {
		t.Fatalf("separate agent limited: %v", err)
	}
	// Another action has its own counter too.
	if err := rl.Allow("a1", "channel.publish"); err != nil {
		t.Fatalf("separate action limited: %v", err)
	}

	// The window rolling over clears the counter.
	now = now.Add(time.Minute)
	if err := rl.Allow("a1", "command.execute"); err != nil {
		t.Fatalf("expected fresh window, got %v", err)
	}
}

func TestRateLimiterState(t *testing.T) {
	rl := NewRateLimiter(nil)
	if _, ok := rl.State("a", "x"); ok {
		t.Fatal("expected no state before first Allow")
	}
	rl.Allow("a", "x")
	rl.Allow("a", "x")
	st, ok := rl.State("a", "x")
	if !ok || st.Count != 2 {
		t.Fatalf("unexpected state: %+v ok=%v", st, ok)
	}
}

func TestRateLimiterConcurrentIncrements(t *testing.T) {
	rl := NewRateLimiter(map[string]Limit{
		"act": {Requests: 100, Window: time.Hour},
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	denied := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Allow("agent", "act"); err != nil {
				mu.Lock()
				denied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if denied != 100 {
		t.Fatalf("denied = %d, want exactly 100", denied)
	}
	st, _ := rl.State("agent", "act")
	if st.Count != 100 {
		t.Fatalf("Count = %d, want 100", st.Count)
	}
}

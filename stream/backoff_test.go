package stream

import (
	"testing"
	"time"
)

func TestBackoffSequence(t *testing.T) {
	bo := NewBackoff(time.Second, 30*time.Second)

	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		if got := bo.Next(); got != w {
			t.Fatalf("Next() #%d = %v, want %v", i, got, w)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	bo := NewBackoff(time.Second, 30*time.Second)
	bo.Next()
	bo.Next()
	if bo.Current() != 4*time.Second {
		t.Fatalf("Current() = %v, want 4s", bo.Current())
	}
	bo.Reset()
	if got := bo.Next(); got != time.Second {
		t.Fatalf("Next() after Reset = %v, want 1s", got)
	}
}

func TestBackoffDefaults(t *testing.T) {
	bo := NewBackoff(0, 0)
	if got := bo.Next(); got != DefaultInitialBackoff {
		t.Fatalf("Next() = %v, want default initial", got)
	}
}

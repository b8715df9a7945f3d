package command

import (
	"errors"
	"testing"
	"time"
)

func mustCreate(t *testing.T, tr *Tracker, id string) {
	t.Helper()
	if _, err := tr.Create(id, "agent://host/target"); err != nil {
		t.Fatal(err)
	}
}

func TestReceiptLifecycle(t *testing.T) {
	tr := NewTracker()
	mustCreate(t, tr, "cmd-1")

	r, ok := tr.Get("cmd-1")
	if !ok || r.Status != StatusCommandSent {
		t.Fatalf("after create: %+v", r)
	}
	if r.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not stamped")
	}

	if err := tr.Acknowledge("cmd-1"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Executing("cmd-1"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Complete("cmd-1", ExecResult{Stdout: "ok\n", ExitCode: 0}); err != nil {
		t.Fatal(err)
	}

	r, _ = tr.Get("cmd-1")
	if r.Status != StatusCompleted {
		t.Fatalf("status = %s", r.Status)
	}
	if r.AcknowledgedAt == nil || r.ExecutingAt == nil || r.CompletedAt == nil {
		t.Fatalf("missing timestamps: %+v", r)
	}
	if r.Result == nil || r.Result.Stdout != "ok\n" || r.Result.ExitCode != 0 {
		t.Fatalf("result = %+v", r.Result)
	}
}

func TestReceiptInvalidTransitions(t *testing.T) {
	cases := []struct {
		name string
		walk []ReceiptStatus // states to reach before the bad move
		move func(*Tracker) error
	}{
		{"sent to executing", nil, func(tr *Tracker) error { return tr.Executing("c") }},
		{"sent to completed", nil, func(tr *Tracker) error { return tr.Complete("c", ExecResult{}) }},
		{"acknowledged to completed", []ReceiptStatus{StatusAcknowledged},
			func(tr *Tracker) error { return tr.Complete("c", ExecResult{}) }},
		{"completed is terminal", []ReceiptStatus{StatusAcknowledged, StatusExecuting, StatusCompleted},
			func(tr *Tracker) error { return tr.Fail("c", "late") }},
		{"failed is terminal", []ReceiptStatus{StatusFailed},
			func(tr *Tracker) error { return tr.Acknowledge("c") }},
		{"failed stays failed", []ReceiptStatus{StatusFailed},
			func(tr *Tracker) error { return tr.Fail("c", "again") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTracker()
			mustCreate(t, tr, "c")
			for _, s := range tc.walk {
				var err error
				switch s {
				case StatusAcknowledged:
					err = tr.Acknowledge("c")
				case StatusExecuting:
					err = tr.Executing("c")
				case StatusCompleted:
					err = tr.Complete("c", ExecResult{})
				case StatusFailed:
					err = tr.Fail("c", "boom")
				}
				if err != nil {
					t.Fatalf("walk to %s: %v", s, err)
				}
			}

			before, _ := tr.Get("c")
			err := tc.move(tr)
			var ite *InvalidTransitionError
			if !errors.As(err, &ite) {
				t.Fatalf("want InvalidTransitionError, got %v", err)
			}
			after, _ := tr.Get("c")
			if after.Status != before.Status {
				t.Fatalf("state mutated on invalid transition: %s -> %s", before.Status, after.Status)
			}
		})
	}
}

func TestReceiptFailFromAnyNonTerminal(t *testing.T) {
	for _, walk := range [][]ReceiptStatus{
		nil,
		{StatusAcknowledged},
		{StatusAcknowledged, StatusExecuting},
	} {
		tr := NewTracker()
		mustCreate(t, tr, "c")
		for _, s := range walk {
			switch s {
			case StatusAcknowledged:
				tr.Acknowledge("c")
			case StatusExecuting:
				tr.Executing("c")
			}
		}
		if err := tr.Fail("c", "boom"); err != nil {
			t.Fatalf("fail from %v: %v", walk, err)
		}
		r, _ := tr.Get("c")
		if r.Status != StatusFailed || r.Error != "boom" || r.FailedAt == nil {
			t.Fatalf("after fail: %+v", r)
		}
	}
}

func TestTrackerUnknownAndDuplicate(t *testing.T) {
	tr := NewTracker()
	if err := tr.Acknowledge("nope"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("want ErrUnknownCommand, got %v", err)
	}
	mustCreate(t, tr, "dup")
	if _, err := tr.Create("dup", "agent://host/x"); err == nil {
		t.Fatal("duplicate create should fail")
	}
	if _, err := tr.Create("", "agent://host/x"); err == nil {
		t.Fatal("empty command id should fail")
	}
}

func TestTrackerGetReturnsCopy(t *testing.T) {
	tr := NewTracker()
	mustCreate(t, tr, "c")
	r, _ := tr.Get("c")
	r.Status = StatusCompleted
	r.CreatedAt = time.Time{}

	fresh, _ := tr.Get("c")
	if fresh.Status != StatusCommandSent || fresh.CreatedAt.IsZero() {
		t.Fatal("caller mutated tracker state through the copy")
	}
}

func TestTerminal(t *testing.T) {
	for s, want := range map[ReceiptStatus]bool{
		StatusCommandSent:  false,
		StatusAcknowledged: false,
		StatusExecuting:    false,
		StatusCompleted:    true,
		StatusFailed:       true,
	} {
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v", s, !want)
		}
	}
}

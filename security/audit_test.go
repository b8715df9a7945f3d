package security

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAuditLoggerAppends(t *testing.T) {
	a := NewAuditLogger(zerolog.Nop())

	a.Record(AuditEntry{Actor: "agent-1", Action: "command.execute", Result: AuditAllowed, Duration: 120 * time.Millisecond})
	a.Record(AuditEntry{Actor: "agent-2", Action: "command.execute", Result: AuditDenied, Detail: "content violation"})

	entries := a.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Actor != "agent-1" || entries[1].Result != AuditDenied {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].At.IsZero() {
		t.Fatal("timestamp should be filled in")
	}

	tail := a.Tail(1)
	if len(tail) != 1 || tail[0].Actor != "agent-2" {
		t.Fatalf("unexpected tail: %+v", tail)
	}
}

func TestAuditLoggerBoundsRetention(t *testing.T) {
	a := NewAuditLogger(zerolog.Nop())
	a.limit = 10
	for i := 0; i < 25; i++ {
		a.Record(AuditEntry{Actor: "a", Action: "x", Result: AuditAllowed})
	}
	if got := len(a.Entries()); got != 10 {
		t.Fatalf("retained = %d, want 10", got)
	}
}

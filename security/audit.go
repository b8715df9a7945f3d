package security

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AuditResult classifies the outcome of a gated operation.
type AuditResult string

const (
	AuditAllowed AuditResult = "allowed"
	AuditDenied  AuditResult = "denied"
	AuditFailed  AuditResult = "failed"
)

// AuditEntry records one gated operation. Entries are append-only; the
// core never mutates or deletes them.
type AuditEntry struct {
	Actor    string        `json:"actor"`
	Action   string        `json:"action"`
	Result   AuditResult   `json:"result"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// defaultAuditTail bounds the in-memory entry window.
const defaultAuditTail = 1024

// AuditLogger appends one entry per gated operation, allowed or denied.
// Record never fails and never blocks the caller on sink trouble: the
// durable sink is zerolog, the in-memory tail exists for inspection.
type AuditLogger struct {
	log zerolog.Logger

	mu      sync.Mutex
	entries []AuditEntry
	limit   int
}

// NewAuditLogger creates an audit logger writing to the given zerolog
// sink.
func NewAuditLogger(log zerolog.Logger) *AuditLogger {
	return &AuditLogger{
		log:   log.With().Str("component", "audit").Logger(),
		limit: defaultAuditTail,
	}
}

// Record appends an entry. The timestamp is filled in when absent.
func (a *AuditLogger) Record(e AuditEntry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	a.log.Info().
		Str("actor", e.Actor).
		Str("action", e.Action).
		Str("result", string(e.Result)).
		Str("detail", e.Detail).
		Dur("duration", e.Duration).
		Time("at", e.At).
		Msg("audit")

	a.mu.Lock()
	a.entries = append(a.entries, e)
	if len(a.entries) > a.limit {
		a.entries = a.entries[len(a.entries)-a.limit:]
	}
	a.mu.Unlock()
}

// Entries returns a copy of the retained entries, oldest first.
func (a *AuditLogger) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Tail returns the most recent n entries.
func (a *AuditLogger) Tail(n int) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > len(a.entries) {
		n = len(a.entries)
	}
	out := make([]AuditEntry, n)
	copy(out, a.entries[len(a.entries)-n:])
	return out
}

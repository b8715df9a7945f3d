// Package command implements remote command execution between agents: a
// sender-side command/receipt API and a receiver-side handler driving a
// strict receipt state machine behind the security gates.
package command

import (
	"fmt"
	"time"
)

// ReceiptStatus is a state in the execution receipt lifecycle.
type ReceiptStatus string

const (
	StatusCommandSent  ReceiptStatus = "command_sent"
	StatusAcknowledged ReceiptStatus = "acknowledged"
	StatusExecuting    ReceiptStatus = "executing"
	StatusCompleted    ReceiptStatus = "completed"
	StatusFailed       ReceiptStatus = "failed"
)

// transitions is the only legal edge set. completed and failed are
// terminal.
var transitions = map[ReceiptStatus][]ReceiptStatus{
	StatusCommandSent:  {StatusAcknowledged, StatusFailed},
	StatusAcknowledged: {StatusExecuting, StatusFailed},
	StatusExecuting:    {StatusCompleted, StatusFailed},
	StatusCompleted:    {},
	StatusFailed:       {},
}

func canTransition(from, to ReceiptStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s ReceiptStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InvalidTransitionError reports a receipt transition outside the state
// table. The tracker never clamps or ignores one.
type InvalidTransitionError struct {
	CommandID string
	From      ReceiptStatus
	To        ReceiptStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for command %q", e.From, e.To, e.CommandID)
}

// ExecResult captures the output of a finished execution.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Receipt is the auditable record of one remote command's lifecycle,
// 1:1 with a command message. Once terminal it never changes again.
type Receipt struct {
	CommandID      string         `json:"command_id"`
	TargetAgent    string         `json:"target_agent"`
	Status         ReceiptStatus  `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ExecutingAt    *time.Time     `json:"executing_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	FailedAt       *time.Time     `json:"failed_at,omitempty"`
	Result         *ExecResult    `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
}

package command

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownCommand is returned for transitions on a command id the
// tracker has never seen.
var ErrUnknownCommand = errors.New("unknown command id")

// Tracker owns the receipt map. All mutation goes through the transition
// methods, which check the state table and set the new state atomically
// per command id; concurrent transitions for the same id race and the
// loser fails loudly with an *InvalidTransitionError.
type Tracker struct {
	mu       sync.Mutex
	receipts map[string]*Receipt
	now      func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		receipts: make(map[string]*Receipt),
		now:      time.Now,
	}
}

// Create registers a new receipt in command_sent.
func (t *Tracker) Create(commandID, targetAgent string) (Receipt, error) {
	if commandID == "" {
		return Receipt{}, fmt.Errorf("command id is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.receipts[commandID]; exists {
		return Receipt{}, fmt.Errorf("receipt for command %q already exists", commandID)
	}
	r := &Receipt{
		CommandID:   commandID,
		TargetAgent: targetAgent,
		Status:      StatusCommandSent,
		CreatedAt:   t.now().UTC(),
	}
	t.receipts[commandID] = r
	return *r, nil
}

// Acknowledge moves command_sent -> acknowledged.
func (t *Tracker) Acknowledge(commandID string) error {
	return t.transition(commandID, StatusAcknowledged, func(r *Receipt, at time.Time) {
		r.AcknowledgedAt = &at
	})
}

// Executing moves acknowledged -> executing.
func (t *Tracker) Executing(commandID string) error {
	return t.transition(commandID, StatusExecuting, func(r *Receipt, at time.Time) {
		r.ExecutingAt = &at
	})
}

// Complete moves executing -> completed, capturing the output.
func (t *Tracker) Complete(commandID string, result ExecResult) error {
	return t.transition(commandID, StatusCompleted, func(r *Receipt, at time.Time) {
		r.CompletedAt = &at
		res := result
		r.Result = &res
	})
}

// Fail moves any non-terminal state -> failed, recording the cause.
func (t *Tracker) Fail(commandID string, cause string) error {
	return t.transition(commandID, StatusFailed, func(r *Receipt, at time.Time) {
		r.FailedAt = &at
		r.Error = cause
	})
}

// Get returns a copy of the receipt.
func (t *Tracker) Get(commandID string) (Receipt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.receipts[commandID]
	if !ok {
		return Receipt{}, false
	}
	return *r, true
}

// transition performs the check-then-set atomically under the lock.
func (t *Tracker) transition(commandID string, to ReceiptStatus, stamp func(*Receipt, time.Time)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.receipts[commandID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, commandID)
	}
	if !canTransition(r.Status, to) {
		return &InvalidTransitionError{CommandID: commandID, From: r.Status, To: to}
	}
	r.Status = to
	stamp(r, t.now().UTC())
	return nil
}

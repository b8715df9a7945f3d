package security

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitViolation reports a (agent, action) pair over its limit.
type RateLimitViolation struct {
	AgentID    string
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitViolation) Error() string {
	return fmt.Sprintf("rate limit exceeded for agent %q action %q, retry in %s",
		e.AgentID, e.Action, e.RetryAfter.Round(time.Millisecond))
}

// Limit is the threshold for one action within a rolling window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitState is the mutable counter for one (agent, action) key.
// It is only mutated by the limiter, under its lock.
type RateLimitState struct {
	WindowStart time.Time
	Count       int
}

// RateLimiter tracks fixed-window counters per (agent, action). Safe for
// concurrent use from multiple handlers.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	deflt   Limit
	states  map[string]*RateLimitState
	now     func() time.Time
}

// DefaultLimit applies to actions without an explicit limit.
var DefaultLimit = Limit{Requests: 30, Window: time.Minute}

// NewRateLimiter creates a limiter with per-action limits.
func NewRateLimiter(limits map[string]Limit) *RateLimiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &RateLimiter{
		limits: limits,
		deflt:  DefaultLimit,
		states: make(map[string]*RateLimitState),
		now:    time.Now,
	}
}

// Allow consumes one unit for the (agent, action) pair, returning a
// *RateLimitViolation once the window's threshold is exceeded.
func (rl *RateLimiter) Allow(agentID, action string) error {
	limit, ok := rl.limits[action]
	if !ok {
		limit = rl.deflt
	}
	if limit.Requests <= 0 {
		return nil // unlimited
	}

	key := agentID + "|" + action
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	st, ok := rl.states[key]
	if !ok || now.Sub(st.WindowStart) >= limit.Window {
		rl.states[key] = &RateLimitState{WindowStart: now, Count: 1}
		return nil
	}

	if st.Count >= limit.Requests {
		return &RateLimitViolation{
			AgentID:    agentID,
			Action:     action,
			RetryAfter: limit.Window - now.Sub(st.WindowStart),
		}
	}
	st.Count++
	return nil
}

// State returns a copy of the current counter for inspection.
func (rl *RateLimiter) State(agentID, action string) (RateLimitState, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	st, ok := rl.states[agentID+"|"+action]
	if !ok {
		return RateLimitState{}, false
	}
	return *st, true
}

package wire

import "time"

// Presence classifies an agent's liveness from heartbeat recency.
type Presence string

const (
	PresenceActive  Presence = "active"
	PresenceIdle    Presence = "idle"
	PresenceOffline Presence = "offline"
)

// Default presence windows. Deployments that want different decay rates
// use PresenceThresholds directly.
const (
	DefaultActiveWindow = 10 * time.Second
	DefaultIdleWindow   = 5 * time.Minute
)

// PresenceThresholds carries the heartbeat-age boundaries between presence
// states.
type PresenceThresholds struct {
	ActiveWindow time.Duration // elapsed <= ActiveWindow => active
	IdleWindow   time.Duration // elapsed <= IdleWindow => idle
}

// DefaultThresholds returns the standard presence windows.
func DefaultThresholds() PresenceThresholds {
	return PresenceThresholds{ActiveWindow: DefaultActiveWindow, IdleWindow: DefaultIdleWindow}
}

// DerivePresence classifies a heartbeat against the default thresholds.
// A zero heartbeat means the agent never reported in and is offline.
func DerivePresence(heartbeatAt, now time.Time) Presence {
	return DefaultThresholds().Derive(heartbeatAt, now)
}

// Derive classifies a heartbeat against these thresholds.
func (t PresenceThresholds) Derive(heartbeatAt, now time.Time) Presence {
	if heartbeatAt.IsZero() {
		return PresenceOffline
	}
	elapsed := now.Sub(heartbeatAt)
	switch {
	case elapsed <= t.ActiveWindow:
		return PresenceActive
	case elapsed <= t.IdleWindow:
		return PresenceIdle
	default:
		return PresenceOffline
	}
}

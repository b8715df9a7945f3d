package wire

import "time"

// Agent is a registered agent process. Agents are created on registration
// and never hard-deleted; presence decays to offline when the heartbeat
// goes stale.
type Agent struct {
	ID           string            `json:"id"`
	MachineID    string            `json:"machine_id"`
	SessionID    string            `json:"session_id"`
	SessionName  string            `json:"session_name,omitempty"`
	ProjectPath  string            `json:"project_path,omitempty"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
	HeartbeatAt  time.Time         `json:"heartbeat_at"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// Address returns the agent's own address.
func (a *Agent) Address() Address {
	return AgentAddress(a.MachineID, a.SessionID)
}

// Presence derives the agent's liveness at the given instant. Presence is
// computed, never stored.
func (a *Agent) Presence(now time.Time) Presence {
	return DerivePresence(a.HeartbeatAt, now)
}

// ChannelType classifies a channel by its target scope.
type ChannelType string

const (
	ChannelDirect    ChannelType = "direct"
	ChannelProject   ChannelType = "project"
	ChannelBroadcast ChannelType = "broadcast"
)

// Channel is a named conversation scope with an ordered member list.
type Channel struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      ChannelType       `json:"channel_type"`
	Members   []string          `json:"members,omitempty"`
	CreatedBy string            `json:"created_by,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

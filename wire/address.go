// Package wire defines the agentwire protocol: addresses, presence
// derivation, and the typed message model shared by the agent substrate
// and the relay server.
package wire

import (
	"fmt"
	"strings"
)

// TargetType identifies the kind of destination an Address names.
type TargetType string

const (
	TargetAgent     TargetType = "agent"
	TargetProject   TargetType = "project"
	TargetBroadcast TargetType = "broadcast"
)

// Address is a logical message destination: a single agent session, every
// agent on a machine working in a project, or every agent everywhere.
// Addresses serialize as URI-like strings:
//
//	agent://machine/session
//	project://machine/project
//	broadcast://
type Address struct {
	Type      TargetType
	MachineID string
	SessionID string // agent:// only
	ProjectID string // project:// only
}

// ParseError reports a string that is not a valid address.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Input, e.Reason)
}

// AgentAddress returns the address of a single agent session.
func AgentAddress(machineID, sessionID string) Address {
	return Address{Type: TargetAgent, MachineID: machineID, SessionID: sessionID}
}

// ProjectAddress returns the address of all agents on a machine working in
// a project.
func ProjectAddress(machineID, projectID string) Address {
	return Address{Type: TargetProject, MachineID: machineID, ProjectID: projectID}
}

// BroadcastAddress returns the global broadcast address.
func BroadcastAddress() Address {
	return Address{Type: TargetBroadcast}
}

// ParseAddress parses the wire form of an address. It recognizes exactly
// the agent://, project:// and broadcast:// schemes; anything else yields
// a *ParseError, never a partial address.
func ParseAddress(s string) (Address, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Address{}, &ParseError{Input: s, Reason: "missing scheme separator"}
	}

	switch scheme {
	case "broadcast":
		if rest != "" {
			return Address{}, &ParseError{Input: s, Reason: "broadcast address takes no authority"}
		}
		return BroadcastAddress(), nil

	case "agent":
		machine, session, err := splitAuthority(s, rest)
		if err != nil {
			return Address{}, err
		}
		return AgentAddress(machine, session), nil

	case "project":
		machine, project, err := splitAuthority(s, rest)
		if err != nil {
			return Address{}, err
		}
		return ProjectAddress(machine, project), nil

	default:
		return Address{}, &ParseError{Input: s, Reason: fmt.Sprintf("unknown scheme %q", scheme)}
	}
}

// splitAuthority splits "machine/id" into its two non-empty components.
func splitAuthority(input, rest string) (string, string, error) {
	machine, id, ok := strings.Cut(rest, "/")
	if !ok {
		return "", "", &ParseError{Input: input, Reason: "expected machine/id authority"}
	}
	if machine == "" {
		return "", "", &ParseError{Input: input, Reason: "empty machine id"}
	}
	if id == "" {
		return "", "", &ParseError{Input: input, Reason: "empty authority id"}
	}
	if strings.Contains(id, "/") {
		return "", "", &ParseError{Input: input, Reason: "authority has too many segments"}
	}
	return machine, id, nil
}

// String renders the wire form of the address. It is total for all valid
// addresses and the inverse of ParseAddress.
func (a Address) String() string {
	switch a.Type {
	case TargetAgent:
		return "agent://" + a.MachineID + "/" + a.SessionID
	case TargetProject:
		return "project://" + a.MachineID + "/" + a.ProjectID
	case TargetBroadcast:
		return "broadcast://"
	}
	return ""
}

// Valid reports whether the address has all components its type requires.
func (a Address) Valid() bool {
	switch a.Type {
	case TargetAgent:
		return a.MachineID != "" && a.SessionID != "" &&
			!strings.Contains(a.MachineID, "/") && !strings.Contains(a.SessionID, "/")
	case TargetProject:
		return a.MachineID != "" && a.ProjectID != "" &&
			!strings.Contains(a.MachineID, "/") && !strings.Contains(a.ProjectID, "/")
	case TargetBroadcast:
		return a.MachineID == "" && a.SessionID == "" && a.ProjectID == ""
	}
	return false
}

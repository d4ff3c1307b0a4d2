package models

import "time"

// TeammateStatus represents the current state of a teammate.
//
// State machine: starting → working → idle → stopped. A starting teammate may
// settle directly, and an idle teammate returns to working when a relayed
// message resumes it. Stopped is final.
type TeammateStatus string

const (
	// TeammateStarting indicates the runtime reported the sub-agent.
	TeammateStarting TeammateStatus = "starting"
	// TeammateWorking indicates the sub-agent is producing output.
	TeammateWorking TeammateStatus = "working"
	// TeammateIdle indicates the sub-agent finished a turn.
	TeammateIdle TeammateStatus = "idle"
	// TeammateStopped indicates the sub-agent exited.
	TeammateStopped TeammateStatus = "stopped"
)

// Valid returns true if the status is a known value.
func (s TeammateStatus) Valid() bool {
	switch s {
	case TeammateStarting, TeammateWorking, TeammateIdle, TeammateStopped:
		return true
	default:
		return false
	}
}

// Settled reports whether the teammate counts as done for auto-completion.
func (s TeammateStatus) Settled() bool {
	return s == TeammateIdle || s == TeammateStopped
}

var teammateTransitions = map[TeammateStatus][]TeammateStatus{
	TeammateStarting: {TeammateWorking, TeammateIdle, TeammateStopped},
	TeammateWorking:  {TeammateIdle, TeammateStopped},
	TeammateIdle:     {TeammateWorking, TeammateStopped},
}

// CanTransition reports whether moving from s to next is allowed.
// Staying in the same state is always allowed.
func (s TeammateStatus) CanTransition(next TeammateStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range teammateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Teammate is one sub-agent spawned by the lead.
type Teammate struct {
	// AgentID is the runtime-assigned identifier.
	AgentID string `json:"agent_id"`
	// SessionID is the owning session.
	SessionID string `json:"session_id"`
	// Name is the self-reported display name; empty until the first idle event.
	Name string `json:"name,omitempty"`
	// AgentType is the sub-agent type reported by the runtime.
	AgentType string `json:"agent_type,omitempty"`
	// Status is the current state.
	Status TeammateStatus `json:"status"`
	// TranscriptPath is where the runtime writes the teammate's transcript.
	TranscriptPath string `json:"transcript_path,omitempty"`
	// Output is the cached final output text.
	Output string `json:"output,omitempty"`
	// DiscoveredAt is when the teammate was first seen.
	DiscoveredAt time.Time `json:"discovered_at"`
	// UpdatedAt is when the teammate last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName returns the name, falling back to the agent id.
func (t Teammate) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.AgentID
}

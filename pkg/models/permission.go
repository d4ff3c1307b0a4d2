package models

import "time"

// AskUserTool is the tool the runtime uses to put a question to the operator.
const AskUserTool = "AskUserQuestion"

// PermissionBehavior is the outcome of a permission request.
type PermissionBehavior string

const (
	// PermissionAllow lets the tool call proceed.
	PermissionAllow PermissionBehavior = "allow"
	// PermissionDeny rejects the tool call.
	PermissionDeny PermissionBehavior = "deny"
)

// Valid returns true if the behavior is a known value.
func (b PermissionBehavior) Valid() bool {
	return b == PermissionAllow || b == PermissionDeny
}

// PendingPermission is a single outstanding approval request.
type PendingPermission struct {
	RequestID string         `json:"request_id"`
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	Input     map[string]any `json:"input,omitempty"`
	Rationale string         `json:"rationale,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// IsQuestion reports whether the request is a question for the operator.
func (p PendingPermission) IsQuestion() bool {
	return p.ToolName == AskUserTool
}

// PermissionDecision is the answer delivered back to the runtime.
type PermissionDecision struct {
	Behavior PermissionBehavior `json:"behavior"`
	// Message explains a denial to the runtime.
	Message string `json:"message,omitempty"`
	// UpdatedInput replaces the tool input on allow.
	UpdatedInput map[string]any `json:"updated_input,omitempty"`
}

// Allow returns an allow decision with optional edited input.
func Allow(updated map[string]any) PermissionDecision {
	return PermissionDecision{Behavior: PermissionAllow, UpdatedInput: updated}
}

// Deny returns a deny decision carrying a reason.
func Deny(message string) PermissionDecision {
	return PermissionDecision{Behavior: PermissionDeny, Message: message}
}

// PermissionAudit records how a request was resolved.
type PermissionAudit struct {
	Request    PendingPermission  `json:"request"`
	Decision   PermissionDecision `json:"decision"`
	Forced     bool               `json:"forced,omitempty"`
	Automatic  bool               `json:"automatic,omitempty"`
	ResolvedAt time.Time          `json:"resolved_at"`
}

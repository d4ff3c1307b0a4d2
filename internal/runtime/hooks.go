package runtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

// ErrUnknownHook is returned for hook names the supervisor does not handle.
var ErrUnknownHook = errors.New("unknown hook event")

// HookKind is the runtime's name for a lifecycle hook.
type HookKind string

const (
	HookSubagentStart     HookKind = "SubagentStart"
	HookSubagentStop      HookKind = "SubagentStop"
	HookTeammateIdle      HookKind = "TeammateIdle"
	HookTaskCompleted     HookKind = "TaskCompleted"
	HookPermissionRequest HookKind = "PermissionRequest"
)

// HookKinds lists every hook registered with the runtime.
var HookKinds = []HookKind{
	HookSubagentStart,
	HookSubagentStop,
	HookTeammateIdle,
	HookTaskCompleted,
	HookPermissionRequest,
}

// HookEvent is a lifecycle notification from the runtime.
type HookEvent struct {
	Kind HookKind
	// SessionID is the supervisor session, when the hook command knew it.
	SessionID        string
	RuntimeSessionID string

	AgentID        string
	AgentType      string
	TranscriptPath string
	DisplayName    string

	TaskID       string
	TaskSubject  string
	TeammateName string
}

// PermissionRequest is a tool call awaiting operator approval.
type PermissionRequest struct {
	SessionID        string
	RuntimeSessionID string
	RequestID        string
	ToolName         string
	Input            map[string]any
	Rationale        string
	AgentID          string
}

// Pending converts the request into the gate's representation.
func (r PermissionRequest) Pending() models.PendingPermission {
	return models.PendingPermission{
		RequestID: r.RequestID,
		SessionID: r.SessionID,
		ToolName:  r.ToolName,
		Input:     r.Input,
		Rationale: r.Rationale,
		AgentID:   r.AgentID,
	}
}

// ParseHook decodes a lifecycle hook payload. sessionID is the supervisor
// session passed alongside the payload and may be empty.
func ParseHook(name, sessionID string, payload []byte) (HookEvent, error) {
	kind := HookKind(name)
	switch kind {
	case HookSubagentStart, HookSubagentStop, HookTeammateIdle, HookTaskCompleted:
	case HookPermissionRequest:
		return HookEvent{}, fmt.Errorf("%s is not a lifecycle hook", name)
	default:
		return HookEvent{}, fmt.Errorf("%w: %q", ErrUnknownHook, name)
	}

	m, err := decode(payload)
	if err != nil {
		return HookEvent{}, err
	}

	ev := HookEvent{
		Kind:             kind,
		SessionID:        sessionID,
		RuntimeSessionID: str(m, "session_id"),
		AgentID:          str(m, "agent_id", "agentId"),
		AgentType:        str(m, "agent_type", "agentType", "subagent_type"),
		TranscriptPath:   str(m, "agent_transcript_path", "transcript_path"),
		DisplayName:      str(m, "teammate_name", "agent_name", "display_name", "name"),
		TaskID:           str(m, "task_id", "taskId"),
		TaskSubject:      str(m, "task_subject", "subject"),
		TeammateName:     str(m, "teammate_name", "owner"),
	}

	switch kind {
	case HookSubagentStart, HookSubagentStop:
		if ev.AgentID == "" {
			return HookEvent{}, fmt.Errorf("%s: missing agent_id", name)
		}
	case HookTaskCompleted:
		if ev.TaskID == "" {
			return HookEvent{}, fmt.Errorf("%s: missing task_id", name)
		}
	}
	// Only the stop hook reports the sub-agent's own transcript.
	if kind != HookSubagentStop {
		ev.TranscriptPath = ""
	}
	return ev, nil
}

// ParsePermissionRequest decodes a permission hook payload. A request id is
// generated when the runtime did not supply one.
func ParsePermissionRequest(sessionID string, payload []byte) (PermissionRequest, error) {
	m, err := decode(payload)
	if err != nil {
		return PermissionRequest{}, err
	}

	req := PermissionRequest{
		SessionID:        sessionID,
		RuntimeSessionID: str(m, "session_id"),
		RequestID:        str(m, "request_id", "tool_use_id"),
		ToolName:         str(m, "tool_name"),
		Rationale:        str(m, "rationale", "reason"),
		AgentID:          str(m, "agent_id"),
	}
	if input, ok := m["tool_input"]; ok && input != nil {
		req.Input = cast.ToStringMap(input)
	}
	if req.ToolName == "" {
		return PermissionRequest{}, errors.New("permission request: missing tool_name")
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	return req, nil
}

// HookDecision is the reply a permission hook prints for the runtime.
type HookDecision struct {
	HookSpecificOutput hookOutput `json:"hookSpecificOutput"`
}

type hookOutput struct {
	HookEventName string       `json:"hookEventName"`
	Decision      hookDecision `json:"decision"`
}

type hookDecision struct {
	Behavior     string         `json:"behavior"`
	Message      string         `json:"message,omitempty"`
	UpdatedInput map[string]any `json:"updatedInput,omitempty"`
}

// DecisionReply renders a gate decision in the runtime's hook reply format.
func DecisionReply(d models.PermissionDecision) HookDecision {
	out := hookDecision{Behavior: string(d.Behavior)}
	switch d.Behavior {
	case models.PermissionAllow:
		out.UpdatedInput = d.UpdatedInput
	default:
		out.Behavior = string(models.PermissionDeny)
		out.Message = d.Message
	}
	return HookDecision{HookSpecificOutput: hookOutput{
		HookEventName: string(HookPermissionRequest),
		Decision:      out,
	}}
}

func decode(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode hook payload: %w", err)
	}
	return m, nil
}

// str returns the first key present in m coerced to a string.
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s := cast.ToString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SessionStatus represents the lifecycle state of a supervised session.
type SessionStatus string

const (
	// SessionStarting indicates the runtime has not accepted the session yet.
	SessionStarting SessionStatus = "starting"
	// SessionRunning indicates a runtime invocation is active.
	SessionRunning SessionStatus = "running"
	// SessionCompleted indicates the session finished or was stopped.
	SessionCompleted SessionStatus = "completed"
	// SessionError indicates the runtime failed.
	SessionError SessionStatus = "error"
)

// Valid returns true if the status is a known value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStarting, SessionRunning, SessionCompleted, SessionError:
		return true
	default:
		return false
	}
}

// Active reports whether a runtime invocation may exist for the session.
func (s SessionStatus) Active() bool {
	return s == SessionStarting || s == SessionRunning
}

// PermissionMode controls which tool calls the runtime may run unattended.
type PermissionMode string

const (
	// PermissionAcceptEdits auto-approves file edits and asks for everything else.
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	// PermissionBypass approves every tool call.
	PermissionBypass PermissionMode = "bypassPermissions"
)

// Valid returns true if the mode is a known value.
func (m PermissionMode) Valid() bool {
	return m == PermissionAcceptEdits || m == PermissionBypass
}

// SessionConfig is fixed when the session is created.
type SessionConfig struct {
	// WorkDir is the directory the lead agent runs in.
	WorkDir string `json:"work_dir"`
	// Model is the model identifier passed to the runtime.
	Model string `json:"model,omitempty"`
	// Task is the initial task description given to the lead.
	Task string `json:"task"`
	// TeammateSpecs are teammate definitions offered to the lead.
	TeammateSpecs []TeammateSpec `json:"teammate_specs,omitempty"`
	// SkillSpecs are skill definitions offered to the lead.
	SkillSpecs []SkillSpec `json:"skill_specs,omitempty"`
	// MaxBudgetUSD stops the session once exceeded. Zero disables the ceiling.
	MaxBudgetUSD float64 `json:"max_budget_usd,omitempty"`
	// PermissionMode is the runtime permission mode.
	PermissionMode PermissionMode `json:"permission_mode"`
	// CustomInstructions are appended to the lead's system prompt.
	CustomInstructions string `json:"custom_instructions,omitempty"`
}

// Validate checks the configuration for operator errors.
func (c SessionConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.WorkDir) == "" {
		errs = append(errs, errors.New("work_dir is required"))
	}
	if strings.TrimSpace(c.Task) == "" {
		errs = append(errs, errors.New("task is required"))
	}
	if !c.PermissionMode.Valid() {
		errs = append(errs, fmt.Errorf("unknown permission mode %q", c.PermissionMode))
	}
	if c.MaxBudgetUSD < 0 {
		errs = append(errs, errors.New("max_budget_usd must not be negative"))
	}
	return errors.Join(errs...)
}

// Session is one supervised unit of work.
type Session struct {
	// ID is the supervisor-assigned identifier.
	ID string `json:"id"`
	// RuntimeSessionID is set once the runtime accepts the session.
	RuntimeSessionID string `json:"runtime_session_id,omitempty"`
	// Config is the immutable creation config.
	Config SessionConfig `json:"config"`
	// Status is the current lifecycle state.
	Status SessionStatus `json:"status"`
	// Name is the display name.
	Name string `json:"name"`
	// CostUSD is the accumulated runtime cost.
	CostUSD float64 `json:"cost_usd"`
	// InputTokens is the accumulated input token count.
	InputTokens int64 `json:"input_tokens"`
	// OutputTokens is the accumulated output token count.
	OutputTokens int64 `json:"output_tokens"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the session last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// OverBudget reports whether the spend ceiling has been exceeded.
func (s Session) OverBudget() bool {
	return s.Config.MaxBudgetUSD > 0 && s.CostUSD > s.Config.MaxBudgetUSD
}

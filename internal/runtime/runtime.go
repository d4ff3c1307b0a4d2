// Package runtime defines the agent runtime the supervisor drives and the
// hook events it reports back, plus a binding for the claude CLI.
package runtime

import (
	"context"
	"errors"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

// ErrInterruptTimeout is returned when a graceful interrupt does not end the
// invocation in time.
var ErrInterruptTimeout = errors.New("invocation did not stop after interrupt")

// Runtime starts and resumes lead agent invocations.
type Runtime interface {
	// Start launches a fresh conversation for the lead agent.
	Start(ctx context.Context, req StartRequest) (Invocation, error)
	// Resume continues an existing conversation with a follow-up prompt.
	Resume(ctx context.Context, req ResumeRequest) (Invocation, error)
	// ResumeAgent injects content into a teammate's own conversation and
	// returns once the runtime has accepted it.
	ResumeAgent(ctx context.Context, msg AgentMessage) error
}

// Invocation is one running lead agent turn.
type Invocation interface {
	// Events streams invocation events. The channel is closed when the
	// invocation ends.
	Events() <-chan Event
	// Interrupt asks the invocation to stop and waits until it has, or until
	// ctx is done.
	Interrupt(ctx context.Context) error
	// Abort stops the invocation immediately.
	Abort()
	// Done is closed after the last event has been delivered.
	Done() <-chan struct{}
}

// StartRequest describes a new lead invocation.
type StartRequest struct {
	// SessionID is the supervisor's session id; hook callbacks carry it back.
	SessionID      string
	WorkDir        string
	Model          string
	PermissionMode models.PermissionMode
	Prompt         string
	SystemPrompt   string
}

// ResumeRequest describes a follow-up invocation on an existing conversation.
type ResumeRequest struct {
	StartRequest
	RuntimeSessionID string
}

// AgentMessage is content relayed into a teammate's conversation.
type AgentMessage struct {
	SessionID        string
	RuntimeSessionID string
	WorkDir          string
	AgentID          string
	Content          string
}

// EventKind identifies an invocation event.
type EventKind string

const (
	// EventInit reports the runtime accepted the invocation.
	EventInit EventKind = "init"
	// EventText carries visible lead output.
	EventText EventKind = "text"
	// EventUsage carries cumulative usage for this invocation.
	EventUsage EventKind = "usage"
	// EventResult ends the invocation.
	EventResult EventKind = "result"
	// EventError reports a runtime failure.
	EventError EventKind = "error"
)

// Event is one item on an invocation's stream.
type Event struct {
	Kind EventKind
	// RuntimeSessionID is set on init.
	RuntimeSessionID string
	// Text is set on text and result events.
	Text string
	// CostUSD, InputTokens and OutputTokens are totals for this invocation.
	CostUSD      float64
	InputTokens  int64
	OutputTokens int64
	// IsError marks a result the runtime reported as failed.
	IsError bool
	// Err is set on error events.
	Err error
}

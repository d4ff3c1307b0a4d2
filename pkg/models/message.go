package models

import "time"

// MessageType is the kind of teammate-to-teammate communication.
type MessageType string

const (
	MessageDirect           MessageType = "message"
	MessageBroadcast        MessageType = "broadcast"
	MessageShutdownRequest  MessageType = "shutdown_request"
	MessageShutdownResponse MessageType = "shutdown_response"
)

// Valid returns true if the type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case MessageDirect, MessageBroadcast, MessageShutdownRequest, MessageShutdownResponse:
		return true
	default:
		return false
	}
}

// TeammateMessage is a structured message extracted from agent output.
// Messages are relayed, never persisted.
type TeammateMessage struct {
	Type      MessageType `json:"type"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient,omitempty"`
	Content   string      `json:"content,omitempty"`
	Summary   string      `json:"summary,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Approve   *bool       `json:"approve,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

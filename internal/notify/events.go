// Package notify fans supervisor events out to observers.
package notify

import "time"

// EventType represents the type of notification.
type EventType string

const (
	// EventSnapshot carries the full state; it is the first event of every subscription.
	EventSnapshot EventType = "snapshot"

	EventSessionCreated       EventType = "session_created"
	EventSessionStatusChanged EventType = "session_status_changed"
	EventSessionDeleted       EventType = "session_deleted"
	EventSessionOutput        EventType = "session_output"
	EventSessionRenamed       EventType = "session_renamed"

	EventTeammateDiscovered    EventType = "teammate_discovered"
	EventTeammateStatusChanged EventType = "teammate_status_changed"
	EventTeammateOutputUpdated EventType = "teammate_output_updated"

	EventTaskListSynced EventType = "task_list_synced"
	EventTaskCompleted  EventType = "task_completed"
	EventCostUpdated    EventType = "cost_updated"

	EventPermissionRequested EventType = "permission_requested"
	EventPermissionResolved  EventType = "permission_resolved"

	EventMessageRelayed EventType = "teammate_message_relayed"

	// EventError reports a runtime failure.
	EventError EventType = "error"
)

// Event is one notification.
type Event struct {
	// Seq increases by one per published event.
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Time      time.Time `json:"time"`
}

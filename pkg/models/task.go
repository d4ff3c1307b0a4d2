package models

// TaskStatus represents the current state of a team task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates a teammate is working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task is finished.
	TaskStatusCompleted TaskStatus = "completed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	default:
		return false
	}
}

// TeamTask is one backlog item authored by the lead agent.
// Records live in the lead's task directory and are only partially owned by
// teamlead: the dependency resolver rewrites BlockedBy, nothing else.
type TeamTask struct {
	// ID is the task identifier assigned by the lead.
	ID string `json:"id"`
	// Subject is the short description of the task.
	Subject string `json:"subject"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Owner is the teammate the task is assigned to, if any.
	Owner string `json:"owner,omitempty"`
	// Blocks lists the tasks this one is blocking.
	Blocks []string `json:"blocks,omitempty"`
	// BlockedBy lists the tasks blocking this one.
	BlockedBy []string `json:"blockedBy,omitempty"`
}

// IsBlocked reports whether any task still blocks this one.
func (t TeamTask) IsBlocked() bool {
	return len(t.BlockedBy) > 0
}

// Contains reports whether id appears in ids.
func Contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

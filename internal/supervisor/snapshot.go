package supervisor

import (
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// StatusPayload accompanies session_status_changed.
type StatusPayload struct {
	Session  models.Session       `json:"session"`
	Previous models.SessionStatus `json:"previous"`
}

// OutputPayload accompanies session_output.
type OutputPayload struct {
	Text string `json:"text"`
}

// CostPayload accompanies cost_updated.
type CostPayload struct {
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
}

// ErrorPayload accompanies error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// RenamedPayload accompanies session_renamed.
type RenamedPayload struct {
	Name string `json:"name"`
}

// TasksPayload accompanies task_list_synced.
type TasksPayload struct {
	Tasks []models.TeamTask `json:"tasks"`
}

// TaskCompletedPayload accompanies task_completed.
type TaskCompletedPayload struct {
	TaskID    string   `json:"task_id"`
	Subject   string   `json:"subject,omitempty"`
	Teammate  string   `json:"teammate,omitempty"`
	Unblocked []string `json:"unblocked,omitempty"`
}

// TeammatePayload accompanies teammate events.
type TeammatePayload struct {
	Teammate models.Teammate       `json:"teammate"`
	Previous models.TeammateStatus `json:"previous,omitempty"`
}

// MessagePayload accompanies teammate_message_relayed.
type MessagePayload struct {
	Message    models.TeammateMessage `json:"message"`
	Recipients []string               `json:"recipients"`
}

// SessionView is everything an observer needs to render one session.
type SessionView struct {
	Session     models.Session             `json:"session"`
	Output      string                     `json:"output"`
	Teammates   []models.Teammate          `json:"teammates"`
	Tasks       []models.TeamTask          `json:"tasks"`
	Messages    []models.TeammateMessage   `json:"messages"`
	Permissions []models.PendingPermission `json:"permissions"`
	Audit       []models.PermissionAudit   `json:"audit,omitempty"`
}

// Snapshot is the full state sent to new subscribers.
type Snapshot struct {
	Sessions []SessionView `json:"sessions"`
}

// Snapshot captures every session. It must not be called with s.mu held.
func (s *Supervisor) Snapshot() Snapshot {
	sessions := s.List()
	views := make([]SessionView, 0, len(sessions))
	for _, data := range sessions {
		if v, ok := s.view(data.ID); ok {
			views = append(views, v)
		}
	}
	return Snapshot{Sessions: views}
}

// SessionView returns the full view of one session.
func (s *Supervisor) SessionView(id string) (SessionView, error) {
	v, ok := s.view(id)
	if !ok {
		_, err := s.lookup(id)
		return SessionView{}, err
	}
	return v, nil
}

func (s *Supervisor) view(id string) (SessionView, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.deleted {
		s.mu.Unlock()
		return SessionView{}, false
	}
	v := SessionView{
		Session: sess.data,
		Output:  sess.output,
		Tasks:   append([]models.TeamTask(nil), sess.tasks...),
	}
	s.mu.Unlock()

	v.Teammates = s.registry.Session(id)
	v.Messages = s.router.Log(id)
	v.Permissions = s.gate.Pending(id)
	v.Audit = s.gate.Audit(id)
	return v, true
}

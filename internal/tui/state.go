package tui

import (
	"sort"

	"github.com/ShayCichocki/teamlead/internal/notify"
	"github.com/ShayCichocki/teamlead/internal/supervisor"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// maxMessages bounds the relayed-message panel.
const maxMessages = 10

type sessionRow struct {
	session   models.Session
	teammates map[string]models.Teammate
	tasks     []models.TeamTask
	lastError string
}

func (r *sessionRow) sortedTeammates() []models.Teammate {
	out := make([]models.Teammate, 0, len(r.teammates))
	for _, t := range r.teammates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
	})
	return out
}

func (r *sessionRow) taskProgress() (done, total int) {
	for _, t := range r.tasks {
		if t.Status == models.TaskStatusCompleted {
			done++
		}
	}
	return done, len(r.tasks)
}

type relayed struct {
	sessionID  string
	message    models.TeammateMessage
	recipients int
}

// state is the dashboard's view of the supervisor, rebuilt from events.
type state struct {
	sessions    map[string]*sessionRow
	permissions map[string]models.PendingPermission
	messages    []relayed
}

func newState() *state {
	return &state{
		sessions:    make(map[string]*sessionRow),
		permissions: make(map[string]models.PendingPermission),
	}
}

func (s *state) row(id string) *sessionRow {
	r, ok := s.sessions[id]
	if !ok {
		r = &sessionRow{
			session:   models.Session{ID: id},
			teammates: make(map[string]models.Teammate),
		}
		s.sessions[id] = r
	}
	return r
}

func (s *state) apply(e notify.Event) {
	switch e.Type {
	case notify.EventSnapshot:
		snap, ok := e.Payload.(supervisor.Snapshot)
		if !ok {
			return
		}
		*s = *newState()
		for _, v := range snap.Sessions {
			r := s.row(v.Session.ID)
			r.session = v.Session
			r.tasks = v.Tasks
			for _, t := range v.Teammates {
				r.teammates[t.AgentID] = t
			}
			for _, p := range v.Permissions {
				s.permissions[p.RequestID] = p
			}
			for _, m := range v.Messages {
				s.addMessage(v.Session.ID, m, 0)
			}
		}

	case notify.EventSessionCreated:
		if sess, ok := e.Payload.(models.Session); ok {
			s.row(sess.ID).session = sess
		}

	case notify.EventSessionStatusChanged:
		if p, ok := e.Payload.(supervisor.StatusPayload); ok {
			s.row(p.Session.ID).session = p.Session
		}

	case notify.EventSessionRenamed:
		if p, ok := e.Payload.(supervisor.RenamedPayload); ok {
			s.row(e.SessionID).session.Name = p.Name
		}

	case notify.EventSessionDeleted:
		delete(s.sessions, e.SessionID)
		for id, p := range s.permissions {
			if p.SessionID == e.SessionID {
				delete(s.permissions, id)
			}
		}

	case notify.EventCostUpdated:
		if p, ok := e.Payload.(supervisor.CostPayload); ok {
			r := s.row(e.SessionID)
			r.session.CostUSD = p.CostUSD
			r.session.InputTokens = p.InputTokens
			r.session.OutputTokens = p.OutputTokens
		}

	case notify.EventTeammateDiscovered:
		if t, ok := e.Payload.(models.Teammate); ok {
			s.row(e.SessionID).teammates[t.AgentID] = t
		}

	case notify.EventTeammateStatusChanged, notify.EventTeammateOutputUpdated:
		if p, ok := e.Payload.(supervisor.TeammatePayload); ok {
			s.row(e.SessionID).teammates[p.Teammate.AgentID] = p.Teammate
		}

	case notify.EventTaskListSynced:
		if p, ok := e.Payload.(supervisor.TasksPayload); ok {
			s.row(e.SessionID).tasks = p.Tasks
		}

	case notify.EventPermissionRequested:
		if p, ok := e.Payload.(models.PendingPermission); ok {
			s.permissions[p.RequestID] = p
		}

	case notify.EventPermissionResolved:
		if a, ok := e.Payload.(models.PermissionAudit); ok {
			delete(s.permissions, a.Request.RequestID)
		}

	case notify.EventMessageRelayed:
		if p, ok := e.Payload.(supervisor.MessagePayload); ok {
			s.addMessage(e.SessionID, p.Message, len(p.Recipients))
		}

	case notify.EventError:
		if p, ok := e.Payload.(supervisor.ErrorPayload); ok {
			s.row(e.SessionID).lastError = p.Message
		}
	}
}

func (s *state) addMessage(sessionID string, m models.TeammateMessage, recipients int) {
	s.messages = append(s.messages, relayed{sessionID: sessionID, message: m, recipients: recipients})
	if len(s.messages) > maxMessages {
		s.messages = s.messages[len(s.messages)-maxMessages:]
	}
}

// sortedSessions returns sessions newest first.
func (s *state) sortedSessions() []*sessionRow {
	out := make([]*sessionRow, 0, len(s.sessions))
	for _, r := range s.sessions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].session, out[j].session
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out
}

func (s *state) sortedPermissions() []models.PendingPermission {
	out := make([]models.PendingPermission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *state) totalCost() float64 {
	var total float64
	for _, r := range s.sessions {
		total += r.session.CostUSD
	}
	return total
}

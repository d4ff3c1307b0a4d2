package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/teamlead/internal/notify"
	"github.com/ShayCichocki/teamlead/internal/supervisor"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

func session(id, name string, status models.SessionStatus) models.Session {
	return models.Session{
		ID:        id,
		Name:      name,
		Status:    status,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func apply(d *Dashboard, events ...notify.Event) {
	for _, e := range events {
		d.Update(EventMsg{Event: e})
	}
}

func TestDashboard_SnapshotReplacesState(t *testing.T) {
	d := NewDashboard(nil)
	apply(d, notify.Event{Type: notify.EventSessionCreated, SessionID: "stale", Payload: session("stale", "Old work", models.SessionRunning)})

	snap := supervisor.Snapshot{Sessions: []supervisor.SessionView{{
		Session:   session("s1", "Reporting pipeline", models.SessionRunning),
		Teammates: []models.Teammate{{AgentID: "a1", SessionID: "s1", Name: "Researcher", Status: models.TeammateWorking}},
		Tasks: []models.TeamTask{
			{ID: "1", Status: models.TaskStatusCompleted},
			{ID: "2", Status: models.TaskStatusPending},
		},
		Permissions: []models.PendingPermission{{RequestID: "req-1", SessionID: "s1", ToolName: "Bash"}},
	}}}
	apply(d, notify.Event{Type: notify.EventSnapshot, Payload: snap})

	if _, ok := d.state.sessions["stale"]; ok {
		t.Error("snapshot should replace earlier state")
	}
	view := d.View()
	for _, want := range []string{"Reporting pipeline", "Researcher", "tasks 1/2", "Bash", "1 session"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestDashboard_SessionLifecycle(t *testing.T) {
	d := NewDashboard(nil)
	apply(d,
		notify.Event{Type: notify.EventSessionCreated, SessionID: "s1", Payload: session("s1", "Build the thing", models.SessionStarting)},
		notify.Event{Type: notify.EventSessionRenamed, SessionID: "s1", Payload: supervisor.RenamedPayload{Name: "Pipeline rebuild"}},
		notify.Event{Type: notify.EventCostUpdated, SessionID: "s1", Payload: supervisor.CostPayload{CostUSD: 1.25, InputTokens: 1200, OutputTokens: 300}},
	)

	row := d.state.sessions["s1"]
	if row.session.Name != "Pipeline rebuild" {
		t.Errorf("name = %q, want Pipeline rebuild", row.session.Name)
	}
	view := d.View()
	if !strings.Contains(view, "$1.25") || !strings.Contains(view, "1,500 tok") {
		t.Errorf("view should show cost and tokens:\n%s", view)
	}

	done := session("s1", "Pipeline rebuild", models.SessionCompleted)
	done.CostUSD = 1.25
	apply(d, notify.Event{Type: notify.EventSessionStatusChanged, SessionID: "s1", Payload: supervisor.StatusPayload{Session: done, Previous: models.SessionRunning}})
	if got := d.state.sessions["s1"].session.Status; got != models.SessionCompleted {
		t.Errorf("status = %s, want completed", got)
	}

	apply(d, notify.Event{Type: notify.EventSessionDeleted, SessionID: "s1"})
	if len(d.state.sessions) != 0 {
		t.Error("deleted session should be removed")
	}
	if !strings.Contains(d.View(), "No sessions yet.") {
		t.Error("empty dashboard should say so")
	}
}

func TestDashboard_TeammatesAndTasks(t *testing.T) {
	d := NewDashboard(nil)
	tm := models.Teammate{AgentID: "a1", SessionID: "s1", Status: models.TeammateStarting}
	apply(d,
		notify.Event{Type: notify.EventSessionCreated, SessionID: "s1", Payload: session("s1", "Work", models.SessionRunning)},
		notify.Event{Type: notify.EventTeammateDiscovered, SessionID: "s1", AgentID: "a1", Payload: tm},
	)
	if !strings.Contains(d.View(), "a1") {
		t.Error("unnamed teammate should show its agent id")
	}

	tm.Name = "Writer"
	tm.Status = models.TeammateIdle
	apply(d,
		notify.Event{Type: notify.EventTeammateStatusChanged, SessionID: "s1", AgentID: "a1", Payload: supervisor.TeammatePayload{Teammate: tm, Previous: models.TeammateStarting}},
		notify.Event{Type: notify.EventTaskListSynced, SessionID: "s1", Payload: supervisor.TasksPayload{Tasks: []models.TeamTask{{ID: "1", Status: models.TaskStatusCompleted}}}},
	)

	view := d.View()
	if !strings.Contains(view, "Writer") || !strings.Contains(view, "idle") {
		t.Errorf("teammate update not rendered:\n%s", view)
	}
	if !strings.Contains(view, "tasks 1/1") {
		t.Errorf("task progress not rendered:\n%s", view)
	}
}

func TestDashboard_Permissions(t *testing.T) {
	d := NewDashboard(nil)
	req := models.PendingPermission{RequestID: "req-12345678-abc", SessionID: "s1", ToolName: models.AskUserTool}
	apply(d, notify.Event{Type: notify.EventPermissionRequested, SessionID: "s1", Payload: req})

	view := d.View()
	if !strings.Contains(view, "Pending approvals") || !strings.Contains(view, "(question)") {
		t.Errorf("pending question not rendered:\n%s", view)
	}
	if !strings.Contains(view, "req-1234") || strings.Contains(view, "req-12345678-abc") {
		t.Errorf("request id should be shortened:\n%s", view)
	}

	apply(d, notify.Event{Type: notify.EventPermissionResolved, SessionID: "s1", Payload: models.PermissionAudit{Request: req, Decision: models.Allow(nil)}})
	if len(d.state.permissions) != 0 {
		t.Error("resolved permission should be removed")
	}
}

func TestDashboard_MessagesAreCapped(t *testing.T) {
	d := NewDashboard(nil)
	for i := 0; i < maxMessages+5; i++ {
		apply(d, notify.Event{Type: notify.EventMessageRelayed, SessionID: "s1", Payload: supervisor.MessagePayload{
			Message:    models.TeammateMessage{Type: models.MessageBroadcast, Sender: "Lead", Content: "status check"},
			Recipients: []string{"a1"},
		}})
	}
	if len(d.state.messages) != maxMessages {
		t.Errorf("messages = %d, want %d", len(d.state.messages), maxMessages)
	}
	if !strings.Contains(d.View(), "Lead → everyone") {
		t.Error("broadcast should render as everyone")
	}
}

func TestDashboard_ErrorShown(t *testing.T) {
	d := NewDashboard(nil)
	apply(d,
		notify.Event{Type: notify.EventSessionCreated, SessionID: "s1", Payload: session("s1", "Work", models.SessionRunning)},
		notify.Event{Type: notify.EventError, SessionID: "s1", Payload: supervisor.ErrorPayload{Message: "budget exceeded"}},
	)
	if !strings.Contains(d.View(), "budget exceeded") {
		t.Error("last error should be rendered")
	}
}

func TestDashboard_EventPump(t *testing.T) {
	events := make(chan notify.Event, 1)
	d := NewDashboard(events)

	events <- notify.Event{Type: notify.EventSessionCreated, SessionID: "s1", Payload: session("s1", "Work", models.SessionRunning)}
	msg := d.wait()()
	if _, ok := msg.(EventMsg); !ok {
		t.Fatalf("expected EventMsg, got %T", msg)
	}
	_, cmd := d.Update(msg)
	if cmd == nil {
		t.Error("handling an event should wait for the next one")
	}

	close(events)
	msg = d.wait()()
	if _, ok := msg.(closedMsg); !ok {
		t.Fatalf("expected closedMsg, got %T", msg)
	}
	d.Update(msg)
	d.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	if !strings.Contains(d.View(), "event stream closed") {
		t.Error("footer should note the closed stream")
	}
}

func TestDashboard_Quit(t *testing.T) {
	d := NewDashboard(nil)
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := d.Update(key)
		if cmd == nil {
			t.Fatalf("%s should quit", key.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s should produce QuitMsg", key.String())
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("multi\nline   text", 20); got != "multi line text" {
		t.Errorf("whitespace should collapse, got %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("truncate = %q, want abcd…", got)
	}
}

package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/teamlead/internal/naming"
	"github.com/ShayCichocki/teamlead/internal/notify"
	"github.com/ShayCichocki/teamlead/internal/runtime"
	"github.com/ShayCichocki/teamlead/internal/state"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

func TestNew_RequiresRuntimeAndStore(t *testing.T) {
	_, err := New(Options{Store: newMemStore()})
	assert.Error(t, err)
	_, err = New(Options{Runtime: newFakeRuntime()})
	assert.Error(t, err)
}

func TestCreateSession(t *testing.T) {
	h := newHarness(t)
	sub := h.hub.Subscribe(64)
	defer sub.Close()

	sess, err := h.sup.CreateSession(context.Background(), testConfig())
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, models.SessionStarting, sess.Status)
	assert.Equal(t, "Build the reporting pipeline", sess.Name)
	assert.Equal(t, "sonnet", sess.Config.Model)
	assert.Equal(t, models.PermissionAcceptEdits, sess.Config.PermissionMode)

	inv := h.rt.next(t)
	h.rt.mu.Lock()
	req := h.rt.starts[0]
	h.rt.mu.Unlock()
	assert.Equal(t, sess.ID, req.SessionID)
	assert.Equal(t, "/work/project", req.WorkDir)
	assert.Contains(t, req.Prompt, "Build the reporting pipeline")
	assert.Contains(t, req.SystemPrompt, "send-message")

	_, err = h.store.Get(sess.ID)
	require.NoError(t, err, "session is persisted on creation")

	inv.emit(runtime.Event{Kind: runtime.EventInit, RuntimeSessionID: "rt-1"})
	h.waitStatus(t, sess.ID, models.SessionRunning)

	got, err := h.sup.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", got.RuntimeSessionID)

	snapshot := <-sub.C()
	assert.Equal(t, notify.EventSnapshot, snapshot.Type)
	created := <-sub.C()
	assert.Equal(t, notify.EventSessionCreated, created.Type)
	assert.Equal(t, sess.ID, created.SessionID)
}

func TestCreateSession_InvalidConfig(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.CreateSession(context.Background(), models.SessionConfig{WorkDir: "/work"})
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "task is required")
	assert.Empty(t, h.sup.List())
}

func TestCreateSession_StartFailureKeepsRecord(t *testing.T) {
	h := newHarness(t)
	h.rt.startErr = assert.AnError

	sess, err := h.sup.CreateSession(context.Background(), testConfig())
	require.NoError(t, err)
	h.waitStatus(t, sess.ID, models.SessionError)

	rec, err := h.store.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionError, rec.Session.Status)

	err = h.sup.ContinueSession(context.Background(), sess.ID, "try again", nil)
	assert.ErrorIs(t, err, ErrNoRuntimeSession)
}

func TestCreateSession_PersistFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.store.saveErr = errStoreDown

	sess, err := h.sup.CreateSession(context.Background(), testConfig())
	require.NoError(t, err)
	h.rt.next(t)

	_, err = h.sup.Get(sess.ID)
	assert.NoError(t, err)
}

func TestStreamEvents(t *testing.T) {
	h := newHarness(t)
	sess, inv := h.running(t, testConfig(), "rt-1")

	inv.emit(runtime.Event{Kind: runtime.EventText, Text: "Planning the work."})
	inv.emit(runtime.Event{Kind: runtime.EventUsage, CostUSD: 0.5, InputTokens: 100, OutputTokens: 40})
	inv.emit(runtime.Event{Kind: runtime.EventResult})
	h.waitStatus(t, sess.ID, models.SessionCompleted)

	got, err := h.sup.Get(sess.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.CostUSD, 1e-9)
	assert.EqualValues(t, 100, got.InputTokens)
	assert.EqualValues(t, 40, got.OutputTokens)

	view, err := h.sup.SessionView(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Planning the work.", view.Output)
}

func TestStreamEvents_ErrorResult(t *testing.T) {
	h := newHarness(t)
	sess, inv := h.running(t, testConfig(), "rt-1")

	inv.emit(runtime.Event{Kind: runtime.EventResult, IsError: true, Text: "max turns"})
	h.waitStatus(t, sess.ID, models.SessionError)
}

func TestStreamEvents_StreamClosedWithoutResult(t *testing.T) {
	h := newHarness(t)
	sess, inv := h.running(t, testConfig(), "rt-1")

	inv.Abort()
	h.waitStatus(t, sess.ID, models.SessionCompleted)
}

func TestCostAccumulatesAcrossInvocations(t *testing.T) {
	h := newHarness(t)
	sess, inv := h.running(t, testConfig(), "rt-1")

	inv.emit(runtime.Event{Kind: runtime.EventUsage, CostUSD: 0.5, InputTokens: 10, OutputTokens: 5})
	inv.emit(runtime.Event{Kind: runtime.EventResult})
	h.waitStatus(t, sess.ID, models.SessionCompleted)

	require.NoError(t, h.sup.ContinueSession(context.Background(), sess.ID, "one more thing", nil))
	second := h.rt.next(t)
	second.emit(runtime.Event{Kind: runtime.EventUsage, CostUSD: 0.1, InputTokens: 1, OutputTokens: 1})
	second.emit(runtime.Event{Kind: runtime.EventUsage, CostUSD: 0.25, InputTokens: 3, OutputTokens: 2})

	require.Eventually(t, func() bool {
		got, _ := h.sup.Get(sess.ID)
		return got.InputTokens == 13
	}, 2*time.Second, 5*time.Millisecond)

	got, err := h.sup.Get(sess.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got.CostUSD, 1e-9)
	assert.EqualValues(t, 7, got.OutputTokens)
}

func TestBudgetStopsSession(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig()
	cfg.MaxBudgetUSD = 1
	sess, inv := h.running(t, cfg, "rt-1")

	// Mid-run usage carries the stream's running estimate, no result yet.
	inv.emit(runtime.Event{Kind: runtime.EventUsage, InputTokens: 90000, CostUSD: 0.27})
	inv.emit(runtime.Event{Kind: runtime.EventUsage, InputTokens: 360000, CostUSD: 1.08})

	h.waitStatus(t, sess.ID, models.SessionCompleted)
	require.Eventually(t, inv.wasInterrupted, 2*time.Second, 5*time.Millisecond)

	got, err := h.sup.Get(sess.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.08, got.CostUSD, 1e-9)

	err = h.sup.ContinueSession(context.Background(), sess.ID, "keep going", nil)
	assert.ErrorIs(t, err, ErrOverBudget)
	assert.Len(t, h.rt.resumeRequests(), 0)
	got, err = h.sup.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)
}

func TestContinueSession_ResumesTeammatePolling(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.running(t, testConfig(), "rt-1")
	h.hook(t, runtime.HookEvent{Kind: runtime.HookSubagentStart, SessionID: sess.ID, AgentID: "a1"})
	h.hook(t, runtime.HookEvent{Kind: runtime.HookSubagentStart, SessionID: sess.ID, AgentID: "a2"})
	h.hook(t, runtime.HookEvent{Kind: runtime.HookSubagentStop, SessionID: sess.ID, AgentID: "a2"})
	require.True(t, h.sup.poller.Polling("a1"))

	require.NoError(t, h.sup.StopSession(context.Background(), sess.ID))
	assert.Zero(t, h.sup.poller.Active(sess.ID))

	require.NoError(t, h.sup.ContinueSession(context.Background(), sess.ID, "carry on", nil))
	h.rt.next(t)

	assert.True(t, h.sup.poller.Polling("a1"), "unsettled teammate is polled again")
	assert.False(t, h.sup.poller.Polling("a2"), "settled teammate stays unpolled")
	assert.Equal(t, 1, h.sup.poller.Active(sess.ID))
}

func TestStopSession_Idempotent(t *testing.T) {
	h := newHarness(t)
	sess, inv := h.running(t, testConfig(), "rt-1")

	require.NoError(t, h.sup.StopSession(context.Background(), sess.ID))
	require.NoError(t, h.sup.StopSession(context.Background(), sess.ID))

	got, err := h.sup.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)
	assert.True(t, inv.wasInterrupted())
	assert.Zero(t, h.rt.activeInvocations())

	err = h.sup.StopSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestContinueSession_Validation(t *testing.T) {
	h := newHarness(t)

	err := h.sup.ContinueSession(context.Background(), "missing", "hi", nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sess, err := h.sup.CreateSession(context.Background(), testConfig())
	require.NoError(t, err)
	h.rt.next(t)

	err = h.sup.ContinueSession(context.Background(), sess.ID, "hi", nil)
	assert.ErrorIs(t, err, ErrSessionStarting)
}

func TestContinueSession_ResumesWithAttachments(t *testing.T) {
	h := newHarness(t)
	sess, inv := h.running(t, testConfig(), "rt-1")

	atts := []models.Attachment{{Name: "spec.pdf", Path: "/uploads/spec.pdf"}}
	require.NoError(t, h.sup.ContinueSession(context.Background(), sess.ID, "Use the attached spec", atts))

	assert.True(t, inv.wasInterrupted(), "running invocation is stopped first")
	h.rt.next(t)

	resumes := h.rt.resumeRequests()
	require.Len(t, resumes, 1)
	assert.Equal(t, "rt-1", resumes[0].RuntimeSessionID)
	assert.Contains(t, resumes[0].Prompt, "Use the attached spec")
	assert.Contains(t, resumes[0].Prompt, "/uploads/spec.pdf")

	view, err := h.sup.SessionView(sess.ID)
	require.NoError(t, err)
	assert.Contains(t, view.Output, "**You:** Use the attached spec")
	assert.Contains(t, view.Output, "[spec.pdf](/uploads/spec.pdf)")
	assert.Equal(t, models.SessionRunning, view.Session.Status)
}

func TestContinueSession_SingleActiveInvocation(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.running(t, testConfig(), "rt-1")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.sup.ContinueSession(context.Background(), sess.ID, "again", nil))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.rt.activeInvocations())
	assert.Len(t, h.rt.resumeRequests(), 5)
}

func TestDeleteSession(t *testing.T) {
	h := newHarness(t)
	sess, inv := h.running(t, testConfig(), "rt-1")
	h.hook(t, runtime.HookEvent{Kind: runtime.HookSubagentStart, SessionID: sess.ID, AgentID: "a1"})

	decided := make(chan models.PermissionDecision, 1)
	go func() {
		d, _ := h.sup.RequestPermission(context.Background(), runtime.PermissionRequest{
			SessionID: sess.ID, RequestID: "p1", ToolName: "Bash",
		})
		decided <- d
	}()
	require.Eventually(t, func() bool { return len(h.sup.PendingPermissions(sess.ID)) == 1 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.sup.DeleteSession(context.Background(), sess.ID))

	select {
	case d := <-decided:
		assert.Equal(t, models.PermissionDeny, d.Behavior)
		assert.Equal(t, "session deleted", d.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("pending permission was not force-denied")
	}

	assert.True(t, inv.wasInterrupted())
	_, err := h.sup.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.store.Get(sess.ID)
	assert.ErrorIs(t, err, state.ErrNotFound)
	assert.Empty(t, h.sup.Teammates(sess.ID))

	assert.ErrorIs(t, h.sup.DeleteSession(context.Background(), sess.ID), ErrSessionNotFound)
}

func TestAutoComplete_WrapsUpOnce(t *testing.T) {
	h := newHarness(t)
	sess, inv := h.running(t, testConfig(), "rt-1")

	h.hook(t, runtime.HookEvent{Kind: runtime.HookSubagentStart, SessionID: sess.ID, AgentID: "a1", AgentType: "researcher"})
	h.hook(t, runtime.HookEvent{Kind: runtime.HookSubagentStart, SessionID: sess.ID, AgentID: "a2"})
	h.hook(t, runtime.HookEvent{Kind: runtime.HookTeammateIdle, SessionID: sess.ID, AgentID: "a1", DisplayName: "Researcher"})

	// a2 is still starting, so the quiet period passes without a wrap-up.
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, h.rt.resumeRequests())

	h.hook(t, runtime.HookEvent{Kind: runtime.HookSubagentStop, SessionID: sess.ID, AgentID: "a2"})

	wrap := h.rt.next(t)
	assert.True(t, inv.wasInterrupted())
	resumes := h.rt.resumeRequests()
	require.Len(t, resumes, 1)
	assert.Contains(t, resumes[0].Prompt, "final summary")

	view, err := h.sup.SessionView(sess.ID)
	require.NoError(t, err)
	assert.Contains(t, view.Output, "**Supervisor:**")
	assert.Equal(t, models.SessionRunning, view.Session.Status)

	// Settling again during the wrap-up run does not issue another one.
	h.hook(t, runtime.HookEvent{Kind: runtime.HookTeammateIdle, SessionID: sess.ID, AgentID: "a1", DisplayName: "Researcher"})
	h.sup.auto.schedule(sess.ID)
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, h.rt.resumeRequests(), 1)

	wrap.emit(runtime.Event{Kind: runtime.EventResult})
	h.waitStatus(t, sess.ID, models.SessionCompleted)
}

func TestAutoComplete_ResetByUserContinue(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.running(t, testConfig(), "rt-1")

	h.hook(t, runtime.HookEvent{Kind: runtime.HookSubagentStart, SessionID: sess.ID, AgentID: "a1"})
	h.hook(t, runtime.HookEvent{Kind: runtime.HookTeammateIdle, SessionID: sess.ID, AgentID: "a1"})
	h.rt.next(t)
	require.Len(t, h.rt.resumeRequests(), 1)

	require.NoError(t, h.sup.ContinueSession(context.Background(), sess.ID, "keep going", nil))
	h.rt.next(t)

	h.hook(t, runtime.HookEvent{Kind: runtime.HookSubagentStop, SessionID: sess.ID, AgentID: "a1"})
	h.rt.next(t)
	resumes := h.rt.resumeRequests()
	require.Len(t, resumes, 3)
	assert.Contains(t, resumes[2].Prompt, "final summary")
}

func TestAutoComplete_NoTeammatesNeverCompletes(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.running(t, testConfig(), "rt-1")

	h.sup.auto.schedule(sess.ID)
	time.Sleep(150 * time.Millisecond)

	assert.Empty(t, h.rt.resumeRequests())
	got, err := h.sup.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionRunning, got.Status)
}

func TestAutoComplete_CancelledByDiscovery(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.running(t, testConfig(), "rt-1")

	h.hook(t, runtime.HookEvent{Kind: runtime.HookSubagentStart, SessionID: sess.ID, AgentID: "a1"})
	h.hook(t, runtime.HookEvent{Kind: runtime.HookTeammateIdle, SessionID: sess.ID, AgentID: "a1"})
	assert.True(t, h.sup.auto.pending(sess.ID))

	h.hook(t, runtime.HookEvent{Kind: runtime.HookSubagentStart, SessionID: sess.ID, AgentID: "a2"})
	assert.False(t, h.sup.auto.pending(sess.ID))
}

func TestRecover(t *testing.T) {
	h := newHarness(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	h.store.records["s-running"] = state.Record{
		Session: models.Session{
			ID: "s-running", RuntimeSessionID: "rt-9", Status: models.SessionRunning,
			Config:    models.SessionConfig{WorkDir: "/work/project", Task: "t", PermissionMode: models.PermissionAcceptEdits},
			CreatedAt: created,
		},
		Teammates: []models.Teammate{
			{AgentID: "a1", SessionID: "s-running", Status: models.TeammateStopped, DiscoveredAt: created},
			{AgentID: "a2", SessionID: "s-running", Status: models.TeammateIdle, Output: "already cached", DiscoveredAt: created},
		},
		Output: "earlier output",
	}
	h.store.records["s-done"] = state.Record{
		Session: models.Session{ID: "s-done", Status: models.SessionCompleted, CreatedAt: created.Add(time.Minute)},
	}

	path := claudeDir + "/projects/-work-project/rt-9/subagents/agent-a1.jsonl"
	writeFile(t, h.fs, path,
		`{"type":"assistant","message":{"role":"assistant","stop_reason":"end_turn","content":[{"type":"text","text":"recovered result"}]}}`+"\n")

	require.NoError(t, h.sup.Recover(context.Background()))

	sessions := h.sup.List()
	require.Len(t, sessions, 2)
	assert.Equal(t, "s-running", sessions[0].ID)
	assert.Equal(t, models.SessionCompleted, sessions[0].Status)

	teammates := h.sup.Teammates("s-running")
	require.Len(t, teammates, 2)
	assert.Equal(t, "recovered result", teammates[0].Output)
	assert.Equal(t, path, teammates[0].TranscriptPath)
	assert.Equal(t, "already cached", teammates[1].Output)

	rec, err := h.store.Get("s-running")
	require.NoError(t, err)
	assert.Equal(t, "recovered result", rec.Teammates[0].Output)
	assert.Equal(t, "earlier output", rec.Output)

	// Recovered sessions can be continued.
	require.NoError(t, h.sup.ContinueSession(context.Background(), "s-running", "carry on", nil))
	h.rt.next(t)
	assert.Equal(t, "rt-9", h.rt.resumeRequests()[0].RuntimeSessionID)
}

func TestRecover_StopsLiveTeammates(t *testing.T) {
	h := newHarness(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	h.store.records["s1"] = state.Record{
		Session: models.Session{
			ID: "s1", RuntimeSessionID: "rt-9", Status: models.SessionRunning,
			Config:    models.SessionConfig{WorkDir: "/work/project", Task: "t", PermissionMode: models.PermissionAcceptEdits},
			CreatedAt: created,
		},
		Teammates: []models.Teammate{
			{AgentID: "ghost", SessionID: "s1", Status: models.TeammateWorking, DiscoveredAt: created},
			{AgentID: "a2", SessionID: "s1", Status: models.TeammateStarting, DiscoveredAt: created.Add(time.Second)},
			{AgentID: "a3", SessionID: "s1", Name: "Writer", Status: models.TeammateIdle, Output: "done", DiscoveredAt: created.Add(2 * time.Second)},
		},
	}

	require.NoError(t, h.sup.Recover(context.Background()))

	status := map[string]models.TeammateStatus{}
	for _, tm := range h.sup.Teammates("s1") {
		status[tm.AgentID] = tm.Status
	}
	assert.Equal(t, models.TeammateStopped, status["ghost"])
	assert.Equal(t, models.TeammateStopped, status["a2"])
	assert.Equal(t, models.TeammateIdle, status["a3"])

	rec, err := h.store.Get("s1")
	require.NoError(t, err)
	for _, tm := range rec.Teammates {
		assert.True(t, tm.Status.Settled(), "%s persisted as %s", tm.AgentID, tm.Status)
	}

	// With every teammate settled, a continued session wraps up on its own.
	require.NoError(t, h.sup.ContinueSession(context.Background(), "s1", "carry on", nil))
	inv := h.rt.next(t)
	inv.emit(runtime.Event{Kind: runtime.EventInit, RuntimeSessionID: "rt-9"})
	h.waitStatus(t, "s1", models.SessionRunning)
	h.sup.auto.schedule("s1")

	h.rt.next(t)
	resumes := h.rt.resumeRequests()
	require.Len(t, resumes, 2)
	assert.Contains(t, resumes[1].Prompt, "final summary")
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.running(t, testConfig(), "rt-1")
	h.hook(t, runtime.HookEvent{Kind: runtime.HookSubagentStart, SessionID: sess.ID, AgentID: "a1"})

	snap := h.sup.Snapshot()
	require.Len(t, snap.Sessions, 1)
	view := snap.Sessions[0]
	assert.Equal(t, sess.ID, view.Session.ID)
	require.Len(t, view.Teammates, 1)
	assert.Equal(t, "a1", view.Teammates[0].AgentID)
	assert.Empty(t, view.Permissions)

	_, err := h.sup.SessionView("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

type titleFunc func(ctx context.Context, task string) (string, error)

func (f titleFunc) Title(ctx context.Context, task string) (string, error) { return f(ctx, task) }

func TestRename(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Namer = naming.NewWithTitler(titleFunc(func(ctx context.Context, task string) (string, error) {
			return "Reporting pipeline", nil
		}), nil)
	})
	sub := h.hub.Subscribe(64)
	defer sub.Close()

	sess, err := h.sup.CreateSession(context.Background(), testConfig())
	require.NoError(t, err)
	h.rt.next(t)

	require.Eventually(t, func() bool {
		got, _ := h.sup.Get(sess.ID)
		return got.Name == "Reporting pipeline"
	}, 2*time.Second, 5*time.Millisecond)

	rec, err := h.store.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Reporting pipeline", rec.Session.Name)

	for e := range sub.C() {
		if e.Type == notify.EventSessionRenamed {
			assert.Equal(t, RenamedPayload{Name: "Reporting pipeline"}, e.Payload)
			break
		}
	}
}

package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

type recordingObserver struct {
	mu        sync.Mutex
	requested []models.PendingPermission
	resolved  []models.PermissionAudit
}

func (o *recordingObserver) PermissionRequested(req models.PendingPermission) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requested = append(o.requested, req)
}

func (o *recordingObserver) PermissionResolved(a models.PermissionAudit) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resolved = append(o.resolved, a)
}

func (o *recordingObserver) resolvedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.resolved)
}

// startRequest issues a request in the background and waits until it is pending.
func startRequest(t *testing.T, g *Gate, req models.PendingPermission) <-chan models.PermissionDecision {
	t.Helper()
	out := make(chan models.PermissionDecision, 1)
	go func() {
		d, err := g.Request(context.Background(), req)
		if err == nil {
			out <- d
		}
		close(out)
	}()
	require.Eventually(t, func() bool {
		_, ok := g.Get(req.RequestID)
		return ok
	}, time.Second, time.Millisecond)
	return out
}

func TestGate_ResolveAllowWithEditedInput(t *testing.T) {
	obs := &recordingObserver{}
	g := NewGate(WithObserver(obs))

	reply := startRequest(t, g, models.PendingPermission{
		RequestID: "r1", SessionID: "s1", ToolName: "Bash",
		Input: map[string]any{"command": "rm -rf /"},
	})

	edited := map[string]any{"command": "ls"}
	require.True(t, g.Resolve("r1", models.Allow(edited)))

	d := <-reply
	assert.Equal(t, models.PermissionAllow, d.Behavior)
	assert.Equal(t, edited, d.UpdatedInput)
	assert.Empty(t, g.Pending("s1"))

	obs.mu.Lock()
	assert.Len(t, obs.requested, 1)
	obs.mu.Unlock()
	require.Eventually(t, func() bool { return obs.resolvedCount() == 1 }, time.Second, time.Millisecond)
	audit := g.Audit("s1")
	require.Len(t, audit, 1)
	assert.False(t, audit[0].Forced)
	assert.Equal(t, "Bash", audit[0].Request.ToolName)
}

func TestGate_ResolveOnce(t *testing.T) {
	g := NewGate()
	reply := startRequest(t, g, models.PendingPermission{RequestID: "r1", SessionID: "s1", ToolName: "Write"})

	assert.True(t, g.Resolve("r1", models.Deny("no")))
	assert.False(t, g.Resolve("r1", models.Allow(nil)), "second resolution is a no-op")
	assert.False(t, g.Resolve("unknown", models.Allow(nil)))

	d := <-reply
	assert.Equal(t, models.PermissionDeny, d.Behavior)
	assert.Equal(t, "no", d.Message)
	assert.Len(t, g.Audit("s1"), 1)
}

func TestGate_CancelSessionForceDeniesExactlyItsRequests(t *testing.T) {
	g := NewGate()

	var replies []<-chan models.PermissionDecision
	for _, id := range []string{"a", "b", "c"} {
		replies = append(replies, startRequest(t, g, models.PendingPermission{RequestID: id, SessionID: "s1", ToolName: "Bash"}))
	}
	other := startRequest(t, g, models.PendingPermission{RequestID: "z", SessionID: "s2", ToolName: "Bash"})

	assert.Equal(t, 3, g.CancelSession("s1", "session deleted"))
	assert.Empty(t, g.Pending("s1"))
	assert.Len(t, g.All(), 1)

	for _, reply := range replies {
		d := <-reply
		assert.Equal(t, models.PermissionDeny, d.Behavior)
		assert.Equal(t, "session deleted", d.Message)
	}
	for _, a := range g.Audit("s1") {
		assert.True(t, a.Forced)
	}
	assert.Equal(t, 0, g.CancelSession("s1", "again"))

	require.True(t, g.Resolve("z", models.Allow(nil)))
	assert.Equal(t, models.PermissionAllow, (<-other).Behavior)
}

func TestGate_AnswerQuestion(t *testing.T) {
	g := NewGate()
	q := startRequest(t, g, models.PendingPermission{RequestID: "q1", SessionID: "s1", ToolName: models.AskUserTool})
	startRequest(t, g, models.PendingPermission{RequestID: "p1", SessionID: "s1", ToolName: "Bash"})

	assert.False(t, g.AnswerQuestion("p1", "yes"), "not a question")
	_, stillPending := g.Get("p1")
	assert.True(t, stillPending)

	require.True(t, g.AnswerQuestion("q1", "use postgres"))
	d := <-q
	assert.Equal(t, models.PermissionDeny, d.Behavior)
	assert.Contains(t, d.Message, "use postgres")
	assert.False(t, g.AnswerQuestion("q1", "again"))
}

func TestGate_ContextCancellation(t *testing.T) {
	g := NewGate()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := g.Request(ctx, models.PendingPermission{RequestID: "r1", SessionID: "s1"})
		errCh <- err
	}()
	require.Eventually(t, func() bool { _, ok := g.Get("r1"); return ok }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Empty(t, g.All())
	require.Len(t, g.Audit("s1"), 1)
	assert.True(t, g.Audit("s1")[0].Forced)
}

func TestGate_DuplicateAndGeneratedIDs(t *testing.T) {
	g := NewGate()
	startRequest(t, g, models.PendingPermission{RequestID: "dup", SessionID: "s1"})

	_, err := g.Request(context.Background(), models.PendingPermission{RequestID: "dup", SessionID: "s1"})
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	g2 := NewGate()
	go g2.Request(context.Background(), models.PendingPermission{SessionID: "s1"})
	require.Eventually(t, func() bool { return len(g2.All()) == 1 }, time.Second, time.Millisecond)
	assert.NotEmpty(t, g2.All()[0].RequestID)
}

func TestGate_AutoAllowIsAudited(t *testing.T) {
	g := NewGate()
	d := g.AutoAllow(models.PendingPermission{SessionID: "s1", ToolName: "Bash"})
	assert.Equal(t, models.PermissionAllow, d.Behavior)
	assert.Empty(t, g.All())

	audit := g.Audit("s1")
	require.Len(t, audit, 1)
	assert.True(t, audit[0].Automatic)
}

func TestGate_AuditIsBounded(t *testing.T) {
	g := NewGate(WithAuditLimit(2))
	for i := 0; i < 5; i++ {
		g.AutoAllow(models.PendingPermission{SessionID: "s1", ToolName: string(rune('a' + i))})
	}
	audit := g.Audit("s1")
	require.Len(t, audit, 2)
	assert.Equal(t, "d", audit[0].Request.ToolName)
	assert.Equal(t, "e", audit[1].Request.ToolName)

	g.Forget("s1")
	assert.Empty(t, g.Audit("s1"))
}

func TestGate_PendingOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGate()
	startRequest(t, g, models.PendingPermission{RequestID: "late", SessionID: "s1", CreatedAt: base.Add(time.Minute)})
	startRequest(t, g, models.PendingPermission{RequestID: "early", SessionID: "s1", CreatedAt: base})

	pending := g.Pending("s1")
	require.Len(t, pending, 2)
	assert.Equal(t, "early", pending[0].RequestID)
}

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ShayCichocki/teamlead/internal/notify"
	"github.com/ShayCichocki/teamlead/internal/permission"
	"github.com/ShayCichocki/teamlead/internal/runtime"
	"github.com/ShayCichocki/teamlead/internal/team"
	"github.com/ShayCichocki/teamlead/internal/transcript"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// Compile-time checks for the callbacks the supervisor provides.
var (
	_ transcript.Listener = (*Supervisor)(nil)
	_ permission.Observer = (*Supervisor)(nil)
)

// HandleHook routes a lifecycle hook into the registry, the resolver and the
// auto-completion detector.
func (s *Supervisor) HandleHook(ctx context.Context, ev runtime.HookEvent) error {
	sess, id, ok := s.resolve(ev.SessionID, ev.RuntimeSessionID)
	if !ok {
		return fmt.Errorf("%w: hook %s for runtime session %q", ErrSessionNotFound, ev.Kind, ev.RuntimeSessionID)
	}

	if ev.RuntimeSessionID != "" {
		s.mu.Lock()
		if sess.data.RuntimeSessionID == "" {
			sess.data.RuntimeSessionID = ev.RuntimeSessionID
		}
		s.mu.Unlock()
	}

	s.logger.Debug("hook", "session_id", id, "kind", ev.Kind, "agent_id", ev.AgentID, "task_id", ev.TaskID)

	switch ev.Kind {
	case runtime.HookSubagentStart:
		s.teammateStarted(id, ev.AgentID, ev.AgentType)
	case runtime.HookSubagentStop:
		s.teammateStopped(id, ev.AgentID, ev.TranscriptPath)
	case runtime.HookTeammateIdle:
		s.teammateIdle(id, ev.AgentID, ev.DisplayName)
	case runtime.HookTaskCompleted:
		s.taskCompleted(id, ev)
	default:
		return fmt.Errorf("%w: %s", runtime.ErrUnknownHook, ev.Kind)
	}
	return nil
}

func (s *Supervisor) teammateStarted(sessionID, agentID, agentType string) {
	s.auto.cancel(sessionID)

	t, isNew := s.registry.Discover(sessionID, agentID, agentType)
	if !isNew {
		if t.SessionID != sessionID {
			s.logger.Warn("agent already belongs to another session",
				"session_id", sessionID, "agent_id", agentID, "owner", t.SessionID)
		}
		return
	}

	s.logger.Info("teammate discovered", "session_id", sessionID, "agent_id", agentID, "agent_type", agentType)
	s.publish(notify.EventTeammateDiscovered, sessionID, agentID, t)
	s.poller.Start(sessionID, agentID)
	s.flush.now(sessionID)
}

func (s *Supervisor) teammateStopped(sessionID, agentID, transcriptPath string) {
	if _, ok := s.registry.Get(agentID); !ok {
		s.teammateStarted(sessionID, agentID, "")
	}

	change, err := s.registry.MarkStopped(agentID, transcriptPath)
	if err != nil {
		s.logger.Warn("ignoring stop hook", "session_id", sessionID, "agent_id", agentID, "error", err)
		return
	}
	s.TeammateChanged(change)

	t := change.Teammate
	path := t.TranscriptPath
	if path == "" {
		path = s.transcriptPath(t)
	}
	if updated, ok := transcript.Recover(s.opts.Fs, s.registry, agentID, path); ok {
		s.registry.SetTranscriptPath(agentID, path)
		s.TeammateOutput(updated)
	}
}

func (s *Supervisor) teammateIdle(sessionID, agentID, displayName string) {
	change, err := s.registry.MarkIdle(sessionID, agentID, displayName)
	if errors.Is(err, team.ErrTeammateNotFound) && agentID != "" {
		s.teammateStarted(sessionID, agentID, "")
		change, err = s.registry.MarkIdle(sessionID, agentID, displayName)
	}
	if err != nil {
		s.logger.Warn("ignoring idle hook", "session_id", sessionID, "agent_id", agentID, "error", err)
		return
	}
	s.TeammateChanged(change)

	if change.Teammate.Output == "" {
		// The poller caches the output once the transcript has it.
		s.poller.Start(sessionID, change.Teammate.AgentID)
	}
}

func (s *Supervisor) taskCompleted(sessionID string, ev runtime.HookEvent) {
	s.mu.Lock()
	rtID := ""
	if sess, ok := s.sessions[sessionID]; ok {
		rtID = sess.data.RuntimeSessionID
	}
	s.mu.Unlock()
	if rtID == "" {
		rtID = ev.RuntimeSessionID
	}

	unblocked, err := s.resolver.Unblock(rtID, ev.TaskID)
	if err != nil {
		s.logger.Warn("unblock failed", "session_id", sessionID, "task_id", ev.TaskID, "error", err)
	}

	s.publish(notify.EventTaskCompleted, sessionID, "", TaskCompletedPayload{
		TaskID:    ev.TaskID,
		Subject:   ev.TaskSubject,
		Teammate:  ev.TeammateName,
		Unblocked: unblocked,
	})
	s.syncTasks(sessionID)
}

// syncTasks reloads the session's task list from disk.
func (s *Supervisor) syncTasks(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.deleted || sess.data.RuntimeSessionID == "" {
		s.mu.Unlock()
		return
	}
	rtID := sess.data.RuntimeSessionID
	s.mu.Unlock()

	tasks, err := s.opts.Tasks.ListForSession(rtID)
	if err != nil {
		s.logger.Debug("task list unavailable", "session_id", sessionID, "error", err)
		return
	}
	if tasks == nil {
		tasks = []models.TeamTask{}
	}

	s.mu.Lock()
	if sess.deleted {
		s.mu.Unlock()
		return
	}
	sess.tasks = tasks
	s.mu.Unlock()

	s.publish(notify.EventTaskListSynced, sessionID, "", TasksPayload{Tasks: tasks})
	s.flush.now(sessionID)
}

func (s *Supervisor) tasksChanged(dir string) {
	dir = filepath.Clean(dir)

	s.mu.Lock()
	candidates := make(map[string]string)
	for id, sess := range s.sessions {
		if !sess.deleted && sess.data.RuntimeSessionID != "" {
			candidates[id] = sess.data.RuntimeSessionID
		}
	}
	s.mu.Unlock()

	for id, rtID := range candidates {
		if loc, ok := s.opts.Tasks.Locate(rtID); ok && filepath.Clean(loc) == dir {
			s.syncTasks(id)
		}
	}
}

// TeammateChanged implements transcript.Listener. It also handles changes
// made by hooks.
func (s *Supervisor) TeammateChanged(change team.Change) {
	if !change.Changed {
		return
	}
	t := change.Teammate
	s.publish(notify.EventTeammateStatusChanged, t.SessionID, t.AgentID, TeammatePayload{Teammate: t, Previous: change.From})
	if t.Status.Settled() {
		s.auto.schedule(t.SessionID)
		s.scan(t)
	} else {
		s.auto.cancel(t.SessionID)
	}
	s.flush.now(t.SessionID)
}

// TeammateOutput implements transcript.Listener.
func (s *Supervisor) TeammateOutput(t models.Teammate) {
	s.publish(notify.EventTeammateOutputUpdated, t.SessionID, t.AgentID, TeammatePayload{Teammate: t})
	s.scan(t)
	s.flush.now(t.SessionID)
}

// scan relays the message markers of a settled teammate's output, once per
// distinct output.
func (s *Supervisor) scan(t models.Teammate) {
	if !t.Status.Settled() {
		return
	}
	claimed, ok := s.registry.MarkScanned(t.AgentID)
	if !ok {
		return
	}
	if n := s.router.Scan(s.ctx, t.SessionID, claimed); n > 0 {
		s.logger.Info("relayed teammate messages", "session_id", t.SessionID, "agent_id", t.AgentID, "count", n)
	}
}

// ResumeTeammate implements messaging.Resumer. The teammate is working while
// the runtime handles the injected content and idle again afterwards.
func (s *Supervisor) ResumeTeammate(ctx context.Context, sessionID, agentID, content string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.deleted {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	msg := runtime.AgentMessage{
		SessionID:        sessionID,
		RuntimeSessionID: sess.data.RuntimeSessionID,
		WorkDir:          sess.data.Config.WorkDir,
		AgentID:          agentID,
		Content:          content,
	}
	s.mu.Unlock()

	if change, err := s.registry.Transition(agentID, models.TeammateWorking, team.SourceRouter); err == nil {
		s.TeammateChanged(change)
	}

	err := s.opts.Runtime.ResumeAgent(ctx, msg)

	if t, ok := s.registry.Get(agentID); ok && t.Status == models.TeammateWorking {
		if change, terr := s.registry.Transition(agentID, models.TeammateIdle, team.SourceRouter); terr == nil {
			s.TeammateChanged(change)
		}
	}
	return err
}

// MessageRelayed implements messaging.Observer.
func (s *Supervisor) MessageRelayed(sessionID string, msg models.TeammateMessage, recipients []string) {
	s.publish(notify.EventMessageRelayed, sessionID, "", MessagePayload{Message: msg, Recipients: recipients})
}

// RequestPermission answers a permission hook. Every request gets exactly
// one decision: unknown sessions are denied, bypass sessions are allowed
// automatically, and everything else waits for the operator.
func (s *Supervisor) RequestPermission(ctx context.Context, req runtime.PermissionRequest) (models.PermissionDecision, error) {
	sess, id, ok := s.resolve(req.SessionID, req.RuntimeSessionID)
	if !ok {
		s.logger.Warn("permission request for unknown session, denying",
			"session_id", req.SessionID, "runtime_session_id", req.RuntimeSessionID, "tool", req.ToolName)
		return models.Deny("no session is supervising this agent"), nil
	}

	pending := req.Pending()
	pending.SessionID = id
	pending.CreatedAt = s.now()

	s.mu.Lock()
	mode := sess.data.Config.PermissionMode
	s.mu.Unlock()

	if mode == models.PermissionBypass && !pending.IsQuestion() {
		return s.gate.AutoAllow(pending), nil
	}

	decision, err := s.gate.Request(ctx, pending)
	if err != nil {
		return models.Deny("permission request cancelled"), err
	}
	return decision, nil
}

// ResolvePermission answers a pending permission request.
func (s *Supervisor) ResolvePermission(requestID string, decision models.PermissionDecision) error {
	if !decision.Behavior.Valid() {
		return fmt.Errorf("unknown permission behavior %q", decision.Behavior)
	}
	if !s.gate.Resolve(requestID, decision) {
		return fmt.Errorf("%w: %s", ErrPermissionNotFound, requestID)
	}
	return nil
}

// AnswerQuestion answers a pending operator question.
func (s *Supervisor) AnswerQuestion(requestID, answer string) error {
	if !s.gate.AnswerQuestion(requestID, answer) {
		return fmt.Errorf("%w: %s", ErrPermissionNotFound, requestID)
	}
	return nil
}

// operatorSender names messages injected through SendMessage.
const operatorSender = "operator"

// SendMessage relays an operator message to teammates of a session the same
// way marker messages from teammate output are relayed. It returns the agent
// ids a forward was started for; a recipient that is not live yields none.
func (s *Supervisor) SendMessage(ctx context.Context, sessionID string, msg models.TeammateMessage) ([]string, error) {
	if _, err := s.lookup(sessionID); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		msg.Type = models.MessageDirect
	}
	switch {
	case !msg.Type.Valid():
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	case msg.Type != models.MessageBroadcast && strings.TrimSpace(msg.Recipient) == "":
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	case strings.TrimSpace(msg.Content) == "" && (msg.Type == models.MessageDirect || msg.Type == models.MessageBroadcast):
		return nil, fmt.Errorf("%w: content is required", ErrInvalidMessage)
	}
	if msg.Sender == "" {
		msg.Sender = operatorSender
	}
	msg.Timestamp = s.now()

	recipients := s.router.Deliver(s.ctx, sessionID, msg)
	s.logger.Info("operator message relayed", "session_id", sessionID, "type", msg.Type, "recipients", len(recipients))
	return recipients, nil
}

// PermissionRequested implements permission.Observer.
func (s *Supervisor) PermissionRequested(req models.PendingPermission) {
	s.publish(notify.EventPermissionRequested, req.SessionID, req.AgentID, req)
}

// PermissionResolved implements permission.Observer.
func (s *Supervisor) PermissionResolved(audit models.PermissionAudit) {
	s.publish(notify.EventPermissionResolved, audit.Request.SessionID, audit.Request.AgentID, audit)
}

// transcriptPath implements transcript.PathFunc.
func (s *Supervisor) transcriptPath(t models.Teammate) string {
	s.mu.Lock()
	sess, ok := s.sessions[t.SessionID]
	if !ok || sess.data.RuntimeSessionID == "" {
		s.mu.Unlock()
		return ""
	}
	workDir, rtID := sess.data.Config.WorkDir, sess.data.RuntimeSessionID
	s.mu.Unlock()
	return s.locator.Path(workDir, rtID, t.AgentID)
}

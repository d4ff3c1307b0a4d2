package supervisor

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/teamlead/internal/naming"
	"github.com/ShayCichocki/teamlead/internal/notify"
	"github.com/ShayCichocki/teamlead/internal/runtime"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// CreateSession allocates a session, persists it and starts the lead agent
// in the background. A runtime start failure does not undo the session; it
// surfaces as an error status.
func (s *Supervisor) CreateSession(ctx context.Context, cfg models.SessionConfig) (models.Session, error) {
	if cfg.Model == "" {
		cfg.Model = s.opts.DefaultModel
	}
	if cfg.PermissionMode == "" {
		cfg.PermissionMode = s.opts.DefaultPermissionMode
	}
	if err := cfg.Validate(); err != nil {
		return models.Session{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	now := s.now()
	sess := &session{data: models.Session{
		ID:        newSessionID(),
		Config:    cfg,
		Status:    models.SessionStarting,
		Name:      naming.Fallback(cfg.Task),
		CreatedAt: now,
		UpdatedAt: now,
	}}
	id := sess.data.ID

	s.mu.Lock()
	s.sessions[id] = sess
	data := sess.data
	s.mu.Unlock()

	s.flush.now(id)
	s.publish(notify.EventSessionCreated, id, "", data)
	s.logger.Info("session created", "session_id", id, "work_dir", cfg.WorkDir, "model", cfg.Model)

	s.goSafe("start session "+id, func() { s.start(id) })
	if s.opts.Namer != nil {
		s.goSafe("name session "+id, func() { s.rename(id, cfg.Task) })
	}
	return data, nil
}

// StopSession tears down the active invocation and marks a starting or
// running session completed. Stopping a stopped session is a no-op.
func (s *Supervisor) StopSession(ctx context.Context, id string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	sess.runMu.Lock()
	defer sess.runMu.Unlock()

	s.poller.StopSession(id)
	s.auto.cancel(id)
	s.teardownLocked(id, sess)
	s.finishLocked(id, sess, models.SessionCompleted)
	return nil
}

// ContinueSession sends a follow-up prompt to the lead agent. A running
// session is stopped first so at most one invocation is ever active.
func (s *Supervisor) ContinueSession(ctx context.Context, id, prompt string, attachments []models.Attachment) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	sess.runMu.Lock()
	defer sess.runMu.Unlock()
	return s.continueLocked(id, sess, prompt, attachments, false)
}

// DeleteSession stops the session and removes it with its teammates, its
// pending permissions and its persisted record.
func (s *Supervisor) DeleteSession(ctx context.Context, id string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	sess.runMu.Lock()
	defer sess.runMu.Unlock()

	s.mu.Lock()
	if sess.deleted {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.deleted = true
	s.mu.Unlock()

	s.auto.cancel(id)
	s.poller.StopSession(id)
	s.teardownLocked(id, sess)
	denied := s.gate.CancelSession(id, "session deleted")
	s.registry.RemoveSession(id)
	s.router.Forget(id)
	s.gate.Forget(id)

	err = s.flush.remove(id, func() error { return s.opts.Store.Delete(id) })

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	s.publish(notify.EventSessionDeleted, id, "", nil)
	s.logger.Info("session deleted", "session_id", id, "denied_permissions", denied)
	if err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}

func (s *Supervisor) start(id string) {
	sess, err := s.lookup(id)
	if err != nil {
		return
	}
	sess.runMu.Lock()
	defer sess.runMu.Unlock()

	s.mu.Lock()
	if sess.deleted || sess.data.Status != models.SessionStarting {
		s.mu.Unlock()
		return
	}
	req := startRequest(sess.data, initialPrompt(sess.data.Config))
	s.mu.Unlock()

	_ = s.launchLocked(id, sess, func(ctx context.Context) (runtime.Invocation, error) {
		return s.opts.Runtime.Start(ctx, req)
	})
}

func (s *Supervisor) continueLocked(id string, sess *session, prompt string, attachments []models.Attachment, synthetic bool) error {
	s.mu.Lock()
	switch {
	case sess.deleted:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	case sess.data.Status == models.SessionStarting:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionStarting, id)
	case sess.data.RuntimeSessionID == "":
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoRuntimeSession, id)
	case sess.data.OverBudget():
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOverBudget, id)
	}
	running := sess.data.Status == models.SessionRunning
	s.mu.Unlock()

	if running {
		s.teardownLocked(id, sess)
	}

	block := transcriptBlock(prompt, attachments, synthetic)

	s.mu.Lock()
	if !synthetic {
		sess.wrapUpIssued = false
	}
	sess.budgetStopIssued = false
	sess.output = appendOutput(sess.output, block)
	prev := sess.data.Status
	s.setStatusLocked(sess, models.SessionRunning)
	data := sess.data
	req := runtime.ResumeRequest{
		StartRequest:     startRequest(sess.data, followUpPrompt(prompt, attachments)),
		RuntimeSessionID: sess.data.RuntimeSessionID,
	}
	s.mu.Unlock()

	s.publish(notify.EventSessionOutput, id, "", OutputPayload{Text: block})
	if prev != models.SessionRunning {
		s.publish(notify.EventSessionStatusChanged, id, "", StatusPayload{Session: data, Previous: prev})
	}
	s.flush.now(id)
	s.logger.Info("session continued", "session_id", id, "synthetic", synthetic)

	if err := s.launchLocked(id, sess, func(ctx context.Context) (runtime.Invocation, error) {
		return s.opts.Runtime.Resume(ctx, req)
	}); err != nil {
		return err
	}
	s.resumePollers(id)
	return nil
}

// resumePollers restarts transcript polling for teammates a stop left
// unsettled.
func (s *Supervisor) resumePollers(id string) {
	started := 0
	for _, t := range s.registry.Session(id) {
		if t.Status.Settled() || s.poller.Polling(t.AgentID) {
			continue
		}
		s.poller.Start(id, t.AgentID)
		started++
	}
	if started > 0 {
		s.logger.Debug("resumed teammate polling", "session_id", id, "started", started, "active", s.poller.Active(id))
	}
}

// launchLocked starts an invocation and its event consumer. The caller holds
// sess.runMu.
func (s *Supervisor) launchLocked(id string, sess *session, launch func(context.Context) (runtime.Invocation, error)) error {
	inv, err := launch(s.ctx)
	if err != nil {
		err = fmt.Errorf("start runtime: %w", err)
		s.fail(id, sess, err)
		return err
	}

	s.mu.Lock()
	if sess.deleted {
		s.mu.Unlock()
		inv.Abort()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.gen++
	gen := sess.gen
	sess.inv = inv
	sess.baseCost = sess.data.CostUSD
	sess.baseIn = sess.data.InputTokens
	sess.baseOut = sess.data.OutputTokens
	s.mu.Unlock()

	s.goSafe("consume invocation "+id, func() { s.consume(id, sess, gen, inv) })
	return nil
}

// teardownLocked stops the active invocation: a graceful interrupt bounded by
// the interrupt timeout, then a hard abort. The caller holds sess.runMu.
func (s *Supervisor) teardownLocked(id string, sess *session) {
	s.mu.Lock()
	inv := sess.inv
	sess.inv = nil
	sess.gen++
	s.mu.Unlock()

	if inv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.InterruptTimeout)
	defer cancel()
	if err := inv.Interrupt(ctx); err != nil {
		s.logger.Warn("interrupt failed, aborting invocation", "session_id", id, "error", err)
		inv.Abort()
	}
}

// finishLocked moves an active session to status and persists it.
func (s *Supervisor) finishLocked(id string, sess *session, status models.SessionStatus) {
	s.mu.Lock()
	if sess.deleted || !sess.data.Status.Active() {
		s.mu.Unlock()
		return
	}
	prev := sess.data.Status
	s.setStatusLocked(sess, status)
	data := sess.data
	s.mu.Unlock()

	s.publish(notify.EventSessionStatusChanged, id, "", StatusPayload{Session: data, Previous: prev})
	s.flush.now(id)
}

func (s *Supervisor) fail(id string, sess *session, err error) {
	s.logger.Error("session failed", "session_id", id, "error", err)

	s.mu.Lock()
	if sess.deleted {
		s.mu.Unlock()
		return
	}
	prev := sess.data.Status
	changed := s.setStatusLocked(sess, models.SessionError)
	data := sess.data
	s.mu.Unlock()

	s.publish(notify.EventError, id, "", ErrorPayload{Message: err.Error()})
	if changed {
		s.publish(notify.EventSessionStatusChanged, id, "", StatusPayload{Session: data, Previous: prev})
	}
	s.flush.now(id)
}

func (s *Supervisor) consume(id string, sess *session, gen uint64, inv runtime.Invocation) {
	for ev := range inv.Events() {
		s.handleEvent(id, sess, gen, ev)
	}
	s.invocationEnded(id, sess, gen)
}

func (s *Supervisor) handleEvent(id string, sess *session, gen uint64, ev runtime.Event) {
	s.mu.Lock()
	if sess.deleted || sess.gen != gen {
		s.mu.Unlock()
		return
	}

	switch ev.Kind {
	case runtime.EventInit:
		if ev.RuntimeSessionID != "" {
			sess.data.RuntimeSessionID = ev.RuntimeSessionID
		}
		prev := sess.data.Status
		changed := s.setStatusLocked(sess, models.SessionRunning)
		data := sess.data
		s.mu.Unlock()

		if changed {
			s.publish(notify.EventSessionStatusChanged, id, "", StatusPayload{Session: data, Previous: prev})
		}
		s.flush.now(id)
		s.syncTasks(id)

	case runtime.EventText:
		sess.output = appendOutput(sess.output, ev.Text)
		sess.data.UpdatedAt = s.now()
		s.mu.Unlock()

		s.publish(notify.EventSessionOutput, id, "", OutputPayload{Text: ev.Text})
		s.flush.mark(id)

	case runtime.EventUsage:
		sess.data.CostUSD = sess.baseCost + ev.CostUSD
		sess.data.InputTokens = sess.baseIn + ev.InputTokens
		sess.data.OutputTokens = sess.baseOut + ev.OutputTokens
		sess.data.UpdatedAt = s.now()
		over := sess.data.OverBudget() && !sess.budgetStopIssued
		if over {
			sess.budgetStopIssued = true
		}
		cost := CostPayload{
			CostUSD:      sess.data.CostUSD,
			InputTokens:  sess.data.InputTokens,
			OutputTokens: sess.data.OutputTokens,
		}
		budget := sess.data.Config.MaxBudgetUSD
		s.mu.Unlock()

		s.publish(notify.EventCostUpdated, id, "", cost)
		s.flush.now(id)
		if over {
			s.logger.Warn("spend ceiling exceeded, stopping session",
				"session_id", id, "cost_usd", cost.CostUSD, "max_budget_usd", budget)
			s.publish(notify.EventError, id, "", ErrorPayload{
				Message: fmt.Sprintf("spend ceiling of $%.2f exceeded", budget),
			})
			s.goSafe("budget stop "+id, func() { _ = s.StopSession(s.ctx, id) })
		}

	case runtime.EventResult:
		sess.inv = nil
		status := models.SessionCompleted
		if ev.IsError {
			status = models.SessionError
		}
		prev := sess.data.Status
		changed := s.setStatusLocked(sess, status)
		data := sess.data
		s.mu.Unlock()

		if ev.IsError {
			msg := ev.Text
			if msg == "" {
				msg = "runtime reported an error"
			}
			s.publish(notify.EventError, id, "", ErrorPayload{Message: msg})
		}
		if changed {
			s.publish(notify.EventSessionStatusChanged, id, "", StatusPayload{Session: data, Previous: prev})
		}
		s.flush.now(id)

	case runtime.EventError:
		sess.inv = nil
		prev := sess.data.Status
		changed := s.setStatusLocked(sess, models.SessionError)
		data := sess.data
		s.mu.Unlock()

		msg := "runtime error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		s.logger.Error("runtime error", "session_id", id, "error", msg)
		s.publish(notify.EventError, id, "", ErrorPayload{Message: msg})
		if changed {
			s.publish(notify.EventSessionStatusChanged, id, "", StatusPayload{Session: data, Previous: prev})
		}
		s.flush.now(id)

	default:
		s.mu.Unlock()
	}
}

// invocationEnded handles a stream that closed without a result.
func (s *Supervisor) invocationEnded(id string, sess *session, gen uint64) {
	s.mu.Lock()
	if sess.deleted || sess.gen != gen {
		s.mu.Unlock()
		return
	}
	sess.inv = nil
	if !sess.data.Status.Active() {
		s.mu.Unlock()
		return
	}
	prev := sess.data.Status
	s.setStatusLocked(sess, models.SessionCompleted)
	data := sess.data
	s.mu.Unlock()

	s.publish(notify.EventSessionStatusChanged, id, "", StatusPayload{Session: data, Previous: prev})
	s.flush.now(id)
}

func (s *Supervisor) rename(id, task string) {
	title, ok := s.opts.Namer.Generate(s.ctx, task)
	if !ok {
		return
	}
	s.mu.Lock()
	sess, found := s.sessions[id]
	if !found || sess.deleted || sess.data.Name == title {
		s.mu.Unlock()
		return
	}
	sess.data.Name = title
	sess.data.UpdatedAt = s.now()
	s.mu.Unlock()

	s.publish(notify.EventSessionRenamed, id, "", RenamedPayload{Name: title})
	s.flush.now(id)
}

// setStatusLocked reports whether the status changed. The caller holds s.mu.
func (s *Supervisor) setStatusLocked(sess *session, status models.SessionStatus) bool {
	if sess.data.Status == status {
		return false
	}
	sess.data.Status = status
	sess.data.UpdatedAt = s.now()
	return true
}

func appendOutput(output, text string) string {
	if output == "" {
		return text
	}
	return output + "\n\n" + text
}

func startRequest(data models.Session, prompt string) runtime.StartRequest {
	return runtime.StartRequest{
		SessionID:      data.ID,
		WorkDir:        data.Config.WorkDir,
		Model:          data.Config.Model,
		PermissionMode: data.Config.PermissionMode,
		Prompt:         prompt,
		SystemPrompt:   systemPrompt(data.Config),
	}
}

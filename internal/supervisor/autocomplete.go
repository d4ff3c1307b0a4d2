package supervisor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ShayCichocki/teamlead/internal/logging"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// autoCompleter runs fire for a session once no teammate activity has been
// seen for the quiet period. Scheduling again restarts the timer.
type autoCompleter struct {
	quiet  time.Duration
	fire   func(sessionID string)
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*pendingFire
	seq    uint64
	closed bool
}

type pendingFire struct {
	timer *time.Timer
	token uint64
}

func newAutoCompleter(quiet time.Duration, fire func(string), logger *slog.Logger) *autoCompleter {
	return &autoCompleter{
		quiet:  quiet,
		fire:   fire,
		logger: logging.OrDiscard(logger).With("component", "autocomplete"),
		timers: make(map[string]*pendingFire),
	}
}

func (a *autoCompleter) schedule(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if p, ok := a.timers[sessionID]; ok {
		p.timer.Stop()
	}
	a.seq++
	token := a.seq
	p := &pendingFire{token: token}
	p.timer = time.AfterFunc(a.quiet, func() { a.expire(sessionID, token) })
	a.timers[sessionID] = p
}

func (a *autoCompleter) expire(sessionID string, token uint64) {
	a.mu.Lock()
	p, ok := a.timers[sessionID]
	if !ok || p.token != token || a.closed {
		// Rescheduled or cancelled after the timer fired.
		a.mu.Unlock()
		return
	}
	delete(a.timers, sessionID)
	a.mu.Unlock()

	logging.Safely(a.logger, "auto-complete "+sessionID, func() { a.fire(sessionID) })
}

func (a *autoCompleter) cancel(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.timers[sessionID]; ok {
		p.timer.Stop()
		delete(a.timers, sessionID)
	}
}

func (a *autoCompleter) pending(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.timers[sessionID]
	return ok
}

func (a *autoCompleter) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for id, p := range a.timers {
		p.timer.Stop()
		delete(a.timers, id)
	}
}

// autoComplete wraps up a running session whose teammates have all settled:
// the lead is stopped and resumed once with the wrap-up prompt. It fires at
// most once per operator prompt.
func (s *Supervisor) autoComplete(id string) {
	sess, err := s.lookup(id)
	if err != nil {
		return
	}
	sess.runMu.Lock()
	defer sess.runMu.Unlock()

	s.mu.Lock()
	eligible := !sess.deleted && sess.data.Status == models.SessionRunning && !sess.wrapUpIssued
	if eligible {
		sess.wrapUpIssued = true
	}
	s.mu.Unlock()
	if !eligible {
		return
	}

	count, settled := s.registry.Settled(id)
	if count == 0 || !settled {
		s.mu.Lock()
		sess.wrapUpIssued = false
		s.mu.Unlock()
		return
	}

	s.logger.Info("all teammates settled, wrapping up", "session_id", id, "teammates", count)
	s.teardownLocked(id, sess)
	s.finishLocked(id, sess, models.SessionCompleted)
	if err := s.continueLocked(id, sess, wrapUpPrompt, nil, true); err != nil {
		s.logger.Warn("wrap-up continue failed", "session_id", id, "error", err)
	}
}

// Package permission correlates tool-permission requests from the agent
// runtime with decisions made by the operator.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/teamlead/internal/logging"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// ErrDuplicateRequest is returned when a request id is already pending.
var ErrDuplicateRequest = errors.New("permission request already pending")

// DefaultAuditLimit bounds the per-session audit log.
const DefaultAuditLimit = 200

// Observer is told about every request and every resolution.
type Observer interface {
	PermissionRequested(req models.PendingPermission)
	PermissionResolved(audit models.PermissionAudit)
}

// entry is one row of the pending table.
type entry struct {
	req   models.PendingPermission
	reply chan resolution
}

type resolution struct {
	decision models.PermissionDecision
	forced   bool
}

// Gate holds the pending-request table. A request id maps to at most one
// entry; resolving removes the entry before delivering the decision, so a
// request is answered at most once.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*entry
	audit   map[string][]models.PermissionAudit

	auditLimit int
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithObserver sets the observer notified of requests and resolutions.
func WithObserver(o Observer) Option {
	return func(g *Gate) { g.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithAuditLimit sets how many resolutions are kept per session.
func WithAuditLimit(n int) Option {
	return func(g *Gate) { g.auditLimit = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates an empty gate.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		pending:    make(map[string]*entry),
		audit:      make(map[string][]models.PermissionAudit),
		auditLimit: DefaultAuditLimit,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrDiscard(g.logger).With("component", "permission")
	return g
}

// Request registers req and blocks until it is resolved or ctx ends. A
// missing request id is generated. Cancellation removes the entry and is
// recorded as a forced deny.
func (g *Gate) Request(ctx context.Context, req models.PendingPermission) (models.PermissionDecision, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = g.now()
	}

	e := &entry{req: req, reply: make(chan resolution, 1)}

	g.mu.Lock()
	if _, exists := g.pending[req.RequestID]; exists {
		g.mu.Unlock()
		return models.PermissionDecision{}, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.RequestID)
	}
	g.pending[req.RequestID] = e
	g.mu.Unlock()

	g.logger.Debug("permission requested",
		"request_id", req.RequestID, "session_id", req.SessionID, "tool", req.ToolName)
	if g.observer != nil {
		g.observer.PermissionRequested(req)
	}

	select {
	case res := <-e.reply:
		return res.decision, nil
	case <-ctx.Done():
		if g.take(req.RequestID, false) != nil {
			g.finish(e, models.Deny("permission request cancelled"), true, false)
			return models.PermissionDecision{}, ctx.Err()
		}
		// Lost the race with a resolver; its decision is already buffered.
		res := <-e.reply
		return res.decision, nil
	}
}

// Resolve answers a pending request. Unknown or already resolved ids are a
// no-op and return false.
func (g *Gate) Resolve(requestID string, decision models.PermissionDecision) bool {
	e := g.take(requestID, false)
	if e == nil {
		return false
	}
	g.finish(e, decision, false, false)
	return true
}

// AnswerQuestion answers a pending ask-user request. The answer travels as a
// deny whose message carries the text, which the runtime hands back to the
// model as the tool result. Returns false if the id is unknown or is not a
// question.
func (g *Gate) AnswerQuestion(requestID, answer string) bool {
	e := g.take(requestID, true)
	if e == nil {
		return false
	}
	g.finish(e, models.Deny(QuestionAnswer(answer)), false, false)
	return true
}

// QuestionAnswer formats an operator answer for the runtime.
func QuestionAnswer(answer string) string {
	return "The user answered: " + answer
}

// AutoAllow records a request that policy allowed without asking anyone.
func (g *Gate) AutoAllow(req models.PendingPermission) models.PermissionDecision {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = g.now()
	}
	decision := models.Allow(nil)
	g.finish(&entry{req: req}, decision, false, true)
	return decision
}

// CancelSession force-denies every pending request of the session and
// returns how many were denied.
func (g *Gate) CancelSession(sessionID, reason string) int {
	g.mu.Lock()
	var victims []*entry
	for id, e := range g.pending {
		if e.req.SessionID == sessionID {
			delete(g.pending, id)
			victims = append(victims, e)
		}
	}
	g.mu.Unlock()

	for _, e := range victims {
		g.finish(e, models.Deny(reason), true, false)
	}
	if len(victims) > 0 {
		g.logger.Info("force-denied pending permissions", "session_id", sessionID, "count", len(victims), "reason", reason)
	}
	return len(victims)
}

// Forget drops the audit log of a session.
func (g *Gate) Forget(sessionID string) {
	g.mu.Lock()
	delete(g.audit, sessionID)
	g.mu.Unlock()
}

// Get returns a pending request by id.
func (g *Gate) Get(requestID string) (models.PendingPermission, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.pending[requestID]
	if !ok {
		return models.PendingPermission{}, false
	}
	return e.req, true
}

// Pending returns the pending requests of a session, oldest first.
func (g *Gate) Pending(sessionID string) []models.PendingPermission {
	g.mu.Lock()
	var out []models.PendingPermission
	for _, e := range g.pending {
		if e.req.SessionID == sessionID {
			out = append(out, e.req)
		}
	}
	g.mu.Unlock()
	sortByCreated(out)
	return out
}

// All returns every pending request, oldest first.
func (g *Gate) All() []models.PendingPermission {
	g.mu.Lock()
	out := make([]models.PendingPermission, 0, len(g.pending))
	for _, e := range g.pending {
		out = append(out, e.req)
	}
	g.mu.Unlock()
	sortByCreated(out)
	return out
}

// Audit returns the resolutions recorded for a session, oldest first.
func (g *Gate) Audit(sessionID string) []models.PermissionAudit {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.PermissionAudit(nil), g.audit[sessionID]...)
}

// take removes and returns a pending entry.
func (g *Gate) take(requestID string, questionOnly bool) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.pending[requestID]
	if !ok {
		return nil
	}
	if questionOnly && !e.req.IsQuestion() {
		return nil
	}
	delete(g.pending, requestID)
	return e
}

// finish audits a removed entry and delivers its decision.
func (g *Gate) finish(e *entry, decision models.PermissionDecision, forced, automatic bool) {
	record := models.PermissionAudit{
		Request:    e.req,
		Decision:   decision,
		Forced:     forced,
		Automatic:  automatic,
		ResolvedAt: g.now(),
	}

	g.mu.Lock()
	trail := append(g.audit[e.req.SessionID], record)
	if g.auditLimit > 0 && len(trail) > g.auditLimit {
		trail = trail[len(trail)-g.auditLimit:]
	}
	g.audit[e.req.SessionID] = trail
	g.mu.Unlock()

	if e.reply != nil {
		e.reply <- resolution{decision: decision, forced: forced}
	}

	g.logger.Debug("permission resolved",
		"request_id", e.req.RequestID, "behavior", decision.Behavior, "forced", forced, "automatic", automatic)
	if g.observer != nil {
		g.observer.PermissionResolved(record)
	}
}

func sortByCreated(reqs []models.PendingPermission) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].RequestID < reqs[j].RequestID
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}

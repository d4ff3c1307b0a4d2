package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/teamlead/internal/logging"
	"github.com/ShayCichocki/teamlead/internal/team"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// DefaultLogLimit bounds the per-session relayed-message log.
const DefaultLogLimit = 100

// Resumer resumes a teammate's runtime sub-conversation with new context.
type Resumer interface {
	ResumeTeammate(ctx context.Context, sessionID, agentID, content string) error
}

// Observer is told about every relayed message.
type Observer interface {
	MessageRelayed(sessionID string, msg models.TeammateMessage, recipients []string)
}

// Router relays message markers found in teammate output.
type Router struct {
	registry *team.Registry
	resumer  Resumer
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
	limit    int

	mu   sync.Mutex
	logs map[string][]models.TeammateMessage

	inflight sync.WaitGroup
}

// NewRouter creates a router. observer may be nil.
func NewRouter(reg *team.Registry, resumer Resumer, observer Observer, logger *slog.Logger) *Router {
	return &Router{
		registry: reg,
		resumer:  resumer,
		observer: observer,
		logger:   logging.OrDiscard(logger).With("component", "router"),
		now:      time.Now,
		limit:    DefaultLogLimit,
		logs:     make(map[string][]models.TeammateMessage),
	}
}

// Scan parses the sender's cached output and delivers every message in it.
// It returns the number of messages handed to delivery.
func (r *Router) Scan(ctx context.Context, sessionID string, sender models.Teammate) int {
	msgs, errs := Parse(sender.Output, sender.DisplayName(), r.now())
	for _, err := range errs {
		r.logger.Warn("dropping message marker", "session_id", sessionID, "agent_id", sender.AgentID, "error", err)
	}
	for _, msg := range msgs {
		r.deliver(ctx, sessionID, sender.AgentID, msg)
	}
	return len(msgs)
}

// Deliver forwards one message. Forwards run in the background; the returned
// slice lists the agent ids a forward was started for.
func (r *Router) Deliver(ctx context.Context, sessionID string, msg models.TeammateMessage) []string {
	senderID := ""
	if t, ok := r.registry.ResolveLive(sessionID, msg.Sender); ok {
		senderID = t.AgentID
	}
	return r.deliver(ctx, sessionID, senderID, msg)
}

func (r *Router) deliver(ctx context.Context, sessionID, senderID string, msg models.TeammateMessage) []string {
	var recipients []string

	switch msg.Type {
	case models.MessageBroadcast:
		for _, t := range r.registry.Session(sessionID) {
			if t.AgentID == senderID || (senderID == "" && strings.EqualFold(t.DisplayName(), msg.Sender)) {
				continue
			}
			recipients = append(recipients, t.AgentID)
		}
	default:
		t, ok := r.registry.ResolveLive(sessionID, msg.Recipient)
		if !ok {
			r.logger.Info("message recipient not live, dropping",
				"session_id", sessionID, "type", msg.Type, "sender", msg.Sender, "recipient", msg.Recipient)
			return nil
		}
		recipients = []string{t.AgentID}
	}

	r.record(sessionID, msg)
	if r.observer != nil {
		r.observer.MessageRelayed(sessionID, msg, recipients)
	}

	content := Format(msg)
	for _, agentID := range recipients {
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			logging.Safely(r.logger, "deliver message", func() {
				if err := r.resumer.ResumeTeammate(ctx, sessionID, agentID, content); err != nil {
					r.logger.Warn("message delivery failed",
						"session_id", sessionID, "recipient", agentID, "error", err)
				}
			})
		}()
	}
	return recipients
}

func (r *Router) record(sessionID string, msg models.TeammateMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trail := append(r.logs[sessionID], msg)
	if len(trail) > r.limit {
		trail = trail[len(trail)-r.limit:]
	}
	r.logs[sessionID] = trail
}

// Log returns the recent relayed messages of a session, oldest first.
func (r *Router) Log(sessionID string) []models.TeammateMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TeammateMessage(nil), r.logs[sessionID]...)
}

// Forget drops the message log of a session.
func (r *Router) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.logs, sessionID)
}

// Wait blocks until every started forward has returned.
func (r *Router) Wait() {
	r.inflight.Wait()
}

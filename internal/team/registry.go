// Package team tracks the teammates spawned by each session's lead agent.
package team

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

var (
	// ErrTeammateNotFound is returned for unknown agent ids.
	ErrTeammateNotFound = errors.New("teammate not found")
	// ErrIllegalTransition is returned when a status change breaks the state machine.
	ErrIllegalTransition = errors.New("illegal teammate transition")
)

// Source identifies what drove a status change.
type Source string

const (
	SourceHook    Source = "hook"
	SourcePoller  Source = "poller"
	SourceRouter  Source = "router"
	SourceRecover Source = "recover"
)

// Change describes the result of a mutation.
type Change struct {
	Teammate models.Teammate
	From     models.TeammateStatus
	// Changed is false when the mutation was a no-op.
	Changed bool
}

type member struct {
	t models.Teammate
	// scanned is the output text whose message markers were already relayed.
	scanned string
}

// Registry is the single owner of teammate state. Hook events and the
// transcript poller both mutate it through Transition.
type Registry struct {
	mu      sync.RWMutex
	members map[string]*member
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		members: make(map[string]*member),
		now:     time.Now,
	}
}

// SetClock overrides time.Now (for tests).
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Discover inserts a starting teammate. It returns false if the agent id is
// already known, leaving the existing record untouched.
func (r *Registry) Discover(sessionID, agentID, agentType string) (models.Teammate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.members[agentID]; ok {
		return m.t, false
	}
	now := r.now()
	m := &member{t: models.Teammate{
		AgentID:      agentID,
		SessionID:    sessionID,
		AgentType:    agentType,
		Status:       models.TeammateStarting,
		DiscoveredAt: now,
		UpdatedAt:    now,
	}}
	r.members[agentID] = m
	return m.t, true
}

// Transition moves a teammate to a new status.
func (r *Registry) Transition(agentID string, to models.TeammateStatus, source Source) (Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[agentID]
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrTeammateNotFound, agentID)
	}
	return r.transitionLocked(m, to, source)
}

func (r *Registry) transitionLocked(m *member, to models.TeammateStatus, source Source) (Change, error) {
	from := m.t.Status
	if !from.CanTransition(to) {
		return Change{Teammate: m.t, From: from}, fmt.Errorf("%w: %s -> %s (%s, %s)",
			ErrIllegalTransition, from, to, m.t.AgentID, source)
	}
	if from == to {
		return Change{Teammate: m.t, From: from}, nil
	}
	m.t.Status = to
	m.t.UpdatedAt = r.now()
	return Change{Teammate: m.t, From: from, Changed: true}, nil
}

// MarkStopped moves a teammate to stopped and records its transcript path.
func (r *Registry) MarkStopped(agentID, transcriptPath string) (Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[agentID]
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrTeammateNotFound, agentID)
	}
	if transcriptPath != "" && m.t.TranscriptPath != transcriptPath {
		m.t.TranscriptPath = transcriptPath
		m.t.UpdatedAt = r.now()
	}
	return r.transitionLocked(m, models.TeammateStopped, SourceHook)
}

// MarkIdle resolves the display name and moves the teammate to idle. The
// first idle event per teammate names it. Without an agent id, the teammate
// already carrying displayName is chosen, else the oldest unnamed one.
func (r *Registry) MarkIdle(sessionID, agentID, displayName string) (Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var m *member
	if agentID != "" {
		m = r.members[agentID]
	} else {
		m = r.namedLocked(sessionID, displayName)
		if m == nil {
			m = r.firstUnnamedLocked(sessionID)
		}
	}
	if m == nil || (sessionID != "" && m.t.SessionID != sessionID) {
		return Change{}, fmt.Errorf("%w: session %s agent %q", ErrTeammateNotFound, sessionID, agentID)
	}

	if !m.t.Status.CanTransition(models.TeammateIdle) {
		return Change{Teammate: m.t, From: m.t.Status}, fmt.Errorf("%w: %s -> idle (%s)",
			ErrIllegalTransition, m.t.Status, m.t.AgentID)
	}

	renamed := false
	if m.t.Name == "" && strings.TrimSpace(displayName) != "" {
		m.t.Name = strings.TrimSpace(displayName)
		m.t.UpdatedAt = r.now()
		renamed = true
	}
	change, err := r.transitionLocked(m, models.TeammateIdle, SourceHook)
	change.Changed = change.Changed || renamed
	change.Teammate = m.t
	return change, err
}

func (r *Registry) namedLocked(sessionID, name string) *member {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	for _, m := range r.members {
		if m.t.SessionID == sessionID && strings.EqualFold(m.t.Name, name) {
			return m
		}
	}
	return nil
}

func (r *Registry) firstUnnamedLocked(sessionID string) *member {
	var best *member
	for _, m := range r.members {
		if m.t.SessionID != sessionID || m.t.Name != "" {
			continue
		}
		if best == nil || m.t.DiscoveredAt.Before(best.t.DiscoveredAt) ||
			(m.t.DiscoveredAt.Equal(best.t.DiscoveredAt) && m.t.AgentID < best.t.AgentID) {
			best = m
		}
	}
	return best
}

// SetOutputIfEmpty caches output text unless some is already cached.
// Recovery may run any number of times; only the first non-empty text sticks.
func (r *Registry) SetOutputIfEmpty(agentID, text string) (models.Teammate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[agentID]
	if !ok {
		return models.Teammate{}, false
	}
	if m.t.Output != "" || text == "" {
		return m.t, false
	}
	m.t.Output = text
	m.t.UpdatedAt = r.now()
	return m.t, true
}

// SetTranscriptPath records where the teammate's transcript lives.
func (r *Registry) SetTranscriptPath(agentID, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[agentID]; ok && path != "" {
		m.t.TranscriptPath = path
	}
}

// MarkScanned claims the marker scan of the teammate's current output. It
// returns true once per distinct output text.
func (r *Registry) MarkScanned(agentID string) (models.Teammate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[agentID]
	if !ok || m.t.Output == "" || m.scanned == m.t.Output {
		return models.Teammate{}, false
	}
	m.scanned = m.t.Output
	return m.t, true
}

// Get returns a teammate by agent id.
func (r *Registry) Get(agentID string) (models.Teammate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[agentID]
	if !ok {
		return models.Teammate{}, false
	}
	return m.t, true
}

// ResolveLive finds a teammate of the session that has not stopped, by
// display name (case-insensitive) or agent id.
func (r *Registry) ResolveLive(sessionID, nameOrID string) (models.Teammate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m.t.SessionID != sessionID || m.t.Status == models.TeammateStopped {
			continue
		}
		if m.t.AgentID == nameOrID || (m.t.Name != "" && strings.EqualFold(m.t.Name, nameOrID)) {
			return m.t, true
		}
	}
	return models.Teammate{}, false
}

// Session returns the teammates of a session in discovery order.
func (r *Registry) Session(sessionID string) []models.Teammate {
	r.mu.RLock()
	var out []models.Teammate
	for _, m := range r.members {
		if m.t.SessionID == sessionID {
			out = append(out, m.t)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
	})
	return out
}

// Settled reports how many teammates the session has and whether every one
// of them is idle or stopped.
func (r *Registry) Settled(sessionID string) (count int, allSettled bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allSettled = true
	for _, m := range r.members {
		if m.t.SessionID != sessionID {
			continue
		}
		count++
		if !m.t.Status.Settled() {
			allSettled = false
		}
	}
	return count, allSettled
}

// RemoveSession drops every teammate of a session and returns their ids.
func (r *Registry) RemoveSession(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, m := range r.members {
		if m.t.SessionID == sessionID {
			delete(r.members, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Restore loads persisted teammates. Restored output counts as already
// scanned so markers are not relayed a second time.
func (r *Registry) Restore(teammates []models.Teammate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range teammates {
		r.members[t.AgentID] = &member{t: t, scanned: t.Output}
	}
}

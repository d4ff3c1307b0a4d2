package transcript

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/ShayCichocki/teamlead/internal/logging"
	"github.com/ShayCichocki/teamlead/internal/team"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// PathFunc returns the transcript path for a teammate, or "" if unknown yet.
type PathFunc func(t models.Teammate) string

// Listener is told about every registry change the poller makes.
type Listener interface {
	TeammateChanged(change team.Change)
	TeammateOutput(t models.Teammate)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Fs       afero.Fs
	Registry *team.Registry
	Path     PathFunc
	Interval time.Duration
	Listener Listener
	Logger   *slog.Logger
}

// Poller runs one polling loop per teammate until its output is cached and
// it has settled, it disappears from the registry, or its session stops.
type Poller struct {
	cfg    PollerConfig
	logger *slog.Logger

	mu      sync.Mutex
	loops   map[string]*loop // by agent id
	closed  bool
	running sync.WaitGroup
}

type loop struct {
	sessionID string
	cancel    context.CancelFunc
}

// NewPoller creates a poller.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Poller{
		cfg:    cfg,
		logger: logging.OrDiscard(cfg.Logger).With("component", "poller"),
		loops:  make(map[string]*loop),
	}
}

// Start begins polling a teammate. Starting an agent that is already being
// polled is a no-op.
func (p *Poller) Start(sessionID, agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if _, ok := p.loops[agentID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{sessionID: sessionID, cancel: cancel}
	p.loops[agentID] = l

	p.running.Add(1)
	go func() {
		defer p.running.Done()
		defer p.remove(agentID, l)
		p.run(ctx, agentID)
	}()
}

// Stop cancels the loop of one teammate.
func (p *Poller) Stop(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.loops[agentID]; ok {
		l.cancel()
		delete(p.loops, agentID)
	}
}

// StopSession cancels every loop of a session.
func (p *Poller) StopSession(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, l := range p.loops {
		if l.sessionID == sessionID {
			l.cancel()
			delete(p.loops, id)
			n++
		}
	}
	return n
}

// Active returns the number of running loops for a session.
func (p *Poller) Active(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, l := range p.loops {
		if l.sessionID == sessionID {
			n++
		}
	}
	return n
}

// Polling reports whether a teammate has a running loop.
func (p *Poller) Polling(agentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loops[agentID]
	return ok
}

// Close stops every loop and waits for them to exit.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	for id, l := range p.loops {
		l.cancel()
		delete(p.loops, id)
	}
	p.mu.Unlock()
	p.running.Wait()
}

func (p *Poller) remove(agentID string, l *loop) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.loops[agentID]; ok && cur == l {
		delete(p.loops, agentID)
	}
	l.cancel()
}

func (p *Poller) run(ctx context.Context, agentID string) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		done := false
		if logging.Safely(p.logger, "poll "+agentID, func() { done = p.Tick(agentID) }) {
			continue
		}
		if done {
			return
		}
	}
}

// Tick performs one poll of a teammate and reports whether polling is done.
func (p *Poller) Tick(agentID string) bool {
	t, ok := p.cfg.Registry.Get(agentID)
	if !ok {
		return true
	}
	if t.Status.Settled() && t.Output != "" {
		return true
	}

	path := t.TranscriptPath
	if path == "" && p.cfg.Path != nil {
		path = p.cfg.Path(t)
	}
	if path == "" {
		return false
	}

	tr, err := Read(p.cfg.Fs, path)
	if err != nil {
		// Absent or unreadable: no output yet.
		return false
	}

	if t.Status == models.TeammateStarting && len(tr.Entries) > 0 {
		change, err := p.cfg.Registry.Transition(agentID, models.TeammateWorking, team.SourcePoller)
		if err != nil && !errors.Is(err, team.ErrIllegalTransition) {
			return true
		}
		if change.Changed {
			t = change.Teammate
			if p.cfg.Listener != nil {
				p.cfg.Listener.TeammateChanged(change)
			}
		}
	}

	if tr.FinalText != "" && (tr.Finished || t.Status.Settled()) {
		if updated, ok := p.cfg.Registry.SetOutputIfEmpty(agentID, tr.FinalText); ok {
			p.cfg.Registry.SetTranscriptPath(agentID, path)
			if p.cfg.Listener != nil {
				p.cfg.Listener.TeammateOutput(updated)
			}
		}
	}

	cur, ok := p.cfg.Registry.Get(agentID)
	return !ok || (cur.Status.Settled() && cur.Output != "")
}

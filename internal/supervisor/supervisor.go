// Package supervisor owns the lifecycle of every session: it drives the lead
// agent's runtime invocations, routes hook events into the teammate registry,
// the task resolver and the auto-completion detector, and publishes every
// state change to the notification hub.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/ShayCichocki/teamlead/internal/logging"
	"github.com/ShayCichocki/teamlead/internal/messaging"
	"github.com/ShayCichocki/teamlead/internal/naming"
	"github.com/ShayCichocki/teamlead/internal/notify"
	"github.com/ShayCichocki/teamlead/internal/permission"
	"github.com/ShayCichocki/teamlead/internal/runtime"
	"github.com/ShayCichocki/teamlead/internal/state"
	"github.com/ShayCichocki/teamlead/internal/taskstore"
	"github.com/ShayCichocki/teamlead/internal/team"
	"github.com/ShayCichocki/teamlead/internal/transcript"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionStarting is returned when continuing a session the runtime
	// has not accepted yet.
	ErrSessionStarting = errors.New("session is still starting")
	// ErrNoRuntimeSession is returned when continuing a session that never
	// got a runtime identity.
	ErrNoRuntimeSession = errors.New("session has no runtime session")
	// ErrOverBudget is returned when continuing a session whose spend has
	// reached its ceiling.
	ErrOverBudget = errors.New("session is over its spend ceiling")
	// ErrPermissionNotFound is returned when resolving an unknown or already
	// resolved permission request.
	ErrPermissionNotFound = errors.New("permission request not found")
	// ErrInvalidConfig wraps session configuration errors.
	ErrInvalidConfig = errors.New("invalid session config")
	// ErrInvalidMessage is returned for operator messages that cannot be
	// routed.
	ErrInvalidMessage = errors.New("invalid message")
)

// Options configures a Supervisor.
type Options struct {
	Runtime runtime.Runtime
	Store   state.SessionStore
	Tasks   *taskstore.Store
	Hub     *notify.Hub
	Namer   *naming.Generator

	// Fs reads teammate transcripts.
	Fs afero.Fs
	// ClaudeDir is the runtime's data directory.
	ClaudeDir string

	DefaultModel          string
	DefaultPermissionMode models.PermissionMode

	PollInterval     time.Duration
	QuietPeriod      time.Duration
	FlushInterval    time.Duration
	InterruptTimeout time.Duration

	Logger *slog.Logger
	// Now overrides time.Now (for tests).
	Now func() time.Time
}

// session is the in-memory state of one session. Fields other than runMu
// are guarded by Supervisor.mu.
type session struct {
	// runMu serialises invocation teardown and start.
	runMu sync.Mutex

	data   models.Session
	output string
	tasks  []models.TeamTask

	inv runtime.Invocation
	// gen identifies the current invocation; events from older ones are ignored.
	gen uint64
	// base holds the totals the current invocation's usage is added to.
	baseCost         float64
	baseIn, baseOut  int64
	wrapUpIssued     bool
	budgetStopIssued bool
	deleted          bool
}

// Supervisor coordinates sessions.
type Supervisor struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	registry *team.Registry
	gate     *permission.Gate
	poller   *transcript.Poller
	router   *messaging.Router
	resolver *taskstore.Resolver
	locator  transcript.Locator
	auto     *autoCompleter
	flush    *flusher

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a supervisor. Call Recover before serving requests and Run to
// start background persistence.
func New(opts Options) (*Supervisor, error) {
	if opts.Runtime == nil {
		return nil, errors.New("supervisor: runtime is required")
	}
	if opts.Store == nil {
		return nil, errors.New("supervisor: store is required")
	}
	if opts.Hub == nil {
		opts.Hub = notify.NewHub(opts.Logger)
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Tasks == nil {
		opts.Tasks = taskstore.New(opts.Fs, opts.ClaudeDir, opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultPermissionMode == "" {
		opts.DefaultPermissionMode = models.PermissionAcceptEdits
	}
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = 15 * time.Second
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.InterruptTimeout <= 0 {
		opts.InterruptTimeout = 5 * time.Second
	}

	logger := logging.OrDiscard(opts.Logger).With("component", "supervisor")
	s := &Supervisor{
		opts:     opts,
		logger:   logger,
		now:      opts.Now,
		registry: team.NewRegistry(),
		resolver: taskstore.NewResolver(opts.Tasks, opts.Logger),
		locator:  transcript.Locator{ClaudeDir: opts.ClaudeDir},
		sessions: make(map[string]*session),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.registry.SetClock(opts.Now)
	s.gate = permission.NewGate(
		permission.WithObserver(s),
		permission.WithLogger(opts.Logger),
		permission.WithClock(opts.Now),
	)
	s.router = messaging.NewRouter(s.registry, s, s, opts.Logger)
	s.poller = transcript.NewPoller(transcript.PollerConfig{
		Fs:       opts.Fs,
		Registry: s.registry,
		Path:     s.transcriptPath,
		Interval: opts.PollInterval,
		Listener: s,
		Logger:   opts.Logger,
	})
	s.auto = newAutoCompleter(opts.QuietPeriod, s.autoComplete, opts.Logger)
	s.flush = newFlusher(opts.FlushInterval, s.persist, opts.Logger)

	opts.Hub.SetSnapshot(func() any { return s.Snapshot() })
	return s, nil
}

// Hub returns the notification hub.
func (s *Supervisor) Hub() *notify.Hub {
	return s.opts.Hub
}

// Run flushes dirty sessions until ctx is done, then drains them once more.
func (s *Supervisor) Run(ctx context.Context) error {
	s.flush.run(ctx)
	return nil
}

// WatchTasks syncs the task list of every session whose task directory is
// reported on changes. It returns when changes is closed or ctx is done.
func (s *Supervisor) WatchTasks(ctx context.Context, changes <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case dir, ok := <-changes:
			if !ok {
				return
			}
			logging.Safely(s.logger, "task directory change", func() { s.tasksChanged(dir) })
		}
	}
}

// Shutdown stops background work. Running invocations are aborted; their
// sessions are closed by Recover on the next start.
func (s *Supervisor) Shutdown() {
	s.auto.close()
	s.cancel()
	s.poller.Close()
	s.router.Wait()
	s.bg.Wait()
	s.flush.drain()
}

// Get returns one session.
func (s *Supervisor) Get(id string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess.data, nil
}

// List returns every session, oldest first.
func (s *Supervisor) List() []models.Session {
	s.mu.Lock()
	out := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.data)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Teammates returns the teammates of a session in discovery order.
func (s *Supervisor) Teammates(sessionID string) []models.Teammate {
	return s.registry.Session(sessionID)
}

// PendingPermissions returns the outstanding requests of a session, or of
// every session when sessionID is empty.
func (s *Supervisor) PendingPermissions(sessionID string) []models.PendingPermission {
	if sessionID == "" {
		return s.gate.All()
	}
	return s.gate.Pending(sessionID)
}

func (s *Supervisor) lookup(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.deleted {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// resolve finds the session a hook belongs to, by supervisor id first and
// runtime session id second.
func (s *Supervisor) resolve(sessionID, runtimeSessionID string) (*session, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != "" {
		if sess, ok := s.sessions[sessionID]; ok && !sess.deleted {
			return sess, sessionID, true
		}
	}
	if runtimeSessionID != "" {
		for id, sess := range s.sessions {
			if !sess.deleted && sess.data.RuntimeSessionID == runtimeSessionID {
				return sess, id, true
			}
		}
	}
	return nil, "", false
}

// goSafe runs fn in the background under the supervisor's wait group.
func (s *Supervisor) goSafe(what string, fn func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		logging.Safely(s.logger, what, fn)
	}()
}

func (s *Supervisor) publish(t notify.EventType, sessionID, agentID string, payload any) {
	s.opts.Hub.Publish(notify.Event{
		Type:      t,
		SessionID: sessionID,
		AgentID:   agentID,
		Payload:   payload,
		Time:      s.now(),
	})
}

func newSessionID() string {
	return uuid.NewString()
}

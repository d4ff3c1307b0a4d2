package supervisor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/teamlead/internal/logging"
	"github.com/ShayCichocki/teamlead/internal/state"
)

// flusher persists sessions. Status changes are written immediately; output
// growth only marks the session dirty and is written on the next tick.
type flusher struct {
	interval time.Duration
	save     func(id string) error
	logger   *slog.Logger

	// saveMu orders writes against deletes.
	saveMu sync.Mutex

	mu    sync.Mutex
	dirty map[string]struct{}
}

func newFlusher(interval time.Duration, save func(string) error, logger *slog.Logger) *flusher {
	return &flusher{
		interval: interval,
		save:     save,
		logger:   logging.OrDiscard(logger).With("component", "flusher"),
		dirty:    make(map[string]struct{}),
	}
}

func (f *flusher) run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.drain()
			return
		case <-ticker.C:
			f.drain()
		}
	}
}

// drain writes every dirty session.
func (f *flusher) drain() {
	f.mu.Lock()
	ids := make([]string, 0, len(f.dirty))
	for id := range f.dirty {
		ids = append(ids, id)
	}
	f.dirty = make(map[string]struct{})
	f.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		f.now(id)
	}
}

func (f *flusher) mark(id string) {
	f.mu.Lock()
	f.dirty[id] = struct{}{}
	f.mu.Unlock()
}

// now writes one session synchronously. A failed write leaves it dirty.
func (f *flusher) now(id string) {
	f.mu.Lock()
	delete(f.dirty, id)
	f.mu.Unlock()

	f.saveMu.Lock()
	err := f.save(id)
	f.saveMu.Unlock()
	if err != nil {
		f.logger.Error("persist session", "session_id", id, "error", err)
		f.mark(id)
	}
}

// remove drops a session from the dirty set and runs fn while no save can
// interleave.
func (f *flusher) remove(id string, fn func() error) error {
	f.mu.Lock()
	delete(f.dirty, id)
	f.mu.Unlock()

	f.saveMu.Lock()
	defer f.saveMu.Unlock()
	return fn()
}

// persist writes one session with its teammates. Deleted sessions are skipped.
func (s *Supervisor) persist(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.deleted {
		s.mu.Unlock()
		return nil
	}
	rec := state.Record{
		Session: sess.data,
		Tasks:   sess.tasks,
		Output:  sess.output,
	}
	s.mu.Unlock()

	rec.Teammates = s.registry.Session(id)
	return s.opts.Store.Save(rec)
}

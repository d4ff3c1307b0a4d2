package supervisor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/teamlead/internal/notify"
	"github.com/ShayCichocki/teamlead/internal/runtime"
	"github.com/ShayCichocki/teamlead/internal/state"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

const claudeDir = "/home/test/.claude"

type fakeInvocation struct {
	mu          sync.Mutex
	events      chan runtime.Event
	done        chan struct{}
	closed      bool
	interrupted bool
}

func newFakeInvocation() *fakeInvocation {
	return &fakeInvocation{
		events: make(chan runtime.Event, 64),
		done:   make(chan struct{}),
	}
}

func (f *fakeInvocation) Events() <-chan runtime.Event { return f.events }
func (f *fakeInvocation) Done() <-chan struct{}        { return f.done }

func (f *fakeInvocation) Interrupt(ctx context.Context) error {
	f.mu.Lock()
	f.interrupted = true
	f.mu.Unlock()
	f.finish()
	return nil
}

func (f *fakeInvocation) Abort() { f.finish() }

func (f *fakeInvocation) emit(ev runtime.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.events <- ev
	}
}

func (f *fakeInvocation) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
		close(f.done)
	}
}

func (f *fakeInvocation) active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeInvocation) wasInterrupted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupted
}

type fakeRuntime struct {
	mu       sync.Mutex
	starts   []runtime.StartRequest
	resumes  []runtime.ResumeRequest
	messages []runtime.AgentMessage
	invs     []*fakeInvocation
	startErr error

	launched chan *fakeInvocation
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{launched: make(chan *fakeInvocation, 32)}
}

func (r *fakeRuntime) Start(ctx context.Context, req runtime.StartRequest) (runtime.Invocation, error) {
	r.mu.Lock()
	r.starts = append(r.starts, req)
	err := r.startErr
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.launch(ctx), nil
}

func (r *fakeRuntime) Resume(ctx context.Context, req runtime.ResumeRequest) (runtime.Invocation, error) {
	r.mu.Lock()
	r.resumes = append(r.resumes, req)
	r.mu.Unlock()
	return r.launch(ctx), nil
}

func (r *fakeRuntime) ResumeAgent(ctx context.Context, msg runtime.AgentMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *fakeRuntime) launch(ctx context.Context) *fakeInvocation {
	inv := newFakeInvocation()
	go func() {
		select {
		case <-ctx.Done():
			inv.finish()
		case <-inv.done:
		}
	}()
	r.mu.Lock()
	r.invs = append(r.invs, inv)
	r.mu.Unlock()
	r.launched <- inv
	return inv
}

func (r *fakeRuntime) resumeRequests() []runtime.ResumeRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runtime.ResumeRequest(nil), r.resumes...)
}

func (r *fakeRuntime) agentMessages() []runtime.AgentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runtime.AgentMessage(nil), r.messages...)
}

func (r *fakeRuntime) activeInvocations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, inv := range r.invs {
		if inv.active() {
			n++
		}
	}
	return n
}

func (r *fakeRuntime) next(t *testing.T) *fakeInvocation {
	t.Helper()
	select {
	case inv := <-r.launched:
		return inv
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a runtime invocation")
		return nil
	}
}

// memStore is an in-memory state.SessionStore.
type memStore struct {
	mu      sync.Mutex
	records map[string]state.Record
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]state.Record)}
}

func (m *memStore) Save(rec state.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[rec.Session.ID] = rec
	return nil
}

func (m *memStore) Get(id string) (state.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return state.Record{}, state.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) LoadAll() ([]state.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]state.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session.ID < out[j].Session.ID })
	return out, nil
}

func (m *memStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memStore) CloseInterrupted(now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, rec := range m.records {
		if rec.Session.Status.Active() {
			rec.Session.Status = models.SessionCompleted
			rec.Session.UpdatedAt = now
			m.records[id] = rec
			ids = append(ids, id)
		}
	}
	return ids, nil
}

var errStoreDown = errors.New("store down")

type harness struct {
	sup   *Supervisor
	rt    *fakeRuntime
	store *memStore
	fs    afero.Fs
	hub   *notify.Hub
}

func newHarness(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		rt:    newFakeRuntime(),
		store: newMemStore(),
		fs:    afero.NewMemMapFs(),
	}
	h.hub = notify.NewHub(nil)
	opts := Options{
		Runtime:          h.rt,
		Store:            h.store,
		Hub:              h.hub,
		Fs:               h.fs,
		ClaudeDir:        claudeDir,
		DefaultModel:     "sonnet",
		PollInterval:     10 * time.Millisecond,
		QuietPeriod:      50 * time.Millisecond,
		FlushInterval:    20 * time.Millisecond,
		InterruptTimeout: 200 * time.Millisecond,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	sup, err := New(opts)
	require.NoError(t, err)
	h.sup = sup
	t.Cleanup(sup.Shutdown)
	return h
}

func testConfig() models.SessionConfig {
	return models.SessionConfig{
		WorkDir: "/work/project",
		Task:    "Build the reporting pipeline",
	}
}

// running creates a session and brings it to running with runtime id rtID.
func (h *harness) running(t *testing.T, cfg models.SessionConfig, rtID string) (models.Session, *fakeInvocation) {
	t.Helper()
	sess, err := h.sup.CreateSession(context.Background(), cfg)
	require.NoError(t, err)
	inv := h.rt.next(t)
	inv.emit(runtime.Event{Kind: runtime.EventInit, RuntimeSessionID: rtID})
	h.waitStatus(t, sess.ID, models.SessionRunning)
	return sess, inv
}

func (h *harness) waitStatus(t *testing.T, id string, want models.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := h.sup.Get(id)
		return err == nil && got.Status == want
	}, 2*time.Second, 5*time.Millisecond, "session %s never reached %s", id, want)
}

func (h *harness) hook(t *testing.T, ev runtime.HookEvent) {
	t.Helper()
	require.NoError(t, h.sup.HandleHook(context.Background(), ev))
}

func writeFile(t *testing.T, fsys afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
}

// Package taskstore reads and rewrites the team task records the lead agent
// keeps under the Claude data directory.
//
// Layout (relative to the Claude directory):
//
//	teams/<team>/config.json   team config naming the lead session
//	tasks/<team>/<id>.json     one record per task
//	tasks/<runtime-session>/   fallback when no team claims the session
package taskstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"

	"github.com/ShayCichocki/teamlead/internal/logging"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// ErrTaskNotFound is returned when no record in a directory carries the id.
var ErrTaskNotFound = errors.New("task not found")

// Store is pure data access over the task directories. It applies no policy.
type Store struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
}

// New creates a store rooted at the Claude data directory.
func New(fsys afero.Fs, claudeDir string, logger *slog.Logger) *Store {
	return &Store{
		fs:     fsys,
		root:   claudeDir,
		logger: logging.OrDiscard(logger).With("component", "taskstore"),
	}
}

// Fs returns the filesystem the store reads.
func (s *Store) Fs() afero.Fs { return s.fs }

// TeamsDir returns the directory holding team configs.
func (s *Store) TeamsDir() string { return filepath.Join(s.root, "teams") }

// TasksRoot returns the directory holding every task directory.
func (s *Store) TasksRoot() string { return filepath.Join(s.root, "tasks") }

// Locate resolves the task directory for a runtime session. A team whose
// config names the session as its lead wins; otherwise the per-session
// directory is used when it exists.
func (s *Store) Locate(runtimeSessionID string) (string, bool) {
	if runtimeSessionID == "" {
		return "", false
	}

	if team, ok := s.findTeam(runtimeSessionID); ok {
		return filepath.Join(s.TasksRoot(), team), true
	}

	fallback := filepath.Join(s.TasksRoot(), runtimeSessionID)
	if isDir, _ := afero.DirExists(s.fs, fallback); isDir {
		return fallback, true
	}
	return "", false
}

func (s *Store) findTeam(runtimeSessionID string) (string, bool) {
	entries, err := afero.ReadDir(s.fs, s.TeamsDir())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("teams dir read error", "error", err)
		}
		return "", false
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		team := entry.Name()
		data, err := afero.ReadFile(s.fs, filepath.Join(s.TeamsDir(), team, "config.json"))
		if err != nil {
			s.logger.Debug("team config read error", "team", team, "error", err)
			continue
		}
		if !gjson.ValidBytes(data) {
			s.logger.Debug("team config parse error", "team", team)
			continue
		}
		if leadsSession(data, runtimeSessionID) {
			return team, true
		}
	}
	return "", false
}

func leadsSession(config []byte, runtimeSessionID string) bool {
	if gjson.GetBytes(config, "leadSessionId").String() == runtimeSessionID {
		return true
	}
	found := false
	gjson.GetBytes(config, "members").ForEach(func(_, m gjson.Result) bool {
		agentType := firstString(m, "agentType", "agent_type")
		agentID := firstString(m, "agentId", "agent_id")
		if agentType == "lead" && agentID == runtimeSessionID {
			found = true
			return false
		}
		return true
	})
	return found
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v.String()
		}
	}
	return ""
}

// record is a task together with the file it was read from.
type record struct {
	task models.TeamTask
	path string
}

// List loads every task record in dir, ordered by id. Unreadable or
// malformed files are skipped; they are retried on the next call.
func (s *Store) List(dir string) ([]models.TeamTask, error) {
	records, err := s.records(dir)
	if err != nil {
		return nil, err
	}
	tasks := make([]models.TeamTask, len(records))
	for i, r := range records {
		tasks[i] = r.task
	}
	return tasks, nil
}

// ListForSession locates the session's directory and lists it.
// A session with no directory yet has no tasks.
func (s *Store) ListForSession(runtimeSessionID string) ([]models.TeamTask, error) {
	dir, ok := s.Locate(runtimeSessionID)
	if !ok {
		return nil, nil
	}
	return s.List(dir)
}

func (s *Store) records(dir string) ([]record, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read task dir %s: %w", dir, err)
	}

	var out []record
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			s.logger.Debug("task file read error", "file", path, "error", err)
			continue
		}
		var t models.TeamTask
		if err := json.Unmarshal(data, &t); err != nil {
			s.logger.Debug("task file parse error", "file", path, "error", err)
			continue
		}
		if t.ID == "" {
			t.ID = strings.TrimSuffix(entry.Name(), ".json")
		}
		out = append(out, record{task: t, path: path})
	}

	sort.Slice(out, func(i, j int) bool { return lessID(out[i].task.ID, out[j].task.ID) })
	return out, nil
}

// lessID orders numeric ids numerically and everything else lexically.
func lessID(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Raw returns the bytes of the record with the given id.
func (s *Store) Raw(dir, id string) ([]byte, error) {
	path, err := s.pathFor(dir, id)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(s.fs, path)
}

// WriteRaw atomically replaces the record with the given id. New ids are
// written to <id>.json.
func (s *Store) WriteRaw(dir, id string, data []byte) error {
	path, err := s.pathFor(dir, id)
	if errors.Is(err, ErrTaskNotFound) {
		path = filepath.Join(dir, id+".json")
	} else if err != nil {
		return err
	}
	return s.writeAtomic(path, data)
}

func (s *Store) writeAtomic(path string, data []byte) error {
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write task temp file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, path); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("rename task file: %w", err)
	}
	return nil
}

// pathFor finds the file holding id. Records are normally named <id>.json
// but the id field inside the file is authoritative.
func (s *Store) pathFor(dir, id string) (string, error) {
	direct := filepath.Join(dir, id+".json")
	if data, err := afero.ReadFile(s.fs, direct); err == nil {
		if got := gjson.GetBytes(data, "id"); !got.Exists() || got.String() == id {
			return direct, nil
		}
	}

	records, err := s.records(dir)
	if err != nil {
		return "", err
	}
	for _, r := range records {
		if r.task.ID == id {
			return r.path, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrTaskNotFound, id, dir)
}
